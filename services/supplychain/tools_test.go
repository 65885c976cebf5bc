package supplychain

import (
	"context"
	"errors"
	"testing"

	"github.com/avaprime/spooky-logic/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	called := m.Called(name, args)
	out, _ := called.Get(0).([]byte)
	return out, called.Error(1)
}

func newTools(runner Runner) *Tools {
	return NewTools(config.SupplychainConfig{RekorURL: "https://rekor.test"}, runner, zap.NewNop())
}

func TestTools_VerifyBlob(t *testing.T) {
	args := []string{"verify-blob", "--key", "k.pub", "--signature", "a.sig", "a.bin", "--output", "json"}

	t.Run("success", func(t *testing.T) {
		runner := new(MockRunner)
		runner.On("Run", "cosign", args).Return([]byte(`{"verified":true}`), nil)

		res := newTools(runner).VerifyBlob(context.Background(), VerifyBlobRequest{
			ArtifactPath: "a.bin", SignaturePath: "a.sig", PublicKeyPath: "k.pub",
		})
		assert.True(t, res.OK)
		assert.Equal(t, map[string]interface{}{"verified": true}, res.Details)
		runner.AssertExpectations(t)
	})

	t.Run("failure carries tool output", func(t *testing.T) {
		runner := new(MockRunner)
		runner.On("Run", "cosign", args).Return([]byte("invalid signature\n"), errors.New("exit status 1"))

		res := newTools(runner).VerifyBlob(context.Background(), VerifyBlobRequest{
			ArtifactPath: "a.bin", SignaturePath: "a.sig", PublicKeyPath: "k.pub",
		})
		assert.False(t, res.OK)
		assert.Equal(t, "invalid signature", res.Error)
	})

	t.Run("empty output", func(t *testing.T) {
		runner := new(MockRunner)
		runner.On("Run", "cosign", args).Return([]byte(""), nil)

		res := newTools(runner).VerifyBlob(context.Background(), VerifyBlobRequest{
			ArtifactPath: "a.bin", SignaturePath: "a.sig", PublicKeyPath: "k.pub",
		})
		assert.True(t, res.OK)
	})
}

func TestTools_SignBlob(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", "cosign", []string{"sign-blob", "--key", "cosign.key", "--output-signature", "out.sig", "a.bin"}).
		Return([]byte("Wrote signature"), nil)

	res := newTools(runner).SignBlob(context.Background(), SignBlobRequest{ArtifactPath: "a.bin", SignatureOut: "out.sig"})
	assert.True(t, res.OK)
	assert.Equal(t, "Wrote signature", res.Output)
}

func TestTools_RekorInclusion(t *testing.T) {
	sha := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	args := []string{"get", "--rekor_server", "https://rekor.test", "--sha", sha, "--format", "json"}

	t.Run("entry found", func(t *testing.T) {
		runner := new(MockRunner)
		runner.On("Run", "rekor-cli", args).Return([]byte(`{"LogIndex":12}`), nil)

		res := newTools(runner).RekorInclusion(context.Background(), RekorRequest{SHA256: sha})
		assert.True(t, res.OK)
		require.NotNil(t, res.Included)
		assert.True(t, *res.Included)
	})

	t.Run("no entry", func(t *testing.T) {
		runner := new(MockRunner)
		runner.On("Run", "rekor-cli", args).Return([]byte("entry not found"), errors.New("exit status 1"))

		res := newTools(runner).RekorInclusion(context.Background(), RekorRequest{SHA256: sha})
		assert.False(t, res.OK)
		require.NotNil(t, res.Included)
		assert.False(t, *res.Included)
		assert.Equal(t, "entry not found", res.Error)
	})
}

func TestExecRunner_Run(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), "spooky-definitely-missing-binary")
	assert.Error(t, err)
}
