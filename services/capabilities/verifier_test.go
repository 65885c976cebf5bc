package capabilities

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const digest = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func signedBundle(t *testing.T, priv ed25519.PrivateKey, keyID string) map[string]interface{} {
	t.Helper()
	bundle := map[string]interface{}{
		"name":      "summarizer",
		"version":   "1.2.0",
		"artifacts": []interface{}{map[string]interface{}{"name": "model.bin", "sha256": digest}},
		"provenance": map[string]interface{}{
			"_type":         "https://in-toto.io/Statement/v1",
			"predicateType": "https://slsa.dev/provenance/v1",
		},
	}
	raw, err := CanonicalJSON(bundle)
	require.NoError(t, err)
	sig := ed25519.Sign(priv, raw)
	bundle["signatures"] = []interface{}{
		map[string]interface{}{"public_key_id": keyID, "signature": base64.StdEncoding.EncodeToString(sig)},
	}
	return bundle
}

func newKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, priv
}

func TestCanonicalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
		want  string
	}{
		{"sorted keys", map[string]interface{}{"b": 1, "a": "<x>", "c": []int{1, 2}}, `{"a":"<x>","b":1,"c":[1,2]}`},
		{"number literal kept", map[string]interface{}{"v": json.Number("1.0"), "w": json.Number("1.10")}, `{"v":1.0,"w":1.10}`},
		{"float keeps fraction", map[string]interface{}{"v": 1.0, "w": 0.25}, `{"v":1.0,"w":0.25}`},
		{"large float", []interface{}{1e16, 1e-5}, `[1e+16,1e-05]`},
		{"non ascii escaped", "café", `"caf\u00e9"`},
		{"astral plane", "🚀", `"\ud83d\ude80"`},
		{"control characters", "a\tb\x01\x7f", `"a\tb\u0001\u007f"`},
		{"quotes and slashes", `say "hi" \ a/b`, `"say \"hi\" \\ a/b"`},
		{"null and bools", []interface{}{nil, true, false}, `[null,true,false]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := CanonicalJSON(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(raw))
		})
	}

	_, err := CanonicalJSON(math.NaN())
	assert.Error(t, err)
}

func TestVerify_ExternallySignedBundle(t *testing.T) {
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{7}, ed25519.SeedSize))
	pub := priv.Public().(ed25519.PublicKey)

	// bytes as produced by sort_keys, compact separators and ASCII escaping
	signed := `{"artifacts":[{"name":"model.bin","sha256":"` + digest + `"}],"name":"caf\u00e9-tool",` +
		`"provenance":{"_type":"https://in-toto.io/Statement/v1","predicateType":"https://slsa.dev/provenance/v1"},"version":1.0}`
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte(signed)))

	body := `{"bundle":{"name":"café-tool","version":1.0,` +
		`"artifacts":[{"name":"model.bin","sha256":"` + digest + `"}],` +
		`"provenance":{"predicateType":"https://slsa.dev/provenance/v1","_type":"https://in-toto.io/Statement/v1"},` +
		`"signatures":[{"public_key_id":"k1","signature":"` + sig + `"}]},` +
		`"pubkeys":{"k1":"` + hex.EncodeToString(pub) + `"}}`

	var req VerifyRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))

	result := Verify(req)
	assert.True(t, result.SigOK, "warnings: %v", result.Warnings)
	assert.True(t, result.OK)
	assert.Equal(t, 1, result.VerifiedSignatures)

	raw, err := CanonicalJSON(map[string]interface{}(req.Bundle))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"version":1.0`)
}

func TestDecodePublicKey(t *testing.T) {
	pub, _ := newKey(t)

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"hex", hex.EncodeToString(pub), false},
		{"base64", base64.StdEncoding.EncodeToString(pub), false},
		{"short base64", base64.StdEncoding.EncodeToString(pub[:16]), true},
		{"garbage", "not a key!", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := DecodePublicKey(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, pub, key)
		})
	}
}

func TestVerifySignatures(t *testing.T) {
	pub, priv := newKey(t)
	otherPub, _ := newKey(t)
	b64 := base64.StdEncoding.EncodeToString

	t.Run("valid signature", func(t *testing.T) {
		n, warnings, err := VerifySignatures(signedBundle(t, priv, "k1"), map[string]string{"k1": b64(pub)})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Empty(t, warnings)
	})

	t.Run("unknown key is skipped", func(t *testing.T) {
		_, warnings, err := VerifySignatures(signedBundle(t, priv, "k9"), map[string]string{"k1": b64(pub)})
		assert.Error(t, err)
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0], "k9")
	})

	t.Run("wrong key fails", func(t *testing.T) {
		_, _, err := VerifySignatures(signedBundle(t, priv, "k1"), map[string]string{"k1": b64(otherPub)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not verify")
	})

	t.Run("tampered bundle fails", func(t *testing.T) {
		bundle := signedBundle(t, priv, "k1")
		bundle["version"] = "9.9.9"
		_, _, err := VerifySignatures(bundle, map[string]string{"k1": b64(pub)})
		assert.Error(t, err)
	})

	t.Run("no signatures", func(t *testing.T) {
		_, _, err := VerifySignatures(map[string]interface{}{"name": "x"}, map[string]string{"k1": b64(pub)})
		assert.Error(t, err)
	})
}

func TestCheckArtifacts(t *testing.T) {
	tests := []struct {
		name      string
		artifacts interface{}
		want      bool
	}{
		{"valid digest", []interface{}{map[string]interface{}{"sha256": digest}}, true},
		{"uppercase digest", []interface{}{map[string]interface{}{"sha256": strings.ToUpper(digest)}}, true},
		{"short digest", []interface{}{map[string]interface{}{"sha256": "abc"}}, false},
		{"missing digest", []interface{}{map[string]interface{}{"name": "x"}}, false},
		{"not an object", []interface{}{"x"}, false},
		{"no artifacts", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bundle := map[string]interface{}{}
			if tt.artifacts != nil {
				bundle["artifacts"] = tt.artifacts
			}
			assert.Equal(t, tt.want, CheckArtifacts(bundle))
		})
	}
}

func TestVerify(t *testing.T) {
	pub, priv := newKey(t)
	keys := map[string]string{"k1": base64.StdEncoding.EncodeToString(pub)}

	t.Run("all checks pass", func(t *testing.T) {
		result := Verify(VerifyRequest{Bundle: signedBundle(t, priv, "k1"), PubKeys: keys})
		assert.True(t, result.OK)
		assert.True(t, result.SigOK)
		assert.True(t, result.SBOMOK)
		assert.True(t, result.ProvOK)
		assert.NotEmpty(t, result.VerificationID)
	})

	t.Run("missing provenance", func(t *testing.T) {
		bundle := signedBundle(t, priv, "k1")
		delete(bundle, "provenance")
		result := Verify(VerifyRequest{Bundle: bundle, PubKeys: keys})
		assert.False(t, result.OK)
		assert.False(t, result.ProvOK)
		assert.False(t, result.SigOK)
		assert.NotEmpty(t, result.Warnings)
	})
}
