package supplychain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/avaprime/spooky-logic/config"
	"go.uber.org/zap"
)

// Runner executes an external command and returns its combined output
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct {
	Timeout time.Duration
}

// Run executes name with args, bounded by the runner timeout
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.Bytes(), fmt.Errorf("%s: %w", name, err)
	}
	return out.Bytes(), nil
}

// ToolResult is the outcome of a cosign or rekor invocation
type ToolResult struct {
	OK       bool        `json:"ok"`
	Included *bool       `json:"included,omitempty"`
	Details  interface{} `json:"details,omitempty"`
	Output   string      `json:"output,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// VerifyBlobRequest verifies a detached blob signature
type VerifyBlobRequest struct {
	ArtifactPath  string `json:"artifact_path" validate:"required"`
	SignaturePath string `json:"signature_path" validate:"required"`
	PublicKeyPath string `json:"public_key_path" validate:"required"`
}

// VerifyAttestationRequest verifies the attestation of an image
type VerifyAttestationRequest struct {
	ImageRef      string `json:"image_ref" validate:"required"`
	PublicKeyPath string `json:"public_key_path" validate:"required"`
}

// SignBlobRequest signs an artifact
type SignBlobRequest struct {
	ArtifactPath string `json:"artifact_path" validate:"required"`
	SignatureOut string `json:"signature_out" validate:"required"`
}

// RekorRequest looks up an artifact digest in the transparency log
type RekorRequest struct {
	SHA256 string `json:"sha256" validate:"required,sha256hex"`
}

// Tools wraps the cosign and rekor-cli binaries
type Tools struct {
	runner    Runner
	cosignBin string
	keyRef    string
	rekorCLI  string
	rekorURL  string
	logger    *zap.Logger
}

// NewTools creates Tools from configuration
func NewTools(cfg config.SupplychainConfig, runner Runner, logger *zap.Logger) *Tools {
	t := &Tools{
		runner:    runner,
		cosignBin: cfg.CosignBin,
		keyRef:    cfg.CosignKeyRef,
		rekorCLI:  cfg.RekorCLI,
		rekorURL:  cfg.RekorURL,
		logger:    logger,
	}
	if t.cosignBin == "" {
		t.cosignBin = "cosign"
	}
	if t.keyRef == "" {
		t.keyRef = "cosign.key"
	}
	if t.rekorCLI == "" {
		t.rekorCLI = "rekor-cli"
	}
	if t.rekorURL == "" {
		t.rekorURL = "https://rekor.sigstore.dev"
	}
	return t
}

// VerifyBlob runs cosign verify-blob
func (t *Tools) VerifyBlob(ctx context.Context, req VerifyBlobRequest) ToolResult {
	return t.runJSON(ctx, t.cosignBin,
		"verify-blob", "--key", req.PublicKeyPath, "--signature", req.SignaturePath, req.ArtifactPath, "--output", "json")
}

// VerifyAttestation runs cosign verify-attestation
func (t *Tools) VerifyAttestation(ctx context.Context, req VerifyAttestationRequest) ToolResult {
	return t.runJSON(ctx, t.cosignBin,
		"verify-attestation", "--key", req.PublicKeyPath, req.ImageRef, "--output", "json")
}

// SignBlob runs cosign sign-blob with the configured key
func (t *Tools) SignBlob(ctx context.Context, req SignBlobRequest) ToolResult {
	out, err := t.runner.Run(ctx, t.cosignBin,
		"sign-blob", "--key", t.keyRef, "--output-signature", req.SignatureOut, req.ArtifactPath)
	if err != nil {
		t.logger.Warn("cosign sign-blob failed", zap.String("artifact", req.ArtifactPath), zap.Error(err))
		return ToolResult{OK: false, Error: errorText(out, err)}
	}
	return ToolResult{OK: true, Output: string(out)}
}

// RekorInclusion looks the digest up with rekor-cli get. A returned entry
// counts as included; the inclusion proof itself is not checked.
func (t *Tools) RekorInclusion(ctx context.Context, req RekorRequest) ToolResult {
	res := t.runJSON(ctx, t.rekorCLI,
		"get", "--rekor_server", t.rekorURL, "--sha", req.SHA256, "--format", "json")
	included := res.OK
	res.Included = &included
	return res
}

func (t *Tools) runJSON(ctx context.Context, name string, args ...string) ToolResult {
	out, err := t.runner.Run(ctx, name, args...)
	if err != nil {
		t.logger.Warn("supply chain tool failed",
			zap.String("tool", name),
			zap.String("command", args[0]),
			zap.Error(err))
		return ToolResult{OK: false, Error: errorText(out, err)}
	}

	var details interface{} = map[string]interface{}{}
	if trimmed := bytes.TrimSpace(out); len(trimmed) > 0 {
		if err := json.Unmarshal(trimmed, &details); err != nil {
			return ToolResult{OK: false, Error: fmt.Sprintf("unparseable %s output: %v", name, err)}
		}
	}
	return ToolResult{OK: true, Details: details}
}

func errorText(out []byte, err error) string {
	if s := strings.TrimSpace(string(out)); s != "" {
		return s
	}
	return err.Error()
}
