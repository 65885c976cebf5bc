package capabilities

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/avaprime/spooky-logic/utils"
	"github.com/google/uuid"
)

// Signature is one detached signature over the canonical bundle
type Signature struct {
	PublicKeyID string `json:"public_key_id"`
	Signature   string `json:"signature"` // base64
}

// VerifyRequest carries a bundle and the trusted keys to check it against
type VerifyRequest struct {
	Bundle  Document          `json:"bundle" validate:"required"`
	PubKeys map[string]string `json:"pubkeys" validate:"required,min=1"`
}

// VerificationResult reports each check of a bundle
type VerificationResult struct {
	VerificationID     string   `json:"verification_id"`
	OK                 bool     `json:"ok"`
	SigOK              bool     `json:"sig_ok"`
	SBOMOK             bool     `json:"sbom_ok"`
	ProvOK             bool     `json:"prov_ok"`
	VerifiedSignatures int      `json:"verified_signatures"`
	Warnings           []string `json:"warnings,omitempty"`
}

// DecodePublicKey accepts a hex or base64 encoded ed25519 public key
func DecodePublicKey(s string) (ed25519.PublicKey, error) {
	if len(s) == hex.EncodedLen(ed25519.PublicKeySize) {
		if raw, err := hex.DecodeString(s); err == nil {
			return ed25519.PublicKey(raw), nil
		}
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("public key is neither hex nor base64: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key has %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// VerifySignatures checks the bundle signatures against pubkeys. Signatures
// from unknown key ids are skipped; any signature that fails makes the whole
// check fail. At least one signature must verify.
func VerifySignatures(bundle map[string]interface{}, pubkeys map[string]string) (int, []string, error) {
	payload := make(map[string]interface{}, len(bundle))
	for k, v := range bundle {
		if k != "signatures" {
			payload[k] = v
		}
	}
	raw, err := CanonicalJSON(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to canonicalize bundle: %w", err)
	}

	var sigs []Signature
	if v, ok := bundle["signatures"]; ok {
		encoded, err := json.Marshal(v)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to read signatures: %w", err)
		}
		if err := json.Unmarshal(encoded, &sigs); err != nil {
			return 0, nil, fmt.Errorf("malformed signatures: %w", err)
		}
	}

	var warnings []string
	verified := 0
	for _, sig := range sigs {
		keyStr, ok := pubkeys[sig.PublicKeyID]
		if !ok || keyStr == "" {
			warnings = append(warnings, fmt.Sprintf("no trusted key for %q", sig.PublicKeyID))
			continue
		}
		key, err := DecodePublicKey(keyStr)
		if err != nil {
			return 0, warnings, fmt.Errorf("key %q: %w", sig.PublicKeyID, err)
		}
		sigBytes, err := base64.StdEncoding.DecodeString(sig.Signature)
		if err != nil {
			return 0, warnings, fmt.Errorf("signature from %q is not base64: %w", sig.PublicKeyID, err)
		}
		if !ed25519.Verify(key, raw, sigBytes) {
			return 0, warnings, fmt.Errorf("signature from %q does not verify", sig.PublicKeyID)
		}
		verified++
	}

	if verified == 0 {
		return 0, warnings, fmt.Errorf("no signature verified")
	}
	return verified, warnings, nil
}

// CheckArtifacts requires every artifact to carry a 64 character hex sha256
func CheckArtifacts(bundle map[string]interface{}) bool {
	artifacts, _ := bundle["artifacts"].([]interface{})
	for _, a := range artifacts {
		m, ok := a.(map[string]interface{})
		if !ok {
			return false
		}
		digest, _ := m["sha256"].(string)
		if !utils.IsSHA256Hex(digest) {
			return false
		}
	}
	return true
}

// ProvenanceOK requires an in-toto style statement with _type and predicateType
func ProvenanceOK(bundle map[string]interface{}) bool {
	prov, ok := bundle["provenance"].(map[string]interface{})
	if !ok {
		return false
	}
	_, hasType := prov["_type"]
	_, hasPredicate := prov["predicateType"]
	return hasType && hasPredicate
}

// Verify runs the signature, SBOM and provenance checks
func Verify(req VerifyRequest) *VerificationResult {
	result := &VerificationResult{VerificationID: uuid.NewString()}

	verified, warnings, err := VerifySignatures(req.Bundle, req.PubKeys)
	result.Warnings = warnings
	if err != nil {
		result.Warnings = append(result.Warnings, err.Error())
	}
	result.VerifiedSignatures = verified
	result.SigOK = err == nil

	result.SBOMOK = CheckArtifacts(req.Bundle)
	if !result.SBOMOK {
		result.Warnings = append(result.Warnings, "artifact without valid sha256")
	}
	result.ProvOK = ProvenanceOK(req.Bundle)
	if !result.ProvOK {
		result.Warnings = append(result.Warnings, "provenance missing _type or predicateType")
	}

	result.OK = result.SigOK && result.SBOMOK && result.ProvOK
	return result
}
