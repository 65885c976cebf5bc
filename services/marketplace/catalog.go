// Package marketplace serves the capability package catalog and installs
// packages onto the local node.
package marketplace

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/avaprime/spooky-logic/services"
	"github.com/avaprime/spooky-logic/services/capabilities"
)

// Manifest describes a published package
type Manifest struct {
	Name         string    `json:"name" validate:"required,max=100"`
	Version      string    `json:"version" validate:"required"`
	Description  string    `json:"description" validate:"max=2000"`
	Category     string    `json:"category" validate:"required"`
	Author       string    `json:"author" validate:"required"`
	PublicKey    string    `json:"public_key,omitempty"`
	Capabilities []string  `json:"capabilities,omitempty"`
	Dependencies []string  `json:"dependencies,omitempty"`
	SizeMB       float64   `json:"size_mb,omitempty"`
	DownloadURL  string    `json:"download_url,omitempty" validate:"omitempty,url"`
	Checksum     string    `json:"checksum,omitempty"`
	Signature    string    `json:"signature,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// the document as published, which is what the signature covers
	raw map[string]interface{}
}

func (m Manifest) signed() map[string]interface{} {
	if m.raw != nil {
		return m.raw
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	var raw capabilities.Document
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	return raw
}

// SHA256 returns the hex digest carried by the checksum, accepting an
// optional "sha256:" prefix. ok is false when no full digest is present.
func (m Manifest) SHA256() (string, bool) {
	sum := strings.ToLower(strings.TrimPrefix(m.Checksum, "sha256:"))
	if len(sum) != hex.EncodedLen(32) {
		return "", false
	}
	if _, err := hex.DecodeString(sum); err != nil {
		return "", false
	}
	return sum, true
}

// VerifyManifest checks an ed25519 signature over the canonical JSON of the
// manifest without its signature field. The public key is hex encoded and
// the signature base64 encoded.
func VerifyManifest(manifest map[string]interface{}, publicKeyHex string) error {
	sigB64, _ := manifest["signature"].(string)
	if sigB64 == "" {
		return services.NewDomainError(services.ErrorTypePolicyViolation, "manifest is not signed", nil)
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return services.NewDomainError(services.ErrorTypeValidation, "signature is not valid base64", err)
	}
	key, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(key) != ed25519.PublicKeySize {
		return services.NewValidation("public key must be a hex encoded ed25519 key")
	}

	payload := make(map[string]interface{}, len(manifest))
	for k, v := range manifest {
		if k != "signature" {
			payload[k] = v
		}
	}
	raw, err := capabilities.CanonicalJSON(payload)
	if err != nil {
		return fmt.Errorf("failed to canonicalize manifest: %w", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(key), raw, sig) {
		return services.NewDomainError(services.ErrorTypePolicyViolation, "signature verification failed", nil)
	}
	return nil
}

// Catalog holds the packages available for install, keyed by name
type Catalog struct {
	mu       sync.RWMutex
	packages map[string]Manifest
}

// NewCatalog creates a catalog holding the given manifests
func NewCatalog(manifests ...Manifest) *Catalog {
	c := &Catalog{packages: make(map[string]Manifest, len(manifests))}
	for _, m := range manifests {
		c.packages[m.Name] = m
	}
	return c
}

// DefaultCatalog is the catalog a fresh node starts with
func DefaultCatalog(now time.Time) *Catalog {
	return NewCatalog(
		Manifest{
			Name:         "ml-toolkit",
			Version:      "1.0.0",
			Description:  "Machine learning utilities and algorithms",
			Category:     "ml",
			Author:       "ML Team",
			Capabilities: []string{"training", "inference", "evaluation"},
			Dependencies: []string{"numpy>=1.20.0", "scikit-learn>=1.0.0"},
			SizeMB:       45.2,
			DownloadURL:  "https://marketplace.example.com/packages/ml-toolkit-1.0.0.tar.gz",
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		Manifest{
			Name:         "data-processor",
			Version:      "2.1.0",
			Description:  "Advanced data processing and transformation tools",
			Category:     "data",
			Author:       "Data Team",
			Capabilities: []string{"etl", "validation", "transformation"},
			Dependencies: []string{"pandas>=1.3.0", "pydantic>=1.8.0"},
			SizeMB:       32.8,
			DownloadURL:  "https://marketplace.example.com/packages/data-processor-2.1.0.tar.gz",
			CreatedAt:    now,
			UpdatedAt:    now,
		},
	)
}

// Get returns the manifest of a package
func (c *Catalog) Get(name string) (Manifest, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.packages[name]
	return m, ok
}

// Put adds or replaces a package
func (c *Catalog) Put(m Manifest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packages[m.Name] = m
}

// Delete removes a package, reporting whether it existed
func (c *Catalog) Delete(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.packages[name]
	delete(c.packages, name)
	return ok
}

// All returns every manifest ordered by name
func (c *Catalog) All() []Manifest {
	c.mu.RLock()
	out := make([]Manifest, 0, len(c.packages))
	for _, m := range c.packages {
		out = append(out, m)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func decodeManifest(raw map[string]interface{}) (Manifest, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to encode manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, services.NewDomainError(services.ErrorTypeValidation, "invalid manifest", err)
	}
	m.raw = raw
	return m, nil
}
