package marketplace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/avaprime/spooky-logic/services"
	"github.com/avaprime/spooky-logic/services/capabilities"
	"github.com/avaprime/spooky-logic/services/eventbus"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Installation statuses
const (
	StatusInstalled        = "installed"
	StatusAlreadyInstalled = "already_installed"
)

// Installation health
const (
	HealthHealthy  = "healthy"
	HealthOutdated = "outdated"
	HealthOrphaned = "orphaned"
)

const (
	outdatedAfter    = 30 * 24 * time.Hour
	maxDownloadBytes = 512 << 20
	defaultPageSize  = 20
)

// PublishRequest adds a signed manifest to the catalog
type PublishRequest struct {
	Manifest     capabilities.Document `json:"manifest" validate:"required"`
	PublicKeyHex string                `json:"public_key_hex" validate:"required,hexadecimal,len=64"`
}

// InstallRequest installs a package from the catalog
type InstallRequest struct {
	PackageName     string `json:"package_name" validate:"required,max=100"`
	Version         string `json:"version,omitempty"`
	DestDir         string `json:"destination_directory,omitempty"`
	VerifySignature bool   `json:"verify_signature"`
	AutoUpdate      bool   `json:"auto_update"`
}

// InstallResponse reports the outcome of an install
type InstallResponse struct {
	InstallationID   string    `json:"installation_id"`
	PackageName      string    `json:"package_name"`
	Version          string    `json:"version"`
	Status           string    `json:"status"`
	Message          string    `json:"message"`
	InstallPath      string    `json:"install_path"`
	InstalledAt      time.Time `json:"installed_at"`
	ChecksumVerified bool      `json:"checksum_verified"`
	FileSizeBytes    int64     `json:"file_size_bytes,omitempty"`
}

// SearchRequest filters the catalog
type SearchRequest struct {
	Query    string `json:"query,omitempty"`
	Category string `json:"category,omitempty"`
	Author   string `json:"author,omitempty"`
	Page     int    `json:"page,omitempty" validate:"omitempty,gte=1"`
	Limit    int    `json:"limit,omitempty" validate:"omitempty,gte=1,lte=100"`
}

// SearchResponse is one page of search results
type SearchResponse struct {
	Packages   []Manifest `json:"packages"`
	TotalCount int        `json:"total_count"`
	Page       int        `json:"page"`
	Limit      int        `json:"limit"`
	HasMore    bool       `json:"has_more"`
}

// ListResponse is the whole catalog grouped by category
type ListResponse struct {
	Packages           []Manifest            `json:"packages"`
	TotalCount         int                   `json:"total_count"`
	Categories         []string              `json:"categories"`
	PackagesByCategory map[string][]Manifest `json:"packages_by_category"`
}

// StatusRequest looks up an installation by id or package name
type StatusRequest struct {
	InstallationID string `json:"installation_id,omitempty"`
	PackageName    string `json:"package_name,omitempty"`
}

// StatusResponse describes an installation and its health
type StatusResponse struct {
	InstallationID   string    `json:"installation_id"`
	PackageName      string    `json:"package_name"`
	Version          string    `json:"version"`
	Status           string    `json:"status"`
	InstallPath      string    `json:"install_path"`
	InstalledAt      time.Time `json:"installed_at"`
	LastUpdated      time.Time `json:"last_updated"`
	HealthStatus     string    `json:"health_status"`
	PackageAvailable bool      `json:"package_available"`
	AutoUpdate       bool      `json:"auto_update_enabled"`
}

type installation struct {
	id          string
	pkg         string
	version     string
	status      string
	installPath string
	installedAt time.Time
	autoUpdate  bool
}

// Service manages the catalog and local installations
type Service struct {
	catalog    *Catalog
	installDir string
	httpClient *http.Client
	publisher  eventbus.Publisher

	mu        sync.Mutex
	installed map[string]*installation // keyed by name-version

	now    func() time.Time
	logger *zap.Logger
}

// NewService creates a new marketplace Service
func NewService(catalog *Catalog, installDir string, timeout time.Duration, publisher eventbus.Publisher, logger *zap.Logger) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		catalog:    catalog,
		installDir: installDir,
		httpClient: &http.Client{Timeout: timeout},
		publisher:  publisher,
		installed:  make(map[string]*installation),
		now:        time.Now,
		logger:     logger,
	}
}

// Catalog returns the package catalog
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// Publish verifies a signed manifest and adds it to the catalog
func (s *Service) Publish(ctx context.Context, req PublishRequest) (Manifest, error) {
	if err := VerifyManifest(req.Manifest, req.PublicKeyHex); err != nil {
		return Manifest{}, err
	}
	m, err := decodeManifest(req.Manifest)
	if err != nil {
		return Manifest{}, err
	}
	if m.Name == "" || m.Version == "" {
		return Manifest{}, services.NewValidation("manifest name and version are required")
	}
	if m.PublicKey == "" {
		m.PublicKey = req.PublicKeyHex
	}

	now := s.now().UTC()
	if existing, ok := s.catalog.Get(m.Name); ok {
		m.CreatedAt = existing.CreatedAt
	} else if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	s.catalog.Put(m)

	s.logger.Info("package published",
		zap.String("package", m.Name),
		zap.String("version", m.Version),
		zap.String("author", m.Author))
	return m, nil
}

// Unpublish removes a package from the catalog. Existing installations
// become orphaned.
func (s *Service) Unpublish(ctx context.Context, name string) error {
	if !s.catalog.Delete(name) {
		return services.NewDomainError(services.ErrorTypeNotFound, "Package not found in marketplace", nil).
			WithDetail("package_name", name)
	}
	s.logger.Info("package unpublished", zap.String("package", name))
	return nil
}

// Install installs the catalog version of a package. Installing the same
// version twice reports already_installed with the first installation.
func (s *Service) Install(ctx context.Context, req InstallRequest) (*InstallResponse, error) {
	m, ok := s.catalog.Get(req.PackageName)
	if !ok {
		return nil, services.NewDomainError(services.ErrorTypeNotFound, "Package not found in marketplace", nil).
			WithDetail("package_name", req.PackageName)
	}
	if req.Version != "" && req.Version != m.Version {
		return nil, services.NewValidation(fmt.Sprintf("Version %s not available", req.Version))
	}

	key := m.Name + "-" + m.Version
	s.mu.Lock()
	if existing, ok := s.installed[key]; ok && existing.status == StatusInstalled {
		s.mu.Unlock()
		return &InstallResponse{
			InstallationID: existing.id,
			PackageName:    existing.pkg,
			Version:        existing.version,
			Status:         StatusAlreadyInstalled,
			Message:        "Package is already installed",
			InstallPath:    existing.installPath,
			InstalledAt:    existing.installedAt,
		}, nil
	}
	s.mu.Unlock()

	if req.VerifySignature {
		if m.Signature == "" {
			s.logger.Warn("installing unsigned package", zap.String("package", m.Name))
		} else if err := VerifyManifest(m.signed(), m.PublicKey); err != nil {
			return nil, err
		}
	}

	installPath, err := s.installPath(req.DestDir, m.Name)
	if err != nil {
		return nil, err
	}

	resp := &InstallResponse{
		PackageName: m.Name,
		Version:     m.Version,
		Status:      StatusInstalled,
		Message:     "Package successfully installed",
		InstallPath: installPath,
	}

	if sum, ok := m.SHA256(); ok && m.DownloadURL != "" {
		size, err := s.download(ctx, m.DownloadURL, sum, installPath)
		if err != nil {
			return nil, err
		}
		resp.ChecksumVerified = true
		resp.FileSizeBytes = size
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.installed[key]; ok && existing.status == StatusInstalled {
		resp.InstallationID = existing.id
		resp.Status = StatusAlreadyInstalled
		resp.Message = "Package is already installed"
		resp.InstalledAt = existing.installedAt
		return resp, nil
	}
	inst := &installation{
		id:          uuid.NewString(),
		pkg:         m.Name,
		version:     m.Version,
		status:      StatusInstalled,
		installPath: installPath,
		installedAt: s.now().UTC(),
		autoUpdate:  req.AutoUpdate,
	}
	s.installed[key] = inst
	resp.InstallationID = inst.id
	resp.InstalledAt = inst.installedAt

	s.logger.Info("package installed",
		zap.String("package", m.Name),
		zap.String("version", m.Version),
		zap.String("installation_id", inst.id),
		zap.String("install_path", installPath))

	if s.publisher != nil {
		event := eventbus.NewEvent(eventbus.EventPackageInstalled, "marketplace", map[string]interface{}{
			"installation_id": inst.id,
			"package_name":    m.Name,
			"version":         m.Version,
		})
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("failed to publish install event", zap.Error(err))
		}
	}
	return resp, nil
}

// download fetches the artifact, checks its sha256 and writes it under dir
func (s *Service) download(ctx context.Context, rawURL, wantSum, dir string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, services.NewValidation(fmt.Sprintf("invalid download url: %v", err))
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, services.WrapExternal("artifact download failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, services.NewDomainError(services.ErrorTypeExternal,
			fmt.Sprintf("artifact download returned status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return 0, services.WrapExternal("artifact download failed", err)
	}
	digest := sha256.Sum256(body)
	if got := hex.EncodeToString(digest[:]); got != wantSum {
		return 0, services.NewDomainError(services.ErrorTypePolicyViolation, "checksum mismatch", nil).
			WithDetail("expected", wantSum).
			WithDetail("actual", got)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, services.WrapInternal("failed to create install directory", err)
	}
	if err := os.WriteFile(filepath.Join(dir, artifactName(rawURL)), body, 0o644); err != nil {
		return 0, services.WrapInternal("failed to write artifact", err)
	}
	return int64(len(body)), nil
}

// installPath resolves a package directory below installDir. destDir is
// relative to installDir; absolute paths and paths escaping it are rejected.
func (s *Service) installPath(destDir, name string) (string, error) {
	if filepath.IsAbs(destDir) {
		return "", services.NewValidation("destination_directory must be relative to the install directory").
			WithDetail("destination_directory", destDir)
	}
	root := filepath.Clean(s.installDir)
	target := filepath.Join(root, destDir, name)
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", services.NewValidation("destination_directory escapes the install directory").
			WithDetail("destination_directory", destDir)
	}
	return target, nil
}

func artifactName(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			return base
		}
	}
	return "artifact"
}

// Search filters the catalog by query (name or description), category and
// author, one page at a time
func (s *Service) Search(ctx context.Context, req SearchRequest) SearchResponse {
	page := max(req.Page, 1)
	limit := req.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	query := strings.ToLower(req.Query)

	var matched []Manifest
	for _, m := range s.catalog.All() {
		if query != "" && !strings.Contains(strings.ToLower(m.Name), query) &&
			!strings.Contains(strings.ToLower(m.Description), query) {
			continue
		}
		if req.Category != "" && req.Category != m.Category {
			continue
		}
		if req.Author != "" && !strings.EqualFold(req.Author, m.Author) {
			continue
		}
		matched = append(matched, m)
	}

	start := min((page-1)*limit, len(matched))
	end := min(start+limit, len(matched))
	return SearchResponse{
		Packages:   append([]Manifest{}, matched[start:end]...),
		TotalCount: len(matched),
		Page:       page,
		Limit:      limit,
		HasMore:    (page-1)*limit+limit < len(matched),
	}
}

// List returns every package grouped by category
func (s *Service) List(ctx context.Context) ListResponse {
	all := s.catalog.All()
	byCategory := make(map[string][]Manifest)
	for _, m := range all {
		byCategory[m.Category] = append(byCategory[m.Category], m)
	}
	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	return ListResponse{
		Packages:           all,
		TotalCount:         len(all),
		Categories:         categories,
		PackagesByCategory: byCategory,
	}
}

// Status reports an installation found by id, or the latest installation
// of a package by name
func (s *Service) Status(ctx context.Context, req StatusRequest) (*StatusResponse, error) {
	s.mu.Lock()
	var found *installation
	for _, inst := range s.installed {
		switch {
		case req.InstallationID != "":
			if inst.id == req.InstallationID {
				found = inst
			}
		case req.PackageName != "":
			if inst.pkg == req.PackageName && (found == nil || inst.installedAt.After(found.installedAt)) {
				found = inst
			}
		}
	}
	var snapshot installation
	if found != nil {
		snapshot = *found
	}
	s.mu.Unlock()

	if found == nil {
		return nil, services.NewDomainError(services.ErrorTypeNotFound, "Installation not found", nil)
	}

	_, available := s.catalog.Get(snapshot.pkg)
	health := HealthHealthy
	switch {
	case s.now().Sub(snapshot.installedAt) > outdatedAfter:
		health = HealthOutdated
	case !available:
		health = HealthOrphaned
	}

	return &StatusResponse{
		InstallationID:   snapshot.id,
		PackageName:      snapshot.pkg,
		Version:          snapshot.version,
		Status:           snapshot.status,
		InstallPath:      snapshot.installPath,
		InstalledAt:      snapshot.installedAt,
		LastUpdated:      snapshot.installedAt,
		HealthStatus:     health,
		PackageAvailable: available,
		AutoUpdate:       snapshot.autoUpdate,
	}, nil
}
