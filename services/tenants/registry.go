package tenants

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/avaprime/spooky-logic/internal/observability"
	"github.com/avaprime/spooky-logic/services"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// PackLoader uploads a tenant's rego policy pack
type PackLoader interface {
	LoadTenantPack(ctx context.Context, tenantID string, rego []byte) (bool, error)
}

// RegisterRequest registers a tenant, optionally with a policy pack
type RegisterRequest struct {
	Config
	PolicyPack string `json:"policy_pack,omitempty"`
}

// RegisterResult reports the registered tenant
type RegisterResult struct {
	Tenant       State  `json:"tenant"`
	Config       Config `json:"config"`
	PolicyLoaded *bool  `json:"policy_loaded,omitempty"`
}

// ResultRequest records a run outcome for a tenant
type ResultRequest struct {
	Arm   string  `json:"arm" validate:"required,oneof=control variant"`
	Score float64 `json:"score" validate:"gte=0,lte=1"`
	Cost  float64 `json:"cost" validate:"gte=0"`
}

// Registry holds the conductors keyed by tenant
type Registry struct {
	mu         sync.RWMutex
	conductors map[string]*Conductor
	packs      PackLoader
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewRegistry creates an empty registry. packs may be nil.
func NewRegistry(packs PackLoader, metrics *observability.Metrics, logger *zap.Logger) *Registry {
	return &Registry{
		conductors: make(map[string]*Conductor),
		packs:      packs,
		metrics:    metrics,
		logger:     logger,
	}
}

// Register creates or replaces the conductor of a tenant and uploads its
// policy pack when one is given
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if req.TenantID == "" {
		return nil, services.NewValidation("tenant_id is required")
	}
	conductor := NewConductor(req.Config, r.metrics, r.logger)

	r.mu.Lock()
	r.conductors[req.TenantID] = conductor
	r.mu.Unlock()

	result := &RegisterResult{Tenant: conductor.State(), Config: conductor.Config()}
	if req.PolicyPack != "" && r.packs != nil {
		ok, err := r.packs.LoadTenantPack(ctx, req.TenantID, []byte(req.PolicyPack))
		if err != nil {
			return nil, err
		}
		result.PolicyLoaded = &ok
	}

	r.logger.Info("tenant registered", zap.String("tenant", req.TenantID))
	return result, nil
}

// Get returns a tenant's conductor
func (r *Registry) Get(tenantID string) (*Conductor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conductors[tenantID]
	if !ok {
		return nil, services.NewNotFound("tenant not found", tenantID)
	}
	return c, nil
}

// Lookup returns a tenant's conductor and whether it exists
func (r *Registry) Lookup(tenantID string) (*Conductor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conductors[tenantID]
	return c, ok
}

// List returns every tenant's state ordered by id
func (r *Registry) List() []State {
	r.mu.RLock()
	out := make([]State, 0, len(r.conductors))
	for _, c := range r.conductors {
		out = append(out, c.State())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}

// RecordResult records a run outcome for a tenant
func (r *Registry) RecordResult(tenantID string, req ResultRequest) (Summary, error) {
	c, err := r.Get(tenantID)
	if err != nil {
		return Summary{}, err
	}
	c.RecordResult(req.Arm, req.Score, req.Cost)
	return c.Summarize(), nil
}

// Promote attempts a promotion for a tenant
func (r *Registry) Promote(tenantID string) (*Promotion, error) {
	c, err := r.Get(tenantID)
	if err != nil {
		return nil, err
	}
	if p := c.MaybePromote(); p != nil {
		return p, nil
	}
	return &Promotion{Promoted: false, Summary: c.Summarize()}, nil
}

type tenantsFile struct {
	Tenants []Config `yaml:"tenants"`
}

// LoadFile registers every tenant listed in a YAML file
func (r *Registry) LoadFile(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read tenant configs: %w", err)
	}
	var file tenantsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return 0, fmt.Errorf("failed to parse tenant configs: %w", err)
	}
	for _, cfg := range file.Tenants {
		if _, err := r.Register(ctx, RegisterRequest{Config: cfg}); err != nil {
			return 0, err
		}
	}
	return len(file.Tenants), nil
}
