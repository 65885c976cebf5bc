package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/avaprime/spooky-logic/config"
	"github.com/avaprime/spooky-logic/handlers"
	"github.com/avaprime/spooky-logic/internal/observability"
	"github.com/avaprime/spooky-logic/middleware"
	"github.com/avaprime/spooky-logic/models"
	"github.com/avaprime/spooky-logic/repositories"
	"github.com/avaprime/spooky-logic/repositories/postgres"
	"github.com/avaprime/spooky-logic/repositories/sqlite"
	"github.com/avaprime/spooky-logic/services/absorption"
	"github.com/avaprime/spooky-logic/services/capabilities"
	"github.com/avaprime/spooky-logic/services/eventbus"
	"github.com/avaprime/spooky-logic/services/experiments"
	"github.com/avaprime/spooky-logic/services/federation"
	"github.com/avaprime/spooky-logic/services/governance"
	"github.com/avaprime/spooky-logic/services/llm"
	"github.com/avaprime/spooky-logic/services/marketplace"
	"github.com/avaprime/spooky-logic/services/opa"
	"github.com/avaprime/spooky-logic/services/orchestration"
	"github.com/avaprime/spooky-logic/services/playbook"
	"github.com/avaprime/spooky-logic/services/policy"
	"github.com/avaprime/spooky-logic/services/rollback"
	"github.com/avaprime/spooky-logic/services/routing"
	"github.com/avaprime/spooky-logic/services/supplychain"
	"github.com/avaprime/spooky-logic/services/tenants"
	"go.uber.org/zap"
)

// rollbackTick is how often active rollback plans are checked
const rollbackTick = time.Second

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Tracer  *observability.TracerProvider
	DB      *postgres.DB

	RepoFactory      *postgres.RepositoryFactory
	governanceSQLite *sqlite.GovernanceRepository
	Bus              *eventbus.Instrumented
	OPA              *opa.Client

	// Governance
	Governance *governance.Service
	Syncer     *governance.Syncer

	// Orchestration
	LLM          llm.Client
	Playbooks    *playbook.Loader
	Executor     *playbook.Executor
	Router       *routing.Router
	RoutingState *routing.State
	Weights      *routing.WeightStore
	Pool         *orchestration.Pool
	Orchestrator *orchestration.Service

	// Adaptive policies
	RunMetrics   *policy.RunMetrics
	PolicyEngine *policy.Engine
	AdaptiveLoop *orchestration.AdaptiveLoop

	// Tenants and experiments
	Tenants          *tenants.Registry
	Experiments      *experiments.Manager
	Sampler          *experiments.Sampler
	ExperimentsStore *experiments.StoreService
	Federation       *federation.Aggregator

	// Capabilities
	Capabilities *capabilities.Service
	Canary       *capabilities.CanaryController
	Shadow       *capabilities.ShadowTrialRunner
	Absorption   *absorption.Engine

	// Safety
	Rollback    *rollback.Controller
	Supplychain *supplychain.Tools
	Marketplace *marketplace.Service

	// HTTP
	AuthMiddleware *middleware.AuthMiddleware
	RateLimiter    *middleware.RateLimiter

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(),
	}

	steps := []struct {
		name string
		init func(context.Context) error
	}{
		{"tracing", deps.initTracing},
		{"database", deps.initDatabase},
		{"event bus", deps.initEventBus},
		{"governance", deps.initGovernance},
		{"orchestration", deps.initOrchestration},
		{"capabilities", deps.initCapabilities},
		{"safety", deps.initSafety},
	}
	for _, step := range steps {
		if err := step.init(ctx); err != nil {
			_ = deps.Close(ctx)
			return nil, fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}
	deps.initHTTP()

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

func (d *Dependencies) initTracing(ctx context.Context) error {
	obs := d.Config.Observability
	tp, err := observability.InitTracer(ctx, observability.TracingConfig{
		ServiceName:    obs.ServiceName,
		ServiceVersion: handlers.Version,
		Environment:    d.Config.Environment,
		OTLPEndpoint:   obs.TracingEndpoint,
		SampleRate:     obs.TracingSampleRate,
		Enabled:        obs.TracingEnabled,
	}, d.Logger)
	if err != nil {
		return err
	}
	d.Tracer = tp
	return nil
}

// initDatabase opens PostgreSQL when configured. Without it every store
// stays in memory.
func (d *Dependencies) initDatabase(ctx context.Context) error {
	if !d.Config.Database.Enabled {
		d.Logger.Warn("database not configured, using in-memory stores")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(d.Config.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}
	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.HealthCheck(ctx); err != nil {
		return err
	}
	if err := factory.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (d *Dependencies) initEventBus(ctx context.Context) error {
	bus, err := eventbus.New(d.Config.EventBus, d.Logger)
	if err != nil {
		return err
	}
	d.Bus = eventbus.NewInstrumented(bus, d.Metrics)
	d.OPA = opa.NewClient(d.Config.OPA, d.Logger)
	return nil
}

func (d *Dependencies) initGovernance(ctx context.Context) error {
	gcfg := d.Config.Governance

	var (
		repo  repositories.GovernanceRepository
		txMgr repositories.TransactionManager
	)
	switch {
	case gcfg.UseMemory:
	case strings.HasPrefix(gcfg.DatabaseURL, "sqlite:"):
		store, err := sqlite.Open(sqlite.PathFromURL(gcfg.DatabaseURL), d.Logger)
		if err != nil {
			return err
		}
		d.governanceSQLite = store
		if err := store.InitSchema(ctx); err != nil {
			return err
		}
		repo = store
	case d.RepoFactory != nil:
		repo = d.RepoFactory.NewRepositories().Governance
		txMgr = d.RepoFactory.GetTransactionManager()
	}

	if repo == nil {
		d.Logger.Info("governance using in-memory state")
	}
	d.Governance = governance.NewService(repo, txMgr, d.Bus, d.Metrics, gcfg.NodeID, d.Logger)
	if err := d.Governance.Load(ctx); err != nil {
		return err
	}

	if gcfg.EnableCRDT {
		d.Syncer = governance.NewSyncer(d.Governance, gcfg.SyncPeers, gcfg.SyncInterval, d.Logger)
	}
	return nil
}

func (d *Dependencies) initOrchestration(ctx context.Context) error {
	ocfg := d.Config.Orchestration

	client, err := d.newLLMClient()
	if err != nil {
		return err
	}
	d.LLM = client

	overlay, err := routing.LoadOverlay(ocfg.RouterOverlayPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		d.Logger.Warn("router overlay not found, using default candidates",
			zap.String("path", ocfg.RouterOverlayPath))
		overlay = nil
	}
	d.Router = routing.NewRouter(overlay, d.Logger)
	d.RoutingState = routing.NewState(d.Router, d.Logger)
	if d.Weights, err = routing.NewWeightStore(ocfg.RouterWeightsPath); err != nil {
		return err
	}

	d.Playbooks = playbook.NewLoader(ocfg.PlaybookDir)
	d.Executor = playbook.NewExecutor(d.Playbooks, d.LLM, playbook.EchoRetriever{},
		d.Metrics, d.Tracer.Tracer(), ocfg.MaxInjectionRisk, d.Logger)

	var repos *repositories.Repositories
	if d.RepoFactory != nil {
		repos = d.RepoFactory.NewRepositories()
	}

	// adaptive policies
	d.RunMetrics = policy.NewRunMetrics()
	var executions repositories.PolicyExecutionRepository
	if repos != nil {
		executions = repos.PolicyExecutions
	}
	learner := policy.NewLearner(executions, d.Logger)
	d.PolicyEngine = policy.NewEngine(d.RunMetrics, d.RoutingState, learner, d.Bus, d.Metrics, d.Logger)
	if path := d.Config.Governance.PolicyConfigPath; path != "" {
		n, err := d.PolicyEngine.LoadFromYAML(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			d.Logger.Warn("policy rules file not found", zap.String("path", path))
		case err != nil:
			return err
		default:
			d.Logger.Info("policy rules loaded", zap.Int("count", n), zap.String("path", path))
		}
	}
	d.AdaptiveLoop = orchestration.NewAdaptiveLoop(d.PolicyEngine, ocfg.AdaptiveInterval,
		ocfg.MaxConcurrentAdaptations, d.Logger)

	// tenants and experiments
	d.Tenants = tenants.NewRegistry(d.OPA, d.Metrics, d.Logger)
	if ocfg.TenantConfigPath != "" {
		n, err := d.Tenants.LoadFile(ctx, ocfg.TenantConfigPath)
		if err != nil {
			return err
		}
		d.Logger.Info("tenant configs loaded", zap.Int("count", n))
	}

	ecfg := experiments.Config{
		PromoteUplift: d.Config.Experiments.PromoteUplift,
		MaxCostDelta:  d.Config.Experiments.MaxCostDelta,
		MinN:          d.Config.Experiments.MinN,
	}
	d.Experiments = experiments.NewManager(ecfg, d.Logger)
	d.Sampler = experiments.NewSampler(ecfg.MinN)
	if repos != nil {
		d.ExperimentsStore = experiments.NewStoreService(repos.Experiments, ecfg, d.Logger)
	}
	d.Federation = federation.NewAggregator(d.Logger)

	d.Pool = orchestration.NewPool(d.Executor, ocfg.Workers, ocfg.QueueSize, ocfg.RunTimeout, d.Metrics, d.Logger).
		WithRetention(ocfg.RunRetention, ocfg.MaxFinishedRuns)
	d.Orchestrator = orchestration.NewService(orchestration.Deps{
		Gate:        d.OPA,
		Router:      d.Router,
		Tenants:     d.Tenants,
		Pool:        d.Pool,
		Experiments: d.Experiments,
		RunMetrics:  d.RunMetrics,
		Publisher:   d.Bus,
		Metrics:     d.Metrics,
	}, ocfg.BudgetMaxUSD, ocfg.MaxInjectionRisk, d.Logger)
	return nil
}

func (d *Dependencies) newLLMClient() (llm.Client, error) {
	pcfg := d.Config.Providers
	if pcfg.UseFake {
		d.Logger.Warn("using fake LLM client")
		return llm.NewFake(uint64(time.Now().UnixNano())), nil
	}

	mapping, err := llm.LoadProviderMap(pcfg.MapPath)
	if err != nil {
		return nil, err
	}
	return llm.NewRoleClient(pcfg, mapping, d.Logger), nil
}

func (d *Dependencies) initCapabilities(ctx context.Context) error {
	timeout := d.Config.Marketplace.HTTPTimeout

	d.Absorption = absorption.NewEngine(absorption.Config{}, absorption.Deps{
		Prober:     absorption.NewHTTPProber(timeout, d.providerKey),
		Baseline:   absorption.NewLLMBaseline(d.LLM, ""),
		Integrator: d.RoutingState,
		Rules:      d.PolicyEngine,
		Publisher:  d.Bus,
	}, d.Logger)

	quarantine := capabilities.NewQuarantineManager()
	executor := capabilities.NewHTTPExecutor(d.Absorption.Endpoint, timeout)
	d.Capabilities = capabilities.NewService(quarantine, d.Bus, d.Logger)
	d.Canary = capabilities.NewCanaryController(quarantine, executor, d.Metrics, d.Logger)
	d.Shadow = capabilities.NewShadowTrialRunner(executor, d.Logger)
	return nil
}

// providerKey returns the configured API key for a capability's provider
func (d *Dependencies) providerKey(spec *absorption.Spec) string {
	switch strings.ToLower(spec.Provider) {
	case llm.ProviderOpenAI:
		return d.Config.Providers.OpenAI.APIKey
	case llm.ProviderAnthropic:
		return d.Config.Providers.Anthropic.APIKey
	case "deepseek":
		return d.Config.Providers.DeepSeek.APIKey
	}
	return ""
}

func (d *Dependencies) initSafety(ctx context.Context) error {
	d.Rollback = rollback.NewController(d.Config.Rollback.Stages, d.Config.Rollback.Interval, d.Bus, d.Logger)
	d.Supplychain = supplychain.NewTools(d.Config.Supplychain, supplychain.ExecRunner{}, d.Logger)

	installDir := d.Config.Marketplace.InstallDir
	if err := os.MkdirAll(installDir, 0o755); err != nil {
		return fmt.Errorf("failed to create install dir: %w", err)
	}
	d.Marketplace = marketplace.NewService(marketplace.DefaultCatalog(time.Now()), installDir,
		d.Config.Marketplace.HTTPTimeout, d.Bus, d.Logger)
	return nil
}

func (d *Dependencies) initHTTP() {
	var validator middleware.TokenValidator
	if d.Config.Auth.JWTSecret != "" {
		validator = middleware.NewHMACValidator(d.Config.Auth.JWTSecret, d.Config.Auth.Issuer)
	} else {
		d.Logger.Warn("auth not configured, mutating routes are unprotected")
	}
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)

	if d.Config.RateLimit.Enabled {
		d.RateLimiter = middleware.NewRateLimiter(d.Config.RateLimit.RPS, d.Config.RateLimit.Burst, d.Logger)
	}
}

// Start launches the worker pool and background loops. They stop when
// ctx is done or Close is called.
func (d *Dependencies) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)

	d.Pool.Start(ctx)
	if ttl := d.Config.OPA.CacheTTL; ttl > 0 {
		d.goLoop(func() { d.OPA.Cache().StartCleanupWorker(ttl, ctx.Done()) })
	}

	d.goLoop(func() { d.Rollback.Run(ctx, rollbackTick) })
	d.goLoop(func() { d.Absorption.Run(ctx) })
	d.goLoop(func() { d.subscribe(ctx) })
	if d.Config.Governance.EnableLearning {
		d.goLoop(func() { d.AdaptiveLoop.Run(ctx) })
	}
	if d.Syncer != nil {
		d.goLoop(func() { d.Syncer.Run(ctx) })
	}
	d.Logger.Info("background workers started", zap.Int("workers", d.Config.Orchestration.Workers))
}

func (d *Dependencies) goLoop(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

// subscribe reacts to events from this and other nodes
func (d *Dependencies) subscribe(ctx context.Context) {
	if err := d.Bus.Subscribe(ctx, d.HandleEvent); err != nil && ctx.Err() == nil {
		d.Logger.Error("event subscription ended", zap.Error(err))
	}
}

// HandleEvent starts a staged rollback when governance suspends a
// capability
func (d *Dependencies) HandleEvent(ctx context.Context, event eventbus.Event) error {
	if event.Type != eventbus.EventGovernanceExecuted {
		return nil
	}
	action, _ := event.Data["action"].(string)
	capabilityID, _ := event.Data["capability_id"].(string)
	if action != string(models.ProposalActionSuspend) || capabilityID == "" {
		return nil
	}

	proposalID, _ := event.Data["proposal_id"].(string)
	plan := d.Rollback.Start(ctx, rollback.StartRequest{
		CapabilityID: capabilityID,
		Reason:       "suspended by governance proposal " + proposalID,
	})
	d.Logger.Info("rollback started from governance",
		zap.String("capability_id", capabilityID),
		zap.String("proposal_id", proposalID),
		zap.Int("stages", len(plan.Stages)))
	return nil
}

// Components reports which backends are active
func (d *Dependencies) Components() map[string]interface{} {
	governanceStore := "memory"
	switch {
	case d.governanceSQLite != nil:
		governanceStore = "sqlite"
	case d.RepoFactory != nil && !d.Config.Governance.UseMemory:
		governanceStore = "postgres"
	}
	return map[string]interface{}{
		"database":         d.RepoFactory != nil,
		"governance_store": governanceStore,
		"event_bus":        d.Config.EventBus.Backend,
		"llm_fake":         d.Config.Providers.UseFake,
		"auth":             d.AuthMiddleware != nil && d.AuthMiddleware.Enabled(),
		"crdt_sync":        d.Syncer != nil,
		"adaptive_loop":    d.Config.Governance.EnableLearning,
		"tracing":          d.Config.Observability.TracingEnabled,
	}
}

// Close stops background work and releases every backend
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	if d.cancel != nil {
		d.cancel()
		d.wg.Wait()
		d.Pool.Wait()
	}

	var errs []error
	if d.Tracer != nil {
		if err := d.Tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown tracer: %w", err))
		}
	}
	if d.Bus != nil {
		if err := d.Bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event bus: %w", err))
		}
	}
	if d.governanceSQLite != nil {
		if err := d.governanceSQLite.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close governance store: %w", err))
		}
	}
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	_ = d.Logger.Sync()

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}
