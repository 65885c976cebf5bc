package routes

import (
	"net/http"
	"time"

	"github.com/avaprime/spooky-logic/app"
	"github.com/avaprime/spooky-logic/handlers"
	"github.com/avaprime/spooky-logic/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()
	logger := deps.Logger

	// Core middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	timeout := deps.Config.Server.WriteTimeout
	if timeout <= 0 {
		timeout = requestTimeout
	}
	r.Use(chimiddleware.Timeout(timeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.Handler)
	}
	r.Use(middleware.Tracing(deps.Tracer.Tracer()))
	metricsEnabled := deps.Config.Observability.MetricsEnabled
	if metricsEnabled {
		r.Use(middleware.Metrics(deps.Metrics))
	}
	r.Use(deps.AuthMiddleware.ExtractTenant)
	auth := deps.AuthMiddleware.RequireAuth
	governor := deps.AuthMiddleware.RequireRole(middleware.RoleGovernor, middleware.RoleAdmin)
	admin := deps.AuthMiddleware.RequireRole(middleware.RoleAdmin)

	if metricsEnabled {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	// Health
	var db handlers.DatabaseChecker
	if deps.DB != nil {
		db = deps.DB
	}
	health := handlers.NewHealthHandler(db, deps.OPA, logger).
		WithStatus(deps.Config.Environment, deps.Config.Governance.NodeID, deps.Components)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)
	r.Get("/api/v1/status", health.HandleStatus)

	// Orchestration and routing
	orch := handlers.NewOrchestrationHandler(deps.Orchestrator, deps.Playbooks, deps.Router, deps.Weights, logger)
	r.Post("/orchestrate", orch.HandleOrchestrate)
	r.Get("/runs/{id}", orch.HandleGetRun)
	r.Get("/playbooks", orch.HandleListPlaybooks)
	r.Post("/playbooks/{name}/trial", orch.HandleEnableTrial)
	r.Post("/agents/register", orch.HandleRegisterAgent)
	r.Route("/routing", func(r chi.Router) {
		r.Get("/weights", orch.HandleWeights)
		r.Post("/outcome", orch.HandleOutcome)
		r.Post("/trust", orch.HandleTrust)
	})

	// Adaptive policies
	policies := handlers.NewPolicyHandler(deps.PolicyEngine, deps.AdaptiveLoop, logger)
	r.Route("/policies", func(r chi.Router) {
		r.Get("/", policies.HandleListPolicies)
		r.With(auth).Post("/", policies.HandleCreatePolicy)
		r.With(auth).Post("/evaluate", policies.HandleEvaluate)
		r.With(auth).Post("/{name}/execute", policies.HandleExecutePolicy)
	})

	// Experiments and federation
	exp := handlers.NewExperimentsHandler(deps.Experiments, deps.Sampler, deps.ExperimentsStore, logger)
	r.Route("/experiments", func(r chi.Router) {
		r.Post("/record", exp.HandleRecord)
		r.Get("/summary", exp.HandleSummary)
		r.Post("/bootstrap", exp.HandleBootstrap)
		r.Post("/sample-size", exp.HandleSampleSize)
	})
	r.Route("/expstore", func(r chi.Router) {
		r.Post("/create", exp.HandleStoreCreate)
		r.Post("/record", exp.HandleStoreRecord)
		r.Get("/{name}/summary", exp.HandleStoreSummary)
	})

	fed := handlers.NewFederationHandler(deps.Federation, logger)
	r.Route("/federation", func(r chi.Router) {
		r.Post("/ingest", fed.HandleIngest)
		r.Get("/summary", fed.HandleSummary)
		r.Get("/drift", fed.HandleDrift)
		r.Get("/clusters", fed.HandleClusters)
		r.Post("/clusters/{id}/summary", fed.HandleClusterSummary)
		r.Post("/clusters/{id}/drift", fed.HandleClusterDrift)
		r.Get("/clusters/{id}/health", fed.HandleClusterHealth)
	})

	// Tenants
	tenants := handlers.NewTenantsHandler(deps.Tenants, logger)
	r.Route("/tenants", func(r chi.Router) {
		r.Get("/", tenants.HandleList)
		r.With(auth).Post("/", tenants.HandleRegister)
		r.Get("/{id}", tenants.HandleGet)
		r.Post("/{id}/results", tenants.HandleResult)
		r.With(auth).Post("/{id}/promote", tenants.HandlePromote)
	})

	// Governance
	gov := handlers.NewGovernanceHandler(deps.Governance, logger)
	r.Route("/governance", func(r chi.Router) {
		r.Get("/board", gov.HandleBoard)
		r.Get("/proposals", gov.HandleListProposals)
		r.Get("/proposals/{id}", gov.HandleGetProposal)
		r.Get("/sync/snapshot", gov.HandleSnapshot)

		r.Group(func(r chi.Router) {
			r.Use(auth)
			r.Post("/propose", gov.HandlePropose)
			r.Post("/vote", gov.HandleVote)
			r.With(governor).Post("/proposals/{id}/execute", gov.HandleExecute)
			r.With(governor).Post("/sync/merge", gov.HandleMerge)
		})
	})

	// Capabilities
	caps := handlers.NewCapabilitiesHandler(deps.Capabilities, deps.Canary, deps.Shadow, logger)
	r.Route("/capabilities", func(r chi.Router) {
		r.Post("/verify", caps.HandleVerify)
		r.Get("/quarantine/list", caps.HandleList)
		r.Group(func(r chi.Router) {
			r.Use(auth)
			r.Post("/quarantine", caps.HandleQuarantine)
			r.Post("/quarantine/ready", caps.HandleReady)
			r.Post("/quarantine/report", caps.HandleReport)
			r.Delete("/quarantine/{id}", caps.HandleRemove)
			r.Post("/quarantine/{id}/promote", caps.HandlePromote)
		})
		r.Post("/{id}/canary", caps.HandleCanary)
		r.Post("/{id}/shadow", caps.HandleShadow)
	})

	absorb := handlers.NewAbsorptionHandler(deps.Absorption, logger)
	r.Route("/absorption", func(r chi.Router) {
		r.Get("/status", absorb.HandleStatus)
		r.Group(func(r chi.Router) {
			r.Use(auth)
			r.Post("/capabilities", absorb.HandleAdd)
			r.Post("/capabilities/{id}/test", absorb.HandleTest)
			r.Post("/capabilities/{id}/integrate", absorb.HandleIntegrate)
			r.Delete("/capabilities/{id}", absorb.HandleRemove)
		})
	})

	// Safety
	rb := handlers.NewRollbackHandler(deps.Rollback, logger)
	r.Route("/rollback", func(r chi.Router) {
		r.Get("/{id}", rb.HandleStatus)
		r.Group(func(r chi.Router) {
			r.Use(auth)
			r.Post("/start", rb.HandleStart)
			r.Post("/{id}/tick", rb.HandleTick)
			r.Post("/{id}/abort", rb.HandleAbort)
		})
	})

	sc := handlers.NewSupplyChainHandler(deps.Supplychain, logger)
	r.Route("/supplychain", func(r chi.Router) {
		r.Post("/score", sc.HandleScore)
		r.Post("/verify-blob", sc.HandleVerifyBlob)
		r.Post("/verify-attestation", sc.HandleVerifyAttestation)
		r.With(auth).Post("/sign-blob", sc.HandleSignBlob)
		r.With(auth).Post("/rekor", sc.HandleRekor)
	})
	r.Post("/redteam/scan", sc.HandleScan)

	// Marketplace
	market := handlers.NewMarketplaceHandler(deps.Marketplace, logger)
	r.Route("/marketplace", func(r chi.Router) {
		r.Get("/packages", market.HandleList)
		r.Get("/search", market.HandleSearch)
		r.Get("/status", market.HandleStatus)
		r.Group(func(r chi.Router) {
			r.Use(auth)
			r.Post("/install", market.HandleInstall)
			r.With(admin).Post("/publish", market.HandlePublish)
			r.With(admin).Delete("/packages/{name}", market.HandleUnpublish)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}

// requestTimeout bounds handlers when the server has no write timeout
const requestTimeout = 60 * time.Second
