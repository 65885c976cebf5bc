package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/avaprime/spooky-logic/app"
	"github.com/avaprime/spooky-logic/config"
	"github.com/avaprime/spooky-logic/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHandler(t *testing.T, jwtSecret string) http.Handler {
	t.Helper()
	cfg := &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{WriteTimeout: 10 * time.Second},
		Governance: config.GovernanceConfig{
			UseMemory:        true,
			PolicyConfigPath: "../config/policies.yaml",
			NodeID:           "node-routes",
		},
		Providers: config.ProvidersConfig{UseFake: true},
		OPA:       config.OPAConfig{URL: "http://127.0.0.1:1", Timeout: time.Second, CacheTTL: time.Minute, CacheSize: 10},
		Orchestration: config.OrchestrationConfig{
			BudgetMaxUSD:             0.25,
			PlaybookDir:              "../playbooks",
			Workers:                  1,
			QueueSize:                4,
			RunTimeout:               time.Second,
			AdaptiveInterval:         time.Minute,
			MaxConcurrentAdaptations: 1,
		},
		Experiments:   config.ExperimentsConfig{PromoteUplift: 0.03, MaxCostDelta: 0.1, MinN: 10},
		Rollback:      config.RollbackConfig{Stages: []float64{0.5, 1.0}, Interval: time.Minute},
		EventBus:      config.EventBusConfig{Backend: "none"},
		Auth:          config.AuthConfig{JWTSecret: jwtSecret, Issuer: "spooky-logic"},
		Marketplace:   config.MarketplaceConfig{InstallDir: t.TempDir(), HTTPTimeout: time.Second},
		Observability: config.ObservabilityConfig{ServiceName: "spooky-logic-test", LogLevel: "info", MetricsEnabled: true},
	}

	deps, err := app.NewDependencies(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close(context.Background()) })
	return SetupRoutes(deps)
}

func TestSetupRoutes(t *testing.T) {
	handler := newTestHandler(t, "")

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"liveness", http.MethodGet, "/healthz", "", http.StatusOK},
		{"status", http.MethodGet, "/api/v1/status", "", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK},
		{"playbooks", http.MethodGet, "/playbooks", "", http.StatusOK},
		{"policies", http.MethodGet, "/policies", "", http.StatusOK},
		{"governance board", http.MethodGet, "/governance/board", "", http.StatusOK},
		{"marketplace packages", http.MethodGet, "/marketplace/packages", "", http.StatusOK},
		{"redteam scan", http.MethodPost, "/redteam/scan", `{"text":"summarize this report"}`, http.StatusOK},
		{"unknown run", http.MethodGet, "/runs/missing", "", http.StatusNotFound},
		{"unknown endpoint", http.MethodGet, "/nope", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body *bytes.Buffer
			if tt.body != "" {
				body = bytes.NewBufferString(tt.body)
			} else {
				body = &bytes.Buffer{}
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			req.Header.Set("Content-Type", "application/json")

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.NotEmpty(t, w.Header().Get("Content-Type"))
		})
	}
}

func TestSetupRoutes_PlaybookListing(t *testing.T) {
	handler := newTestHandler(t, "")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/playbooks", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Data struct {
			Playbooks []struct {
				Name string `json:"name"`
			} `json:"playbooks"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	names := make([]string, 0, len(response.Data.Playbooks))
	for _, pb := range response.Data.Playbooks {
		names = append(names, pb.Name)
	}
	assert.ElementsMatch(t, []string{"control_single_pass", "variant_debate_tools"}, names)
}

func TestSetupRoutes_RequireAuth(t *testing.T) {
	handler := newTestHandler(t, "test-secret")

	propose := `{"capability_id":"cap-1","action":"suspend","rationale":"drift"}`

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/governance/propose", bytes.NewBufferString(propose)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/governance/board", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetupRoutes_RequireRole(t *testing.T) {
	handler := newTestHandler(t, "test-secret")
	issuer := middleware.NewHMACValidator("test-secret", "spooky-logic")

	tests := []struct {
		name  string
		roles []string
		want  int
	}{
		{"viewer cannot execute", []string{"viewer"}, http.StatusForbidden},
		{"governor reaches the handler", []string{middleware.RoleGovernor}, http.StatusNotFound},
		{"admin reaches the handler", []string{middleware.RoleAdmin}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := issuer.IssueToken("ops-1", "acme", tt.roles, time.Hour)
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodPost, "/governance/proposals/prop-404/execute", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
