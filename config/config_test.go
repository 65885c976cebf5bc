package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name: "default configuration",
			envVars: map[string]string{
				"ENVIRONMENT": "development",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "development", cfg.Environment)
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.False(t, cfg.Server.TLS.Enabled)
				assert.False(t, cfg.Database.Enabled)
				assert.Equal(t, 0.25, cfg.Orchestration.BudgetMaxUSD)
				assert.Equal(t, 120*time.Second, cfg.Orchestration.RunTimeout)
				assert.Equal(t, 0.03, cfg.Experiments.PromoteUplift)
				assert.Equal(t, 0.10, cfg.Experiments.MaxCostDelta)
				assert.Equal(t, 10, cfg.Experiments.MinN)
				assert.Equal(t, []float64{0.25, 0.5, 0.75, 1.0}, cfg.Rollback.Stages)
				assert.Equal(t, 120*time.Second, cfg.Rollback.Interval)
				assert.Equal(t, "none", cfg.EventBus.Backend)
				assert.Equal(t, "spooky.events", cfg.EventBus.Topic)
				assert.Equal(t, "http://localhost:8181", cfg.OPA.URL)
				assert.False(t, cfg.OPA.FailOpen)
			},
		},
		{
			name: "database from DATABASE_URL",
			envVars: map[string]string{
				"DATABASE_URL": "postgres://spooky:secret@db:5432/spooky?sslmode=disable",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Database.Enabled)
				assert.Equal(t, "host=db port=5432 database=spooky", cfg.Database.LogString())
			},
		},
		{
			name: "database from DB_HOST",
			envVars: map[string]string{
				"DB_HOST":           "prod-db.example.com",
				"DB_PORT":           "5433",
				"DB_MAX_OPEN_CONNS": "50",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Database.Enabled)
				assert.Equal(t, "prod-db.example.com", cfg.Database.Host)
				assert.Equal(t, 5433, cfg.Database.Port)
				assert.Equal(t, 50, cfg.Database.MaxOpenConns)
			},
		},
		{
			name: "governance sync peers",
			envVars: map[string]string{
				"GOVERNANCE_ENABLE_CRDT":   "true",
				"GOVERNANCE_SYNC_PEERS":    "http://a:8080, http://b:8080,,",
				"GOVERNANCE_SYNC_INTERVAL": "5s",
				"GOVERNANCE_NODE_ID":       "node-1",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Governance.EnableCRDT)
				assert.Equal(t, []string{"http://a:8080", "http://b:8080"}, cfg.Governance.SyncPeers)
				assert.Equal(t, 5*time.Second, cfg.Governance.SyncInterval)
				assert.Equal(t, "node-1", cfg.Governance.NodeID)
			},
		},
		{
			name: "event bus kafka",
			envVars: map[string]string{
				"EVENTBUS_BACKEND": "Kafka",
				"KAFKA_BROKERS":    "k1:9092,k2:9092",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "kafka", cfg.EventBus.Backend)
				assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.EventBus.KafkaBrokers)
			},
		},
		{
			name: "observability configuration",
			envVars: map[string]string{
				"LOG_LEVEL":           "debug",
				"LOG_FORMAT":          "text",
				"METRICS_ENABLED":     "false",
				"TRACING_ENABLED":     "true",
				"TRACING_ENDPOINT":    "otel:4318",
				"TRACING_SAMPLE_RATE": "0.5",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Observability.LogLevel)
				assert.Equal(t, "text", cfg.Observability.LogFormat)
				assert.False(t, cfg.Observability.MetricsEnabled)
				assert.True(t, cfg.Observability.TracingEnabled)
				assert.Equal(t, "otel:4318", cfg.Observability.TracingEndpoint)
				assert.Equal(t, 0.5, cfg.Observability.TracingSampleRate)
			},
		},
		{
			name: "PORT env var takes precedence over SERVER_PORT",
			envVars: map[string]string{
				"PORT":        "9443",
				"SERVER_PORT": "9000",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9443, cfg.Server.Port)
			},
		},
		{
			name: "invalid rollback stages fall back to defaults",
			envVars: map[string]string{
				"ROLLBACK_STAGES": "0.1,abc",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []float64{0.25, 0.5, 0.75, 1.0}, cfg.Rollback.Stages)
			},
		},
		{
			name: "rollback stage above one",
			envVars: map[string]string{
				"ROLLBACK_STAGES": "0.5,1.5",
			},
			wantErr: true,
		},
		{
			name: "unsupported event bus",
			envVars: map[string]string{
				"EVENTBUS_BACKEND": "rabbitmq",
			},
			wantErr: true,
		},
		{
			name: "production without jwt secret",
			envVars: map[string]string{
				"ENVIRONMENT": "production",
			},
			wantErr: true,
		},
		{
			name: "production with jwt secret",
			envVars: map[string]string{
				"ENVIRONMENT":     "production",
				"AUTH_JWT_SECRET": "s3cret",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.IsProduction())
				assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()

			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg, err := New(context.Background())

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Environment:   "development",
			Orchestration: OrchestrationConfig{BudgetMaxUSD: 0.25, Workers: 2},
			Rollback:      RollbackConfig{Stages: []float64{0.5, 1}},
			EventBus:      EventBusConfig{Backend: "none"},
			Observability: ObservabilityConfig{LogLevel: "info"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid development config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name: "enabled database without user",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Enabled: true, Host: "localhost", Database: "db"}
			},
			wantErr: true,
			errMsg:  "database user is required",
		},
		{
			name: "zero budget",
			mutate: func(c *Config) {
				c.Orchestration.BudgetMaxUSD = 0
			},
			wantErr: true,
			errMsg:  "budget max must be positive",
		},
		{
			name: "no workers",
			mutate: func(c *Config) {
				c.Orchestration.Workers = 0
			},
			wantErr: true,
			errMsg:  "worker count must be positive",
		},
		{
			name: "missing log level",
			mutate: func(c *Config) {
				c.Observability.LogLevel = ""
			},
			wantErr: true,
			errMsg:  "log level is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_IsProduction(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		want        bool
	}{
		{"production", "production", true},
		{"prod", "prod", true},
		{"development", "development", false},
		{"staging", "staging", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Environment: tt.environment}
			assert.Equal(t, tt.want, cfg.IsProduction())
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "testuser",
		Password: "testpass",
		Database: "testdb",
		SSLMode:  "disable",
	}

	expected := "host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=disable"
	assert.Equal(t, expected, cfg.DSN())
}

func TestServerConfig_Address(t *testing.T) {
	cfg := ServerConfig{Host: "0.0.0.0", Port: 8080}
	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
}

func TestGetEnvAsList(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  []string
	}{
		{"empty", "", nil},
		{"single", "a", []string{"a"}},
		{"trims and drops blanks", " a , ,b ", []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			if tt.value != "" {
				os.Setenv("TEST_LIST", tt.value)
			}
			assert.Equal(t, tt.want, getEnvAsList("TEST_LIST"))
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue int
		want         int
	}{
		{"valid int", "42", 10, 42},
		{"empty value", "", 10, 10},
		{"invalid int", "not-a-number", 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			if tt.value != "" {
				os.Setenv("TEST_INT", tt.value)
			}
			assert.Equal(t, tt.want, getEnvAsInt("TEST_INT", tt.defaultValue))
		})
	}
}

func TestGetEnvAsBool(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue bool
		want         bool
	}{
		{"true", "true", false, true},
		{"false", "false", true, false},
		{"empty value", "", true, true},
		{"invalid bool", "not-a-bool", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			if tt.value != "" {
				os.Setenv("TEST_BOOL", tt.value)
			}
			assert.Equal(t, tt.want, getEnvAsBool("TEST_BOOL", tt.defaultValue))
		})
	}
}
