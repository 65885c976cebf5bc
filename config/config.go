package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Governance    GovernanceConfig
	Providers     ProvidersConfig
	OPA           OPAConfig
	Orchestration OrchestrationConfig
	Experiments   ExperimentsConfig
	Rollback      RollbackConfig
	EventBus      EventBusConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Supplychain   SupplychainConfig
	Marketplace   MarketplaceConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
// The database is optional: Enabled is false when neither DATABASE_URL nor DB_HOST is set.
type DatabaseConfig struct {
	Enabled          bool
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// GovernanceConfig controls proposal persistence and replication
type GovernanceConfig struct {
	DatabaseURL      string // postgres://... or sqlite:///path; empty uses the main database
	UseMemory        bool
	PolicyConfigPath string
	EnableLearning   bool
	EnableCRDT       bool
	SyncInterval     time.Duration
	SyncPeers        []string
	NodeID           string
}

// ProvidersConfig holds LLM provider configurations
type ProvidersConfig struct {
	OpenAI      OpenAIConfig
	DeepSeek    OpenAIConfig
	Anthropic   AnthropicConfig
	Ollama      OllamaConfig
	MapPath     string // role -> provider/model YAML
	UseFake     bool
	CallTimeout time.Duration
}

// OpenAIConfig holds configuration for OpenAI compatible APIs
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

// AnthropicConfig holds Anthropic provider configuration
type AnthropicConfig struct {
	APIKey string
}

// OllamaConfig holds the local Ollama server configuration
type OllamaConfig struct {
	URL string
}

// OPAConfig holds Open Policy Agent client configuration
type OPAConfig struct {
	URL        string
	Timeout    time.Duration
	CacheTTL   time.Duration
	CacheSize  int
	MaxRetries int
	FailOpen   bool
}

// OrchestrationConfig holds playbook execution settings
type OrchestrationConfig struct {
	BudgetMaxUSD             float64
	PlaybookDir              string
	RouterOverlayPath        string
	RouterWeightsPath        string
	TenantConfigPath         string
	Workers                  int
	QueueSize                int
	RunTimeout               time.Duration
	RunRetention             time.Duration
	MaxFinishedRuns          int
	AdaptiveInterval         time.Duration
	MaxConcurrentAdaptations int
	MaxInjectionRisk         float64 // red-team gate; zero disables
}

// ExperimentsConfig holds the A/B promotion guard
type ExperimentsConfig struct {
	PromoteUplift float64
	MaxCostDelta  float64
	MinN          int
}

// RollbackConfig holds staged rollout defaults
type RollbackConfig struct {
	Stages   []float64
	Interval time.Duration
}

// EventBusConfig selects and configures the event bus backend
type EventBusConfig struct {
	Backend      string // none, nats, kafka, redis
	NATSURL      string
	KafkaBrokers []string
	RedisAddr    string
	Topic        string
}

// AuthConfig holds bearer token validation settings.
// Mutating routes are unprotected when JWTSecret is empty.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// RateLimitConfig holds per-client rate limiting settings
type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

// SupplychainConfig holds signing tool locations
type SupplychainConfig struct {
	CosignBin    string
	CosignKeyRef string
	RekorCLI     string
	RekorURL     string
	ToolTimeout  time.Duration
}

// MarketplaceConfig holds package installation settings
type MarketplaceConfig struct {
	InstallDir  string
	HTTPTimeout time.Duration
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	ServiceName       string
	LogLevel          string
	LogFormat         string // json or text
	MetricsEnabled    bool
	TracingEnabled    bool
	TracingEndpoint   string
	TracingSampleRate float64
}

var validEventBusBackends = map[string]bool{"none": true, "nats": true, "kafka": true, "redis": true}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 130*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database: loadDatabaseConfig(),
		Governance: GovernanceConfig{
			DatabaseURL:      getEnv("GOVERNANCE_DB_URL", ""),
			UseMemory:        getEnvAsBool("GOVERNANCE_USE_MEMORY", false),
			PolicyConfigPath: getEnv("GOVERNANCE_POLICY_CONFIG", "config/policies.yaml"),
			EnableLearning:   getEnvAsBool("GOVERNANCE_ENABLE_LEARNING", true),
			EnableCRDT:       getEnvAsBool("GOVERNANCE_ENABLE_CRDT", false),
			SyncInterval:     getEnvAsDuration("GOVERNANCE_SYNC_INTERVAL", 30*time.Second),
			SyncPeers:        getEnvAsList("GOVERNANCE_SYNC_PEERS"),
			NodeID:           getEnv("GOVERNANCE_NODE_ID", hostname()),
		},
		Providers: ProvidersConfig{
			OpenAI: OpenAIConfig{
				APIKey:  getEnv("OPENAI_API_KEY", ""),
				BaseURL: getEnv("OPENAI_BASE_URL", ""),
			},
			DeepSeek: OpenAIConfig{
				APIKey:  getEnv("DEEPSEEK_API_KEY", ""),
				BaseURL: getEnv("DEEPSEEK_BASE_URL", "https://api.deepseek.com/v1"),
			},
			Anthropic: AnthropicConfig{
				APIKey: getEnv("ANTHROPIC_API_KEY", ""),
			},
			Ollama: OllamaConfig{
				URL: getEnv("OLLAMA_URL", "http://localhost:11434"),
			},
			MapPath:     getEnv("PROVIDER_MAP_FILE", "config/providers.yaml"),
			UseFake:     getEnvAsBool("LLM_FAKE", false),
			CallTimeout: getEnvAsDuration("LLM_CALL_TIMEOUT", 60*time.Second),
		},
		OPA: OPAConfig{
			URL:        getEnv("OPA_URL", "http://localhost:8181"),
			Timeout:    getEnvAsDuration("OPA_TIMEOUT", 5*time.Second),
			CacheTTL:   getEnvAsDuration("OPA_CACHE_TTL", 30*time.Second),
			CacheSize:  getEnvAsInt("OPA_CACHE_SIZE", 1000),
			MaxRetries: getEnvAsInt("OPA_MAX_RETRIES", 2),
			FailOpen:   getEnvAsBool("OPA_FAIL_OPEN", false),
		},
		Orchestration: OrchestrationConfig{
			BudgetMaxUSD:             getEnvAsFloat("BUDGET_MAX_USD", 0.25),
			PlaybookDir:              getEnv("PLAYBOOK_DIR", "playbooks"),
			RouterOverlayPath:        getEnv("ROUTER_OVERLAY_FILE", "config/router.yaml"),
			RouterWeightsPath:        getEnv("ROUTER_WEIGHTS_FILE", "config/router_weights.yaml"),
			TenantConfigPath:         getEnv("TENANT_CONFIG_FILE", ""),
			Workers:                  getEnvAsInt("WORKER_COUNT", 4),
			QueueSize:                getEnvAsInt("WORKER_QUEUE_SIZE", 100),
			RunTimeout:               getEnvAsDuration("RUN_TIMEOUT", 120*time.Second),
			RunRetention:             getEnvAsDuration("RUN_RETENTION", time.Hour),
			MaxFinishedRuns:          getEnvAsInt("MAX_FINISHED_RUNS", 1000),
			AdaptiveInterval:         getEnvAsDuration("ADAPTIVE_INTERVAL", time.Minute),
			MaxConcurrentAdaptations: getEnvAsInt("MAX_CONCURRENT_ADAPTATIONS", 3),
			MaxInjectionRisk:         getEnvAsFloat("REDTEAM_MAX_RISK", 0.75),
		},
		Experiments: ExperimentsConfig{
			PromoteUplift: getEnvAsFloat("EXPERIMENT_PROMOTE_UPLIFT", 0.03),
			MaxCostDelta:  getEnvAsFloat("EXPERIMENT_MAX_COST_DELTA", 0.10),
			MinN:          getEnvAsInt("EXPERIMENT_MIN_N", 10),
		},
		Rollback: RollbackConfig{
			Stages:   getEnvAsFloatList("ROLLBACK_STAGES", []float64{0.25, 0.5, 0.75, 1.0}),
			Interval: getEnvAsDuration("ROLLBACK_INTERVAL", 120*time.Second),
		},
		EventBus: EventBusConfig{
			Backend:      strings.ToLower(getEnv("EVENTBUS_BACKEND", "none")),
			NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
			KafkaBrokers: getEnvAsListDefault("KAFKA_BROKERS", []string{"localhost:9092"}),
			RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
			Topic:        getEnv("EVENTBUS_TOPIC", "spooky.events"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
			Issuer:    getEnv("AUTH_JWT_ISSUER", "spooky-logic"),
		},
		RateLimit: RateLimitConfig{
			Enabled: getEnvAsBool("RATE_LIMIT_ENABLED", true),
			RPS:     getEnvAsFloat("RATE_LIMIT_RPS", 20),
			Burst:   getEnvAsInt("RATE_LIMIT_BURST", 40),
		},
		Supplychain: SupplychainConfig{
			CosignBin:    getEnv("COSIGN_BIN", "cosign"),
			CosignKeyRef: getEnv("COSIGN_KEY_REF", "cosign.key"),
			RekorCLI:     getEnv("REKOR_CLI", "rekor-cli"),
			RekorURL:     getEnv("REKOR_URL", "https://rekor.sigstore.dev"),
			ToolTimeout:  getEnvAsDuration("SUPPLYCHAIN_TOOL_TIMEOUT", 60*time.Second),
		},
		Marketplace: MarketplaceConfig{
			InstallDir:  getEnv("MARKETPLACE_INSTALL_DIR", "./plugins"),
			HTTPTimeout: getEnvAsDuration("MARKETPLACE_HTTP_TIMEOUT", 30*time.Second),
		},
		Observability: ObservabilityConfig{
			ServiceName:       getEnv("SERVICE_NAME", "spooky-logic"),
			LogLevel:          getEnv("LOG_LEVEL", "info"),
			LogFormat:         getEnv("LOG_FORMAT", "json"),
			MetricsEnabled:    getEnvAsBool("METRICS_ENABLED", true),
			TracingEnabled:    getEnvAsBool("TRACING_ENABLED", false),
			TracingEndpoint:   getEnv("TRACING_ENDPOINT", "localhost:4318"),
			TracingSampleRate: getEnvAsFloat("TRACING_SAMPLE_RATE", 0.1),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Database.Enabled && c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.Orchestration.BudgetMaxUSD <= 0 {
		return fmt.Errorf("budget max must be positive")
	}
	if c.Orchestration.Workers <= 0 {
		return fmt.Errorf("worker count must be positive")
	}

	if len(c.Rollback.Stages) == 0 {
		return fmt.Errorf("rollback stages are required")
	}
	for _, s := range c.Rollback.Stages {
		if s <= 0 || s > 1 {
			return fmt.Errorf("rollback stage %v out of range (0, 1]", s)
		}
	}

	if !validEventBusBackends[c.EventBus.Backend] {
		return fmt.Errorf("unsupported event bus backend: %s", c.EventBus.Backend)
	}

	if c.IsProduction() && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth JWT secret is required in production")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			Enabled:          true,
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Enabled:         os.Getenv("DB_HOST") != "",
		Host:            getEnv("DB_HOST", ""),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "spooky"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "spooky"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// getPort returns PORT, then SERVER_PORT, then 8080
func getPort() int {
	return getEnvAsInt("PORT", getEnvAsInt("SERVER_PORT", 8080))
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "node-local"
	}
	return name
}

// envValue parses the variable named key, returning def when it is unset
// or does not parse
func envValue[T any](key string, def T, parse func(string) (T, error)) T {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

func getEnv(key, def string) string {
	return envValue(key, def, func(s string) (string, error) { return s, nil })
}

func getEnvAsInt(key string, def int) int {
	return envValue(key, def, strconv.Atoi)
}

func getEnvAsBool(key string, def bool) bool {
	return envValue(key, def, strconv.ParseBool)
}

func getEnvAsFloat(key string, def float64) float64 {
	return envValue(key, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	return envValue(key, def, time.ParseDuration)
}

// getEnvAsList splits a comma separated value, dropping empty items
func getEnvAsList(key string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvAsListDefault(key string, defaultValue []string) []string {
	if list := getEnvAsList(key); len(list) > 0 {
		return list
	}
	return defaultValue
}

func getEnvAsFloatList(key string, def []float64) []float64 {
	return envValue(key, def, func(raw string) ([]float64, error) {
		var out []float64
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item == "" {
				continue
			}
			v, err := strconv.ParseFloat(item, 64)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("%s: empty list", key)
		}
		return out, nil
	})
}
