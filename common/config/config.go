package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration.
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Providers ProviderConfig
	Execution ExecutionConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds service-specific settings.
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
	APIKey      string // accepted in the x-api-key header
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ProviderConfig holds model-provider settings. Per-provider API keys for
// user workflows arrive through the environment-variable pipeline; these
// are service-level defaults.
type ProviderConfig struct {
	OpenAIBaseURL  string
	OpenAIAPIKey   string
	AgentAPIURL    string // SIM_AGENT_API_URL: YAML conversion collaborator
	AgentAPIKey    string // SIM_AGENT_API_KEY
	SocketSinkURL  string // SOCKET_SERVER_URL: optional realtime sink
	RequestTimeout time.Duration
}

// ExecutionConfig holds engine limits.
type ExecutionConfig struct {
	MaxRunDuration   time.Duration // per-run wall-clock deadline
	MaxSubflowDepth  int           // workflow-embed nesting guard
	SandboxTimeout   time.Duration // function block execution cap
	SecretsKey       string        // AES key for environment variables at rest
	ToolHTTPTimeout  time.Duration
	MaxParallelism   int           // cap on concurrent parallel branches
	WorkflowCacheTTL time.Duration // reuse window for loaded workflow records
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	EnablePprof bool
	PprofPort   int
}

// Load loads configuration from environment variables.
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
			APIKey:      getEnv("API_KEY", ""),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "simstudio"),
			User:        getEnv("POSTGRES_USER", "simstudio"),
			Password:    getEnv("POSTGRES_PASSWORD", "simstudio"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Providers: ProviderConfig{
			OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
			OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
			AgentAPIURL:    getEnv("SIM_AGENT_API_URL", ""),
			AgentAPIKey:    getEnv("SIM_AGENT_API_KEY", ""),
			SocketSinkURL:  getEnv("SOCKET_SERVER_URL", ""),
			RequestTimeout: getEnvDuration("PROVIDER_TIMEOUT", 120*time.Second),
		},
		Execution: ExecutionConfig{
			MaxRunDuration:   getEnvDuration("MAX_RUN_DURATION", 10*time.Minute),
			MaxSubflowDepth:  getEnvInt("MAX_SUBFLOW_DEPTH", 10),
			SandboxTimeout:   getEnvDuration("SANDBOX_TIMEOUT", 30*time.Second),
			SecretsKey:       getEnv("SECRETS_KEY", ""),
			ToolHTTPTimeout:  getEnvDuration("TOOL_HTTP_TIMEOUT", 30*time.Second),
			MaxParallelism:   getEnvInt("MAX_PARALLELISM", 20),
			WorkflowCacheTTL: getEnvDuration("WORKFLOW_CACHE_TTL", 30*time.Second),
		},
		Telemetry: TelemetryConfig{
			EnablePprof: getEnvBool("ENABLE_PPROF", false),
			PprofPort:   getEnvInt("PPROF_PORT", 6060),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid.
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}
	if c.Execution.MaxSubflowDepth < 1 {
		return fmt.Errorf("max subflow depth must be >= 1")
	}
	return nil
}

// DatabaseURL returns the PostgreSQL connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
