package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	APIPort   string
	LogLevel  string
	LogFormat string

	NaviRoot          string
	InboxDir          string
	RoutingConfigPath string
	SeenRegistryPath  string
	DisablePackages   bool

	PostgresDSN string

	NATSURL            string
	NATSBatchSubject   string
	NATSProcessSubject string

	OllamaURL      string
	OllamaGenModel string
	AITimeout      time.Duration

	// Outbound retry/breaker policy shared by Ollama and NATS.
	RetryAttempts  int
	BreakerEnabled bool

	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	BatchLogTimeout time.Duration
	WatchEnabled    bool
	WatchDebounce   time.Duration
	ShutdownGrace   time.Duration

	MCPApprovalToken string
	MCPEnabled       bool

	APIRateLimitRPS   float64
	APIRateLimitBurst int
	APIMaxInFlight    int
	APIInFlightWait   time.Duration
	APIMaxConnections int

	WorkerMetricsPort string
}

func Load() Config {
	root := mustEnv("NAVI_ROOT", "./data/navi")
	return Config{
		APIPort:   mustEnv("API_PORT", "8005"),
		LogLevel:  mustEnv("LOG_LEVEL", "info"),
		LogFormat: mustEnv("LOG_FORMAT", "json"),

		NaviRoot:          root,
		InboxDir:          mustEnv("INBOX_DIR", filepath.Join(root, "inbox")),
		RoutingConfigPath: mustEnv("ROUTING_CONFIG_PATH", ""),
		SeenRegistryPath:  mustEnv("SEEN_REGISTRY_PATH", filepath.Join(root, "metadata", "seen_files.jsonl")),
		DisablePackages:   mustEnvBool("DISABLE_OFFICE_PACKAGES", false),

		PostgresDSN: mustEnv("POSTGRES_DSN", ""),

		NATSURL:            mustEnv("NATS_URL", ""),
		NATSBatchSubject:   mustEnv("NATS_BATCH_SUBJECT", "mailroom.batch.completed"),
		NATSProcessSubject: mustEnv("NATS_PROCESS_SUBJECT", "mailroom.process.requested"),

		OllamaURL:      mustEnv("OLLAMA_URL", ""),
		OllamaGenModel: mustEnv("OLLAMA_GEN_MODEL", "llama3.1:8b"),
		AITimeout:      mustEnvDuration("AI_TIMEOUT", 8*time.Second),

		RetryAttempts:  mustEnvInt("RETRY_ATTEMPTS", 3),
		BreakerEnabled: mustEnvBool("BREAKER_ENABLED", true),

		Neo4jURI:      mustEnv("NEO4J_URI", ""),
		Neo4jUser:     mustEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword: mustEnv("NEO4J_PASSWORD", ""),
		Neo4jDatabase: mustEnv("NEO4J_DATABASE", ""),

		BatchLogTimeout: mustEnvDuration("BATCH_LOG_TIMEOUT", 5*time.Second),
		WatchEnabled:    mustEnvBool("WATCH_ENABLED", true),
		WatchDebounce:   mustEnvDuration("WATCH_DEBOUNCE", 750*time.Millisecond),
		ShutdownGrace:   mustEnvDuration("SHUTDOWN_GRACE", 10*time.Second),

		MCPApprovalToken: mustEnv("MCP_APPROVAL_TOKEN", ""),
		MCPEnabled:       mustEnvBool("MCP_ENABLED", true),

		APIRateLimitRPS:   mustEnvFloat("API_RATE_LIMIT_RPS", 0),
		APIRateLimitBurst: mustEnvInt("API_RATE_LIMIT_BURST", 0),
		APIMaxInFlight:    mustEnvInt("API_MAX_IN_FLIGHT", 16),
		APIInFlightWait:   mustEnvDuration("API_IN_FLIGHT_WAIT", 250*time.Millisecond),
		APIMaxConnections: mustEnvInt("API_MAX_CONNECTIONS", 128),

		WorkerMetricsPort: mustEnv("WORKER_METRICS_PORT", "9090"),
	}
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

// mustEnvDuration accepts Go durations ("750ms") or plain milliseconds.
func mustEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms < 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
