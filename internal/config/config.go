// Package config defines the top-level configuration for the route engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from an
// optional TOML file and then overridden by ROUTEENGINE_* environment
// variables.
type Config struct {
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
	Server    ServerConfig    `toml:"server"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Routing   RoutingConfig   `toml:"routing"`
	Execution ExecutionConfig `toml:"execution"`
	Simulator SimulatorConfig `toml:"simulator"`
	Segments  SegmentsConfig  `toml:"segments"`
	Notify    NotifyConfig    `toml:"notify"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit is requests per minute per client IP; zero disables it.
	RateLimit       int      `toml:"rate_limit"`
	ReadTimeout     duration `toml:"read_timeout"`
	WriteTimeout    duration `toml:"write_timeout"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters. When disabled the
// engine keeps segments in memory and does not persist history.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// RoutingConfig tunes path search and candidate scoring.
type RoutingConfig struct {
	MaxHops           int     `toml:"max_hops"`
	MaxCandidates     int     `toml:"max_candidates"`
	PrimarySolver     string  `toml:"primary_solver"`
	SecondarySolver   string  `toml:"secondary_solver"`
	CostWeight        float64 `toml:"cost_weight"`
	LatencyWeight     float64 `toml:"latency_weight"`
	ReliabilityWeight float64 `toml:"reliability_weight"`
	Alpha             float64 `toml:"alpha"`
	Beta              float64 `toml:"beta"`
	Gamma             float64 `toml:"gamma"`
	SearchBudget      int     `toml:"search_budget"`
	MaxPathsScanned   int     `toml:"max_paths_scanned"`
}

// ExecutionConfig tunes the orchestrator.
type ExecutionConfig struct {
	RerouteCostPercent    float64  `toml:"reroute_cost_percent"`
	RerouteLatencyPercent float64  `toml:"reroute_latency_percent"`
	RerouteReliability    float64  `toml:"reroute_reliability"`
	MaxAIReroutes         int      `toml:"max_ai_reroutes"`
	ParallelGroupSize     int      `toml:"parallel_group_size"`
	ParallelMerge         string   `toml:"parallel_merge"`
	Retention             duration `toml:"retention"`
	DedupTTL              duration `toml:"dedup_ttl"`
	JanitorInterval       duration `toml:"janitor_interval"`
}

// SimulatorConfig controls the settlement simulator and its wallets.
type SimulatorConfig struct {
	TimeScale      float64  `toml:"time_scale"`
	MaxDelay       duration `toml:"max_delay"`
	Seed           uint64   `toml:"seed"`
	FastNetworks   []string `toml:"fast_networks"`
	Base58Networks []string `toml:"base58_networks"`
	// VaultPassword seals generated wallet keys; empty leaves them unsealed.
	VaultPassword   string `toml:"vault_password"`
	VaultIterations int    `toml:"vault_iterations"`
	// OperatorKey signs settlement receipts; empty generates one per run.
	OperatorKey string `toml:"operator_key"`
	ChainID     int    `toml:"chain_id"`
}

// SegmentsConfig controls the segment catalogue.
type SegmentsConfig struct {
	SeedFile string   `toml:"seed_file"`
	CacheTTL duration `toml:"cache_ttl"`
	LocalTTL duration `toml:"local_ttl"`
	LockTTL  duration `toml:"lock_ttl"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// config.example.toml lists the same values.
func Defaults() Config {
	return Config{
		Mode:     "server",
		LogLevel: "info",
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       600,
			ReadTimeout:     duration{15 * time.Second},
			WriteTimeout:    duration{60 * time.Second},
			ShutdownTimeout: duration{10 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "routeengine",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "routeengine",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "routeengine-data",
			ForcePathStyle: true,
		},
		Routing: RoutingConfig{
			MaxHops:           5,
			MaxCandidates:     20,
			PrimarySolver:     "k-shortest",
			SecondarySolver:   "enumeration",
			CostWeight:        1.0,
			LatencyWeight:     1.0,
			ReliabilityWeight: 1.0,
			Alpha:             0.4,
			Beta:              0.3,
			Gamma:             0.3,
			SearchBudget:      200000,
			MaxPathsScanned:   100000,
		},
		Execution: ExecutionConfig{
			RerouteCostPercent:    5.0,
			RerouteLatencyPercent: 20.0,
			RerouteReliability:    0.9,
			MaxAIReroutes:         3,
			ParallelGroupSize:     3,
			ParallelMerge:         "max",
			Retention:             duration{24 * time.Hour},
			DedupTTL:              duration{10 * time.Minute},
			JanitorInterval:       duration{5 * time.Minute},
		},
		Simulator: SimulatorConfig{
			TimeScale:       0.1,
			MaxDelay:        duration{time.Second},
			FastNetworks:    []string{"polygon"},
			Base58Networks:  []string{"solana"},
			VaultIterations: 100000,
			ChainID:         137,
		},
		Segments: SegmentsConfig{
			CacheTTL: duration{30 * time.Second},
			LocalTTL: duration{2 * time.Second},
			LockTTL:  duration{30 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"failed", "cancelled"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"ingest": true,
	"route":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSolvers = map[string]bool{
	"k-shortest":  true,
	"enumeration": true,
}

var validMerges = map[string]bool{
	"max":   true,
	"split": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, ingest, route)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Mode == "server" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port %d out of range", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must not be negative")
	}

	if c.Postgres.Enabled {
		if c.Postgres.DSN == "" && c.Postgres.Host == "" {
			errs = append(errs, "postgres: either dsn or host must be set")
		}
		if c.Postgres.PoolMaxConns > 0 && c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr is required when enabled")
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket is required when enabled")
	}

	r := c.Routing
	if r.MaxHops < 1 || r.MaxHops > 10 {
		errs = append(errs, fmt.Sprintf("routing: max_hops %d out of range [1, 10]", r.MaxHops))
	}
	if r.MaxCandidates < 1 {
		errs = append(errs, "routing: max_candidates must be positive")
	}
	if !validSolvers[r.PrimarySolver] {
		errs = append(errs, fmt.Sprintf("routing: unknown primary_solver %q", r.PrimarySolver))
	}
	if r.SecondarySolver != "" && !validSolvers[r.SecondarySolver] {
		errs = append(errs, fmt.Sprintf("routing: unknown secondary_solver %q", r.SecondarySolver))
	}
	if r.CostWeight < 0 || r.LatencyWeight < 0 || r.ReliabilityWeight < 0 {
		errs = append(errs, "routing: weights must not be negative")
	}
	if r.Alpha < 0 || r.Beta < 0 || r.Gamma < 0 || r.Alpha+r.Beta+r.Gamma == 0 {
		errs = append(errs, "routing: alpha, beta and gamma must be non-negative with a positive sum")
	}
	if r.SearchBudget < 0 {
		errs = append(errs, "routing: search_budget must not be negative")
	}

	e := c.Execution
	if e.RerouteReliability < 0 || e.RerouteReliability > 1 {
		errs = append(errs, "execution: reroute_reliability must be in [0, 1]")
	}
	if e.MaxAIReroutes < 0 {
		errs = append(errs, "execution: max_ai_reroutes must not be negative")
	}
	if e.ParallelGroupSize < 1 {
		errs = append(errs, "execution: parallel_group_size must be positive")
	}
	if !validMerges[e.ParallelMerge] {
		errs = append(errs, fmt.Sprintf("execution: unknown parallel_merge %q (valid: max, split)", e.ParallelMerge))
	}
	if e.Retention.Duration <= 0 {
		errs = append(errs, "execution: retention must be positive")
	}

	if c.Simulator.TimeScale < 0 {
		errs = append(errs, "simulator: time_scale must not be negative")
	}
	if c.Simulator.MaxDelay.Duration < 0 {
		errs = append(errs, "simulator: max_delay must not be negative")
	}

	if c.Segments.CacheTTL.Duration <= 0 || c.Segments.LocalTTL.Duration <= 0 {
		errs = append(errs, "segments: cache_ttl and local_ttl must be positive")
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Sprintf("metrics: path %q must start with /", c.Metrics.Path))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
