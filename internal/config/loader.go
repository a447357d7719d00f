package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges an optional TOML file at path on top of the built-in defaults,
// applies ROUTEENGINE_* environment variable overrides, and returns the final
// Config. An empty path skips the file. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ROUTEENGINE_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "ROUTEENGINE_MODE")
	setStr(&cfg.LogLevel, "ROUTEENGINE_LOG_LEVEL")

	// Server
	setInt(&cfg.Server.Port, "ROUTEENGINE_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "ROUTEENGINE_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "ROUTEENGINE_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "ROUTEENGINE_SERVER_RATE_LIMIT")

	// Postgres
	setBool(&cfg.Postgres.Enabled, "ROUTEENGINE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ROUTEENGINE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.Host, "ROUTEENGINE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ROUTEENGINE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ROUTEENGINE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ROUTEENGINE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ROUTEENGINE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ROUTEENGINE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ROUTEENGINE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ROUTEENGINE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ROUTEENGINE_POSTGRES_RUN_MIGRATIONS")

	// Redis
	setBool(&cfg.Redis.Enabled, "ROUTEENGINE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ROUTEENGINE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ROUTEENGINE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ROUTEENGINE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ROUTEENGINE_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "ROUTEENGINE_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "ROUTEENGINE_REDIS_KEY_PREFIX")

	// S3
	setBool(&cfg.S3.Enabled, "ROUTEENGINE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ROUTEENGINE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ROUTEENGINE_S3_REGION")
	setStr(&cfg.S3.Bucket, "ROUTEENGINE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ROUTEENGINE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ROUTEENGINE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ROUTEENGINE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ROUTEENGINE_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "ROUTEENGINE_S3_PREFIX")

	// Routing
	setInt(&cfg.Routing.MaxHops, "ROUTEENGINE_ROUTING_MAX_HOPS")
	setInt(&cfg.Routing.MaxCandidates, "ROUTEENGINE_ROUTING_MAX_CANDIDATES")
	setStr(&cfg.Routing.PrimarySolver, "ROUTEENGINE_ROUTING_PRIMARY_SOLVER")
	setStr(&cfg.Routing.SecondarySolver, "ROUTEENGINE_ROUTING_SECONDARY_SOLVER")
	setFloat64(&cfg.Routing.CostWeight, "ROUTEENGINE_ROUTING_COST_WEIGHT")
	setFloat64(&cfg.Routing.LatencyWeight, "ROUTEENGINE_ROUTING_LATENCY_WEIGHT")
	setFloat64(&cfg.Routing.ReliabilityWeight, "ROUTEENGINE_ROUTING_RELIABILITY_WEIGHT")
	setFloat64(&cfg.Routing.Alpha, "ROUTEENGINE_ROUTING_ALPHA")
	setFloat64(&cfg.Routing.Beta, "ROUTEENGINE_ROUTING_BETA")
	setFloat64(&cfg.Routing.Gamma, "ROUTEENGINE_ROUTING_GAMMA")
	setInt(&cfg.Routing.SearchBudget, "ROUTEENGINE_ROUTING_SEARCH_BUDGET")

	// Execution
	setFloat64(&cfg.Execution.RerouteCostPercent, "ROUTEENGINE_EXECUTION_REROUTE_COST_PERCENT")
	setFloat64(&cfg.Execution.RerouteLatencyPercent, "ROUTEENGINE_EXECUTION_REROUTE_LATENCY_PERCENT")
	setFloat64(&cfg.Execution.RerouteReliability, "ROUTEENGINE_EXECUTION_REROUTE_RELIABILITY")
	setInt(&cfg.Execution.MaxAIReroutes, "ROUTEENGINE_EXECUTION_MAX_AI_REROUTES")
	setInt(&cfg.Execution.ParallelGroupSize, "ROUTEENGINE_EXECUTION_PARALLEL_GROUP_SIZE")
	setStr(&cfg.Execution.ParallelMerge, "ROUTEENGINE_EXECUTION_PARALLEL_MERGE")
	setDuration(&cfg.Execution.Retention, "ROUTEENGINE_EXECUTION_RETENTION")
	setDuration(&cfg.Execution.JanitorInterval, "ROUTEENGINE_EXECUTION_JANITOR_INTERVAL")

	// Simulator
	setFloat64(&cfg.Simulator.TimeScale, "ROUTEENGINE_SIMULATOR_TIME_SCALE")
	setDuration(&cfg.Simulator.MaxDelay, "ROUTEENGINE_SIMULATOR_MAX_DELAY")
	setUint64(&cfg.Simulator.Seed, "ROUTEENGINE_SIMULATOR_SEED")
	setStringSlice(&cfg.Simulator.FastNetworks, "ROUTEENGINE_SIMULATOR_FAST_NETWORKS")
	setStringSlice(&cfg.Simulator.Base58Networks, "ROUTEENGINE_SIMULATOR_BASE58_NETWORKS")
	setStr(&cfg.Simulator.VaultPassword, "ROUTEENGINE_SIMULATOR_VAULT_PASSWORD")
	setStr(&cfg.Simulator.OperatorKey, "ROUTEENGINE_SIMULATOR_OPERATOR_KEY")
	setInt(&cfg.Simulator.ChainID, "ROUTEENGINE_SIMULATOR_CHAIN_ID")

	// Segments
	setStr(&cfg.Segments.SeedFile, "ROUTEENGINE_SEGMENTS_SEED_FILE")
	setDuration(&cfg.Segments.CacheTTL, "ROUTEENGINE_SEGMENTS_CACHE_TTL")
	setDuration(&cfg.Segments.LocalTTL, "ROUTEENGINE_SEGMENTS_LOCAL_TTL")

	// Notify
	setStr(&cfg.Notify.TelegramToken, "ROUTEENGINE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ROUTEENGINE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ROUTEENGINE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ROUTEENGINE_NOTIFY_EVENTS")

	// Metrics
	setBool(&cfg.Metrics.Enabled, "ROUTEENGINE_METRICS_ENABLED")
	setStr(&cfg.Metrics.Path, "ROUTEENGINE_METRICS_PATH")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
