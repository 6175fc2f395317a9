package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PREDICTX_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PREDICTX_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Workflow ──
	setStr(&cfg.Workflow.Schedule, "PREDICTX_WORKFLOW_SCHEDULE")
	setStr(&cfg.Workflow.MarketRegistryAddress, "PREDICTX_WORKFLOW_MARKET_REGISTRY_ADDRESS")
	setStr(&cfg.Workflow.MarketResolutionAddress, "PREDICTX_WORKFLOW_MARKET_RESOLUTION_ADDRESS")
	setStr(&cfg.Workflow.ChainName, "PREDICTX_WORKFLOW_CHAIN_NAME")
	setStr(&cfg.Workflow.GasLimit, "PREDICTX_WORKFLOW_GAS_LIMIT")
	setStr(&cfg.Workflow.APIBaseURL, "PREDICTX_WORKFLOW_API_BASE_URL")
	setDuration(&cfg.Workflow.CycleTimeout, "PREDICTX_WORKFLOW_CYCLE_TIMEOUT")

	// ── Chain ──
	setBool(&cfg.Chain.AllowMainnet, "PREDICTX_CHAIN_ALLOW_MAINNET")
	setStr(&cfg.Chain.PrivateKey, "PREDICTX_CHAIN_PRIVATE_KEY")
	setStr(&cfg.Chain.EncryptedKeyPath, "PREDICTX_CHAIN_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Chain.KeyPassword, "PREDICTX_CHAIN_KEY_PASSWORD")
	setInt(&cfg.Chain.ReadRetries, "PREDICTX_CHAIN_READ_RETRIES")
	setDuration(&cfg.Chain.ReadRetryDelay, "PREDICTX_CHAIN_READ_RETRY_DELAY")
	if cfg.Chain.RPCURLs == nil {
		cfg.Chain.RPCURLs = map[string]string{}
	}
	if v := os.Getenv("PREDICTX_CHAIN_RPC_URL"); v != "" {
		cfg.Chain.RPCURLs[cfg.Workflow.ChainName] = v
	}

	// ── Consensus ──
	setInt(&cfg.Consensus.Quorum, "PREDICTX_CONSENSUS_QUORUM")
	setDuration(&cfg.Consensus.NodeTimeout, "PREDICTX_CONSENSUS_NODE_TIMEOUT")

	// ── Node ──
	setStr(&cfg.Node.ID, "PREDICTX_NODE_ID")
	setStr(&cfg.Node.APIKey, "PREDICTX_NODE_API_KEY")
	setStr(&cfg.Node.PrivateKey, "PREDICTX_NODE_PRIVATE_KEY")
	setStr(&cfg.Node.EncryptedKeyPath, "PREDICTX_NODE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Node.KeyPassword, "PREDICTX_NODE_KEY_PASSWORD")

	// ── Metric API ──
	setDuration(&cfg.MetricAPI.Timeout, "PREDICTX_METRIC_API_TIMEOUT")

	// ── Secrets ──
	setStr(&cfg.Secrets.EnvPrefix, "PREDICTX_SECRETS_ENV_PREFIX")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "PREDICTX_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "PREDICTX_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "PREDICTX_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PREDICTX_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PREDICTX_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PREDICTX_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PREDICTX_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PREDICTX_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PREDICTX_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PREDICTX_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PREDICTX_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PREDICTX_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PREDICTX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PREDICTX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PREDICTX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PREDICTX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PREDICTX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PREDICTX_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.LockTTL, "PREDICTX_REDIS_LOCK_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PREDICTX_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PREDICTX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PREDICTX_S3_REGION")
	setStr(&cfg.S3.Bucket, "PREDICTX_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "PREDICTX_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "PREDICTX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PREDICTX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PREDICTX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PREDICTX_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PREDICTX_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PREDICTX_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "PREDICTX_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "PREDICTX_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "PREDICTX_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "PREDICTX_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PREDICTX_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PREDICTX_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PREDICTX_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PREDICTX_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PREDICTX_MODE")
	setStr(&cfg.LogLevel, "PREDICTX_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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
