// Package config defines the top-level configuration for the resolution
// oracle and provides validation helpers.
package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictx-oracle/internal/chain"
	"github.com/alanyoungcy/predictx-oracle/internal/crypto"
	"github.com/alanyoungcy/predictx-oracle/internal/pipeline"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PREDICTX_* environment variables.
type Config struct {
	Workflow  WorkflowConfig  `toml:"workflow"`
	Chain     ChainConfig     `toml:"chain"`
	Consensus ConsensusConfig `toml:"consensus"`
	Node      NodeConfig      `toml:"node"`
	MetricAPI MetricAPIConfig `toml:"metric_api"`
	Secrets   SecretsConfig   `toml:"secrets"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// WorkflowConfig is the resolution workflow surface: when to run, which
// contracts to talk to, and where the metric data lives.
type WorkflowConfig struct {
	Schedule                string   `toml:"schedule"`
	MarketRegistryAddress   string   `toml:"market_registry_address"`
	MarketResolutionAddress string   `toml:"market_resolution_address"`
	ChainName               string   `toml:"chain_name"`
	GasLimit                string   `toml:"gas_limit"`
	APIBaseURL              string   `toml:"api_base_url"`
	CycleTimeout            duration `toml:"cycle_timeout"`
}

// GasLimitValue parses the string-encoded gas limit.
func (w WorkflowConfig) GasLimitValue() (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(w.GasLimit), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("gas_limit %q: %w", w.GasLimit, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("gas_limit must be > 0")
	}
	return n, nil
}

// ChainConfig holds RPC endpoints and the wallet that submits reports.
type ChainConfig struct {
	RPCURLs          map[string]string `toml:"rpc_urls"`
	AllowMainnet     bool              `toml:"allow_mainnet"`
	PrivateKey       string            `toml:"private_key"`
	EncryptedKeyPath string            `toml:"encrypted_key_path"`
	KeyPassword      string            `toml:"key_password"`
	ReadRetries      int               `toml:"read_retries"`
	ReadRetryDelay   duration          `toml:"read_retry_delay"`
}

// KeySource returns the sender wallet's key source.
func (c ChainConfig) KeySource() crypto.KeySource {
	return crypto.KeySource{
		RawPrivateKey:    c.PrivateKey,
		EncryptedKeyPath: c.EncryptedKeyPath,
		KeyPassword:      c.KeyPassword,
	}
}

// ConsensusConfig describes the executing node set.
type ConsensusConfig struct {
	Quorum      int          `toml:"quorum"`
	NodeTimeout duration     `toml:"node_timeout"`
	Nodes       []NodeConfig `toml:"nodes"`
}

// NodeConfig describes one oracle node. A node with a URL is a remote peer;
// otherwise it runs in-process with its own key. Signer pins the address a
// remote peer signs with (see GET /api/node/info on the peer).
type NodeConfig struct {
	ID               string `toml:"id"`
	URL              string `toml:"url"`
	APIKey           string `toml:"api_key"`
	Signer           string `toml:"signer"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// Remote reports whether the node is reached over HTTP.
func (n NodeConfig) Remote() bool { return strings.TrimSpace(n.URL) != "" }

// KeySource returns the node's signing key source.
func (n NodeConfig) KeySource() crypto.KeySource {
	return crypto.KeySource{
		RawPrivateKey:    n.PrivateKey,
		EncryptedKeyPath: n.EncryptedKeyPath,
		KeyPassword:      n.KeyPassword,
	}
}

// MetricAPIConfig tunes the external data API client.
type MetricAPIConfig struct {
	Timeout duration `toml:"timeout"`
}

// SecretsConfig controls how logical secret ids are resolved. A secret id
// is looked up as the environment variable <env_prefix><id>, then in values.
type SecretsConfig struct {
	EnvPrefix string            `toml:"env_prefix"`
	Values    map[string]string `toml:"values"`
}

// PostgresConfig holds PostgreSQL connection parameters for resolution
// history.
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
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	LockTTL    duration `toml:"lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters for the cycle
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`

	// RateLimit caps node observe/sign calls per client IP per RateWindow.
	// It needs Redis; zero disables it.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Workflow: WorkflowConfig{
			Schedule:     "0 */10 * * * *",
			ChainName:    "ethereum-testnet-sepolia",
			GasLimit:     "500000",
			APIBaseURL:   "https://api.x.com/2",
			CycleTimeout: duration{5 * time.Minute},
		},
		Chain: ChainConfig{
			RPCURLs:        map[string]string{},
			ReadRetries:    2,
			ReadRetryDelay: duration{250 * time.Millisecond},
		},
		Consensus: ConsensusConfig{
			NodeTimeout: duration{20 * time.Second},
		},
		MetricAPI: MetricAPIConfig{
			Timeout: duration{10 * time.Second},
		},
		Secrets: SecretsConfig{
			Values: map[string]string{},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			LockTTL:    duration{10 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "predictx-oracle",
			Prefix:         "cycles",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   60,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"market_resolved", "market_failed", "cycle_failed"},
		},
		Mode:     "oracle",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"oracle": true,
	"once":   true,
	"node":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: oracle, once, node)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if mode == "node" {
		errs = append(errs, c.validateNodeMode()...)
	} else {
		errs = append(errs, c.validateWorkflow(mode)...)
		errs = append(errs, c.validateConsensus()...)
	}

	if c.Postgres.Enabled && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.Enabled && c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	if c.Server.Enabled || mode == "node" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateWorkflow(mode string) []string {
	var errs []string
	w := c.Workflow

	if mode == "oracle" {
		if _, err := pipeline.ParseSchedule(w.Schedule); err != nil {
			errs = append(errs, "workflow: "+err.Error())
		}
	}

	if !common.IsHexAddress(w.MarketRegistryAddress) {
		errs = append(errs, fmt.Sprintf("workflow: market_registry_address %q is not a hex address", w.MarketRegistryAddress))
	}
	if !common.IsHexAddress(w.MarketResolutionAddress) {
		errs = append(errs, fmt.Sprintf("workflow: market_resolution_address %q is not a hex address", w.MarketResolutionAddress))
	} else if common.HexToAddress(w.MarketResolutionAddress) == (common.Address{}) {
		errs = append(errs, "workflow: market_resolution_address must not be the zero address")
	}

	if _, err := chain.LookupNetwork(w.ChainName, c.Chain.AllowMainnet); err != nil {
		errs = append(errs, "workflow: "+err.Error())
	} else if strings.TrimSpace(c.Chain.RPCURLs[w.ChainName]) == "" {
		errs = append(errs, fmt.Sprintf("chain: rpc_urls has no entry for %q", w.ChainName))
	}

	if _, err := w.GasLimitValue(); err != nil {
		errs = append(errs, "workflow: "+err.Error())
	}

	if u, err := url.Parse(w.APIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("workflow: api_base_url %q must be an absolute URL", w.APIBaseURL))
	}

	if c.Chain.KeySource().Empty() {
		errs = append(errs, "chain: either private_key or encrypted_key_path must be set for the sender wallet")
	}
	if c.Chain.EncryptedKeyPath != "" && c.Chain.PrivateKey == "" && c.Chain.KeyPassword == "" {
		errs = append(errs, "chain: key_password is required when encrypted_key_path is set")
	}
	if c.Chain.ReadRetries < 0 {
		errs = append(errs, "chain: read_retries must be >= 0")
	}
	return errs
}

func (c *Config) validateConsensus() []string {
	var errs []string
	nodes := c.Consensus.Nodes

	if len(nodes) == 0 {
		errs = append(errs, "consensus: at least one [[consensus.nodes]] entry is required")
	}
	// Quorum is never inferred from the node count.
	if c.Consensus.Quorum < 1 {
		errs = append(errs, "consensus: quorum must be set and >= 1")
	} else if len(nodes) > 0 && c.Consensus.Quorum > len(nodes) {
		errs = append(errs, fmt.Sprintf("consensus: quorum %d exceeds node count %d", c.Consensus.Quorum, len(nodes)))
	}

	seen := make(map[string]bool, len(nodes))
	for i, n := range nodes {
		label := fmt.Sprintf("consensus.nodes[%d]", i)
		if n.ID == "" {
			errs = append(errs, label+": id must not be empty")
		} else if seen[n.ID] {
			errs = append(errs, fmt.Sprintf("%s: duplicate id %q", label, n.ID))
		}
		seen[n.ID] = true

		if n.Remote() {
			if u, err := url.Parse(n.URL); err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, fmt.Sprintf("%s: url %q must be an absolute URL", label, n.URL))
			}
			if !common.IsHexAddress(n.Signer) || common.HexToAddress(n.Signer) == (common.Address{}) {
				errs = append(errs, fmt.Sprintf("%s: a remote node needs its signer address, got %q", label, n.Signer))
			}
			continue
		}
		if n.KeySource().Empty() {
			errs = append(errs, label+": a local node needs private_key or encrypted_key_path")
		}
	}
	return errs
}

func (c *Config) validateNodeMode() []string {
	var errs []string
	if c.Node.ID == "" {
		errs = append(errs, "node: id must not be empty")
	}
	if c.Node.KeySource().Empty() {
		errs = append(errs, "node: either private_key or encrypted_key_path must be set")
	}
	if c.Node.APIKey == "" {
		errs = append(errs, "node: api_key must be set so only the coordinator can use this node")
	}
	if u, err := url.Parse(c.Workflow.APIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("workflow: api_base_url %q must be an absolute URL", c.Workflow.APIBaseURL))
	}
	return errs
}
