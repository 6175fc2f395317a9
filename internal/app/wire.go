package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/predictx-oracle/internal/blob/s3"
	"github.com/alanyoungcy/predictx-oracle/internal/cache/redis"
	"github.com/alanyoungcy/predictx-oracle/internal/chain"
	"github.com/alanyoungcy/predictx-oracle/internal/config"
	"github.com/alanyoungcy/predictx-oracle/internal/consensus"
	"github.com/alanyoungcy/predictx-oracle/internal/crypto"
	"github.com/alanyoungcy/predictx-oracle/internal/domain"
	"github.com/alanyoungcy/predictx-oracle/internal/notify"
	"github.com/alanyoungcy/predictx-oracle/internal/pipeline"
	"github.com/alanyoungcy/predictx-oracle/internal/platform/metricapi"
	"github.com/alanyoungcy/predictx-oracle/internal/report"
	"github.com/alanyoungcy/predictx-oracle/internal/secrets"
	"github.com/alanyoungcy/predictx-oracle/internal/server/handler"
	"github.com/alanyoungcy/predictx-oracle/internal/store/postgres"
)

// Operating modes.
const (
	ModeOracle = "oracle"
	ModeOnce   = "once"
	ModeNode   = "node"
)

// Dependencies bundles everything the operating modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
// Optional layers are left nil when disabled.
type Dependencies struct {
	Network chain.Network

	// Resolution pipeline (oracle and once modes).
	Reader    pipeline.MarketReader
	Nodes     *consensus.NodeSet
	Resolver  *pipeline.Resolver
	Scheduler *pipeline.Scheduler

	// Local node (node mode).
	NodeID string
	Node   *consensus.LocalNode

	// Stores
	History    domain.ResolutionStore
	AuditStore domain.AuditStore

	// Caches
	OutcomeCache domain.OutcomeCache
	RateLimiter  domain.RateLimiter
	LockManager  domain.LockManager
	SignalBus    domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter

	// Notifications
	Notifier *notify.Notifier

	HealthChecks map[string]handler.HealthCheck
}

// needsHistory returns true for modes that record resolution history.
func needsHistory(mode string) bool {
	return mode == ModeOracle || mode == ModeOnce
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	mode := strings.ToLower(cfg.Mode)
	deps := &Dependencies{
		HealthChecks: make(map[string]handler.HealthCheck),
	}

	// --- PostgreSQL (resolution history and audit log) ---
	if cfg.Postgres.Enabled && needsHistory(mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.History = postgres.NewResolutionStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.HealthChecks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		if needsHistory(mode) {
			deps.OutcomeCache = redis.NewOutcomeCache(redisClient)
			deps.LockManager = redis.NewLockManager(redisClient)
			deps.SignalBus = redis.NewSignalBus(redisClient)
		}
		deps.HealthChecks["redis"] = redisClient.Ping
	}

	// --- S3 cycle archive ---
	if cfg.S3.Enabled && needsHistory(mode) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	if mode == ModeNode {
		node, err := newLocalNode(cfg, cfg.Node)
		if err != nil {
			return fail(fmt.Errorf("wire: node %s: %w", cfg.Node.ID, err))
		}
		deps.NodeID = cfg.Node.ID
		deps.Node = node
		logger.InfoContext(ctx, "local node ready",
			slog.String("node_id", cfg.Node.ID),
			slog.String("address", node.Address().Hex()),
		)
		return deps, cleanup, nil
	}

	// --- Chain ---
	network, err := chain.LookupNetwork(cfg.Workflow.ChainName, cfg.Chain.AllowMainnet)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.Network = network

	ethClient, err := chain.Dial(ctx, cfg.Chain.RPCURLs[network.Name], network)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	closers = append(closers, ethClient.Close)
	deps.HealthChecks["chain"] = func(ctx context.Context) error {
		_, err := ethClient.BlockNumber(ctx)
		return err
	}

	reader := chain.NewRegistryReader(
		ethClient,
		common.HexToAddress(cfg.Workflow.MarketRegistryAddress),
		logger,
		chain.WithRetries(cfg.Chain.ReadRetries, cfg.Chain.ReadRetryDelay.Duration),
	)
	deps.Reader = reader

	senderKey, err := crypto.LoadKey(cfg.Chain.KeySource())
	if err != nil {
		return fail(fmt.Errorf("wire: sender wallet: %w", err))
	}
	writer := chain.NewReportWriter(ethClient, senderKey, network.ChainID, logger)

	// --- Node set ---
	nodes := make([]consensus.Node, 0, len(cfg.Consensus.Nodes))
	for _, nc := range cfg.Consensus.Nodes {
		node := consensus.Node{ID: nc.ID}
		if nc.Remote() {
			node.Runtime = consensus.NewRemoteNode(nc.URL, nc.APIKey, cfg.Consensus.NodeTimeout.Duration)
			node.Signer = common.HexToAddress(nc.Signer)
		} else {
			local, err := newLocalNode(cfg, nc)
			if err != nil {
				return fail(fmt.Errorf("wire: node %s: %w", nc.ID, err))
			}
			node.Runtime = local
			node.Signer = local.Address()
		}
		nodes = append(nodes, node)
	}
	nodeSet, err := consensus.NewNodeSet(nodes, cfg.Consensus.Quorum, cfg.Consensus.NodeTimeout.Duration, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.Nodes = nodeSet

	gasLimit, err := cfg.Workflow.GasLimitValue()
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	deps.Resolver = pipeline.NewResolver(
		pipeline.ResolverConfig{
			ChainName:         network.Name,
			AllowMainnet:      cfg.Chain.AllowMainnet,
			ResolutionAddress: common.HexToAddress(cfg.Workflow.MarketResolutionAddress),
			GasLimit:          gasLimit,
		},
		reader,
		nodeSet,
		report.NewBuilder(nodeSet, nodeSet.Signers()...),
		writer,
		secrets.NewEnvStore(cfg.Secrets.EnvPrefix, cfg.Secrets.Values),
		logger,
		pipeline.WithHooks(buildHooks(deps, cfg.S3.Prefix)),
	)

	if mode == ModeOracle {
		opts := []pipeline.SchedulerOption{pipeline.WithCycleTimeout(cfg.Workflow.CycleTimeout.Duration)}
		if deps.LockManager != nil {
			opts = append(opts,
				pipeline.WithLock(deps.LockManager),
				pipeline.WithLockTTL(cfg.Redis.LockTTL.Duration),
			)
		}
		deps.Scheduler, err = pipeline.NewScheduler(deps.Resolver, cfg.Workflow.Schedule, logger, opts...)
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
	}

	logger.InfoContext(ctx, "resolution pipeline ready",
		slog.String("chain", network.Name),
		slog.Uint64("chain_id", network.ChainID),
		slog.Int("nodes", nodeSet.Size()),
		slog.Int("quorum", nodeSet.Quorum()),
		slog.String("sender", writer.From().Hex()),
	)
	return deps, cleanup, nil
}

// newLocalNode builds an in-process node with its own key and data API
// client.
func newLocalNode(cfg *config.Config, nc config.NodeConfig) (*consensus.LocalNode, error) {
	signer, err := crypto.NewSignerFromSource(nc.KeySource())
	if err != nil {
		return nil, err
	}
	fetcher := metricapi.NewClient(cfg.Workflow.APIBaseURL, cfg.MetricAPI.Timeout.Duration)
	return consensus.NewLocalNode(fetcher, signer), nil
}

// buildHooks attaches whichever observers are wired. Interface fields are
// only set from non-nil values.
func buildHooks(deps *Dependencies, archivePrefix string) pipeline.Hooks {
	var hooks pipeline.Hooks

	var recorders pipeline.Recorders
	if deps.History != nil {
		recorders = append(recorders, deps.History)
	}
	if deps.OutcomeCache != nil {
		recorders = append(recorders, pipeline.CacheRecorder{Cache: deps.OutcomeCache})
	}
	if deps.AuditStore != nil {
		recorders = append(recorders, pipeline.AuditRecorder{Store: deps.AuditStore})
	}
	if len(recorders) > 0 {
		hooks.Recorder = recorders
	}

	if deps.SignalBus != nil {
		hooks.Bus = deps.SignalBus
	}
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		hooks.Notifier = deps.Notifier
	}
	if deps.BlobWriter != nil {
		hooks.Archive = pipeline.NewCycleArchiver(deps.BlobWriter, archivePrefix)
	}
	return hooks
}
