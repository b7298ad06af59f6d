package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/vietddude/txguard/internal/audit"
	"github.com/vietddude/txguard/internal/core/config"
	"github.com/vietddude/txguard/internal/execution/atomic"
	"github.com/vietddude/txguard/internal/execution/retry"
	"github.com/vietddude/txguard/internal/health"
	"github.com/vietddude/txguard/internal/infra/chain"
	"github.com/vietddude/txguard/internal/infra/chain/paper"
	redisclient "github.com/vietddude/txguard/internal/infra/redis"
	"github.com/vietddude/txguard/internal/infra/storage"
	"github.com/vietddude/txguard/internal/infra/storage/memory"
	"github.com/vietddude/txguard/internal/infra/storage/postgres"
	"github.com/vietddude/txguard/internal/ledger"
	"github.com/vietddude/txguard/internal/risk"
	"github.com/vietddude/txguard/internal/safety/breaker"
	"github.com/vietddude/txguard/internal/validation"
)

// recentEvents is the size of the in-memory audit ring served on /events.
const recentEvents = 1000

// Provider is everything txguard needs from the chain or exchange.
type Provider interface {
	chain.TransactionProvider
	chain.WalletProvider
	chain.FeeProvider
}

// Guard is the main application struct. It owns every component and their lifecycle.
type Guard struct {
	cfg      *config.AppConfig
	provider Provider
	serve    bool
	sink     audit.AlertSink

	events   *audit.Recent
	audit    audit.Log
	breaker  *breaker.Breaker
	ledger   *ledger.Store
	queue    *retry.Queue
	executor *atomic.Executor
	risk     *risk.Manager

	healthMon    *health.Monitor
	healthServer *health.Server
	grpcServer   *health.GRPCServer

	db          *postgres.DB
	redisClient *redisclient.Client
	log         *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Option configures a Guard.
type Option func(*Guard)

// WithProvider replaces the simulated chain built from the paper config.
func WithProvider(p Provider) Option {
	return func(g *Guard) { g.provider = p }
}

// WithAlertSink replaces the log-backed alert sink.
func WithAlertSink(sink audit.AlertSink) Option {
	return func(g *Guard) { g.sink = sink }
}

// WithoutServers keeps Start from opening the admin HTTP and gRPC listeners.
func WithoutServers() Option {
	return func(g *Guard) { g.serve = false }
}

// NewGuard creates a Guard instance with all dependencies initialized.
func NewGuard(ctx context.Context, cfg *config.AppConfig, opts ...Option) (*Guard, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	config.ApplyDefaults(cfg)
	g := &Guard{
		cfg:   cfg,
		serve: true,
		log:   slog.Default().With("component", "guard"),
	}
	for _, opt := range opts {
		opt(g)
	}

	limits, err := cfg.Risk.Limits()
	if err != nil {
		return nil, err
	}

	// 1. Audit trail
	g.events = audit.NewRecent(recentEvents)
	g.audit = audit.Multi{audit.NewSlogLog(slog.Default()), g.events, audit.Counter{}}
	if g.sink == nil {
		g.sink = audit.NewLogAlertSink(slog.Default())
	}

	// 2. Storage
	repo, err := g.openStorage(ctx)
	if err != nil {
		return nil, err
	}

	// 3. Provider
	if g.provider == nil {
		chainSim, err := paper.New(cfg.Paper)
		if err != nil {
			g.closeStorage()
			return nil, err
		}
		g.provider = chainSim
		g.log.Info("Using paper chain", "seed", cfg.Paper.Seed)
	}

	// 4. Safety core
	g.breaker = breaker.New(cfg.Breaker, g.audit, breaker.WithAlertSink(g.sink))
	g.ledger = ledger.NewStore(repo, g.audit)

	g.queue, err = retry.NewQueue(cfg.Retry, g.provider, g.breaker, g.audit, retry.WithLedger(g.ledger))
	if err != nil {
		g.closeStorage()
		return nil, err
	}

	g.executor, err = atomic.New(atomic.Config{
		Provider: g.provider,
		Breaker:  g.breaker,
		Ledger:   g.ledger,
		Retry:    g.queue,
		Audit:    g.audit,
	})
	if err != nil {
		g.closeStorage()
		return nil, err
	}

	// 5. Validation gates
	g.risk, err = g.buildRisk(limits)
	if err != nil {
		g.closeStorage()
		return nil, err
	}

	// 6. Health
	g.healthMon = health.NewMonitor(health.MonitorConfig{StorageDriver: cfg.Storage.Driver},
		g.breaker, g.queue, g.ledger, g.events)
	g.healthServer = health.NewServer(g.healthMon, g.events, g.ledger, g.breaker, cfg.Server.Port)
	if cfg.Server.GRPCPort > 0 {
		g.grpcServer = health.NewGRPCServer(cfg.Server.GRPCPort)
		g.breaker.OnTransition(g.grpcServer.OnBreakerTransition)
	}

	return g, nil
}

func (g *Guard) openStorage(ctx context.Context) (storage.FailedTxRepository, error) {
	switch g.cfg.Storage.Driver {
	case config.DriverPostgres:
		db, err := postgres.NewDB(ctx, g.cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		g.db = db
		g.log.Info("Using PostgreSQL storage")
		return postgres.NewFailedTxRepo(db), nil

	case config.DriverRedis:
		client, err := redisclient.NewClient(g.cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		g.redisClient = client
		g.log.Info("Using Redis storage")
		return redisclient.NewFailedTxRepo(client), nil

	case config.DriverMemory, "":
		g.log.Info("Using Memory storage")
		return memory.NewFailedTxRepo(), nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", g.cfg.Storage.Driver)
	}
}

func (g *Guard) buildRisk(limits *config.Limits) (*risk.Manager, error) {
	rc := g.cfg.Risk

	capital, err := validation.NewCapitalSafetyValidator(validation.CapitalConfig{
		MinReserve:          limits.MinReserve,
		MaxTradeFractionBps: rc.MaxTradeFractionBps,
		MaxTradeAmount:      limits.MaxTradeAmount,
		FeeAsset:            rc.FeeAsset,
		FeeBuffer:           limits.FeeBuffer,
	}, g.breaker, g.audit)
	if err != nil {
		return nil, err
	}

	slippage, err := validation.NewSlippageEnforcer(*rc.MaxSlippageBps, g.breaker, g.audit)
	if err != nil {
		return nil, err
	}

	return risk.NewManager(risk.Config{
		Breaker:    g.breaker,
		Wallet:     g.provider,
		Monitor:    validation.NewBalanceMonitor(limits.MinBalance, g.breaker, g.audit),
		Reconciler: validation.NewBalanceReconciler(g.provider, limits.ReconcileTolerance, g.breaker, g.audit),
		Capital:    capital,
		Slippage:   slippage,
		Fees:       validation.NewFeeManager(g.provider, limits.FeeCap, g.breaker, g.audit),
		Audit:      g.audit,
	})
}

// Start starts the retry workers and, unless disabled, the admin servers.
func (g *Guard) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return errors.New("guard already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := g.queue.Start(runCtx); err != nil {
		cancel()
		return err
	}
	g.cancel = cancel

	// Start DB Metrics Collector
	if g.db != nil {
		g.db.StartMetricsCollector(runCtx)
	}

	if g.serve {
		go func() {
			if err := g.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				g.log.Error("Admin server failed", "error", err)
			}
		}()
		if g.grpcServer != nil {
			go func() {
				if err := g.grpcServer.Start(); err != nil {
					g.log.Error("gRPC health server failed", "error", err)
				}
			}()
		}
	}

	audit.Emit(g.audit, audit.LevelInfo, audit.SystemStarted, "", "txguard started", map[string]any{
		"storage":        g.cfg.Storage.Driver,
		"retry_workers":  g.cfg.Retry.Concurrency,
		"admin_port":     g.cfg.Server.Port,
		"servers_active": g.serve,
	})
	return nil
}

// Stop stops task pickup, waits for in-flight retries and releases every resource.
func (g *Guard) Stop(ctx context.Context) error {
	g.mu.Lock()
	cancel := g.cancel
	g.cancel = nil
	g.mu.Unlock()

	g.log.Info("Stopping txguard...")
	g.queue.Stop()
	if cancel != nil {
		cancel()
	}

	var errs []error
	if g.serve && cancel != nil {
		if err := g.healthServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("admin server: %w", err))
		}
		if g.grpcServer != nil {
			g.grpcServer.Stop()
		}
	}
	g.closeStorage()

	audit.Emit(g.audit, audit.LevelInfo, audit.SystemStopped, "", "txguard stopped", map[string]any{
		"pending_retries": g.queue.Len(),
		"halted":          g.breaker.IsHalted(),
	})
	return errors.Join(errs...)
}

func (g *Guard) closeStorage() {
	if g.redisClient != nil {
		if err := g.redisClient.Close(); err != nil {
			g.log.Warn("Failed to close Redis", "error", err)
		}
		g.redisClient = nil
	}
	if g.db != nil {
		if err := g.db.Close(); err != nil {
			g.log.Warn("Failed to close database", "error", err)
		}
		g.db = nil
	}
}

func (g *Guard) Breaker() *breaker.Breaker  { return g.breaker }
func (g *Guard) Executor() *atomic.Executor { return g.executor }
func (g *Guard) Risk() *risk.Manager        { return g.risk }
func (g *Guard) Ledger() *ledger.Store      { return g.ledger }
func (g *Guard) Queue() *retry.Queue        { return g.queue }
func (g *Guard) Provider() Provider         { return g.provider }
func (g *Guard) Events() *audit.Recent      { return g.events }
func (g *Guard) Health() *health.Monitor    { return g.healthMon }
func (g *Guard) AdminHandler() http.Handler { return g.healthServer.Handler() }
