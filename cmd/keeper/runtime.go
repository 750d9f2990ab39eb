package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq" // Postgres driver for the indexer mirror

	"github.com/orbitpay/keeper/pkg/api"
	"github.com/orbitpay/keeper/pkg/chain"
	"github.com/orbitpay/keeper/pkg/claim"
	"github.com/orbitpay/keeper/pkg/config"
	"github.com/orbitpay/keeper/pkg/contracts"
	"github.com/orbitpay/keeper/pkg/dispatch"
	"github.com/orbitpay/keeper/pkg/evaluator"
	"github.com/orbitpay/keeper/pkg/guard"
	"github.com/orbitpay/keeper/pkg/identity"
	"github.com/orbitpay/keeper/pkg/journal"
	"github.com/orbitpay/keeper/pkg/metering"
	"github.com/orbitpay/keeper/pkg/observability"
	"github.com/orbitpay/keeper/pkg/source"
	"github.com/orbitpay/keeper/pkg/sweep"
)

// Runtime holds the assembled keeper and everything that needs closing on
// the way out.
type Runtime struct {
	Config   *config.Config
	Engine   *sweep.Engine
	Meter    metering.Meter
	Provider *observability.Provider

	closers []func() error
}

// buildRuntime wires configuration into a ready engine. It fails only on
// misconfiguration that makes the keeper useless: a missing identity, an
// unreachable indexer DSN, or no schedule source at all.
func buildRuntime(ctx context.Context) (*Runtime, error) {
	cfg := config.Load()
	if network := os.Getenv("KEEPER_NETWORK"); network != "" {
		dir := os.Getenv("KEEPER_PROFILES_DIR")
		if dir == "" {
			dir = "profiles"
		}
		profile, err := config.LoadProfile(dir, network)
		if err != nil {
			return nil, err
		}
		profile.Apply(cfg)
	}
	setupLogger(cfg.LogLevel)

	exec, err := identity.FromHexSeed(cfg.ExecutorKey)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Config: cfg}

	rpcCfg := chain.DefaultRPCClientConfig(cfg.GatewayURL)
	rpcCfg.GasCeiling = cfg.GasCeiling
	rpcCfg.MaxRetries = cfg.MaxRetries
	client := chain.NewRPCClient(rpcCfg, exec)

	var sources []source.ScheduleSource
	if len(cfg.WatchAccounts) > 0 {
		accounts := make([]contracts.Address, 0, len(cfg.WatchAccounts))
		for _, a := range cfg.WatchAccounts {
			accounts = append(accounts, contracts.Address(a))
		}
		sources = append(sources, source.NewDirectEnumeration(client, accounts))
	}
	if cfg.IndexerDSN != "" {
		db, err := sql.Open("postgres", cfg.IndexerDSN)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open indexer mirror: %w", err)
		}
		rt.closers = append(rt.closers, db.Close)
		sources = append(sources, source.NewIndexedQuery(db, cfg.IndexLimit))
	}
	if len(sources) == 0 {
		rt.Close()
		return nil, errors.New("no schedule source configured: set KEEPER_WATCH_ACCOUNTS or KEEPER_INDEXER_DSN")
	}

	deps := sweep.Deps{
		Source:     source.NewUnion(sources...),
		Evaluator:  evaluator.New(client),
		Guard:      guard.NewSpendingGuard(client),
		Dispatcher: dispatch.New(client, dispatch.Config{
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
			ExecPause:  cfg.ExecPause,
		}),
		Meter: metering.NewMemoryMeter(),
	}

	if cfg.RedisAddr != "" {
		marker := claim.NewMarker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
			string(exec.Address()), 2*cfg.Cadence)
		rt.closers = append(rt.closers, marker.Close)
		deps.Claimer = marker
	}

	var store journal.Store
	if cfg.JournalPath != "" {
		sqliteStore, err := journal.OpenSQLiteStore(cfg.JournalPath)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
		rt.closers = append(rt.closers, sqliteStore.Close)
		store = sqliteStore
	}
	jnl, err := journal.New(string(exec.Address()), store)
	if err != nil {
		rt.Close()
		return nil, err
	}
	deps.Journal = jnl

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.OTLPEndpoint != ""
	if obsCfg.Enabled {
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	provider, err := observability.New(ctx, obsCfg)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("init observability: %w", err)
	}
	rt.closers = append(rt.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return provider.Shutdown(shutdownCtx)
	})
	deps.Recorder = provider

	rt.Provider = provider
	rt.Meter = deps.Meter
	rt.Engine = sweep.NewEngine(exec.Address(), sweep.Config{Cadence: cfg.Cadence}, deps)
	return rt, nil
}

// Serve starts the engine and control API and blocks until ctx is canceled.
func (rt *Runtime) Serve(ctx context.Context, stderr io.Writer) int {
	logger := slog.Default().With("component", "main")

	if err := rt.Engine.Start(); err != nil {
		fmt.Fprintf(stderr, "keeper: start engine: %v\n", err)
		return 1
	}

	server := &http.Server{
		Addr:              ":" + rt.Config.Port,
		Handler:           api.NewControlService(rt.Engine, rt.Meter).Handler(rt.Config.APISecret),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("control api listening", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(stderr, "keeper: control api: %v\n", err)
		}
	}

	if err := rt.Engine.Stop(); err != nil && !errors.Is(err, sweep.ErrNotRunning) {
		logger.Warn("engine stop", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("control api shutdown", "error", err)
	}
	return 0
}

// Close releases all held resources in reverse acquisition order.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		_ = rt.closers[i]()
	}
	rt.closers = nil
}

func setupLogger(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
