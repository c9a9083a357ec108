package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"nhbbridge/config"
	"nhbbridge/core/events"
	"nhbbridge/core/state"
	"nhbbridge/native/bridge"
	"nhbbridge/observability/logging"
	"nhbbridge/observability/metrics"
	telemetry "nhbbridge/observability/otel"
	"nhbbridge/rpc"
	"nhbbridge/storage"
)

func main() {
	configFile := flag.String("config", "./bridge.toml", "Path to the configuration file (TOML or YAML)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(logging.Options{
		Service:     "bridged",
		Environment: cfg.Environment,
		Level:       cfg.Logging.Level,
		File:        cfg.Logging.File,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("bridged exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	headers, err := telemetry.ParseHeaders(cfg.Telemetry.Headers)
	if err != nil {
		return err
	}
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "bridged",
		Environment: cfg.Environment,
		ChainID:     cfg.ChainID,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	if cfg.Storage != storage.BackendMemory {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("prepare data dir: %w", err)
		}
	}
	db, err := storage.Open(cfg.Storage, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	engine, err := bootstrap(ctx, cfg, db, logger)
	if err != nil {
		return err
	}

	server := rpc.New(rpc.Config{
		Bridge: engine,
		Logger: logger,
		RateLimit: rpc.RateLimit{
			RequestsPerMinute: float64(cfg.RPC.RequestsPerMinute),
			Burst:             cfg.RPC.Burst,
		},
	})
	handler := server.Handler()
	if cfg.Telemetry.Traces {
		handler = otelhttp.NewHandler(handler, "bridged")
	}
	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: time.Duration(cfg.RPC.ReadHeaderTimeoutSeconds) * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("bridge rpc listening", "address", listener.Addr().String(), "chain_id", cfg.ChainID)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", slog.Any("error", err))
	}
	logger.Info("bridged stopped")
	return nil
}

// bootstrap builds the engine over db and, on first start, stores the
// configured committee and limits and credits the initial custody.
func bootstrap(ctx context.Context, cfg *config.Config, db storage.Database, logger *slog.Logger) (*bridge.Engine, error) {
	table, err := cfg.AssetTable()
	if err != nil {
		return nil, err
	}
	engine, err := bridge.NewEngine(state.NewManager(db), bridge.Config{
		ChainID:       cfg.ChainID,
		Policy:        cfg.Policy(),
		Assets:        table,
		WindowSeconds: cfg.Limiter.WindowSeconds,
		Emitter:       events.LogEmitter{Logger: logger},
		Logger:        logger,
		Metrics:       metrics.Bridge(),
	})
	if err != nil {
		return nil, err
	}

	initialized, err := engine.Initialized()
	if err != nil {
		return nil, err
	}
	if initialized {
		logger.Info("bridge state found, skipping genesis")
		return engine, nil
	}

	genesis, err := cfg.Genesis()
	if err != nil {
		return nil, err
	}
	if err := engine.Initialize(ctx, genesis); err != nil {
		return nil, fmt.Errorf("initialise bridge: %w", err)
	}
	custody, err := cfg.Custody()
	if err != nil {
		return nil, err
	}
	for id, amount := range custody {
		if err := engine.Fund(ctx, id, amount); err != nil {
			return nil, fmt.Errorf("fund asset %d: %w", id, err)
		}
		logger.Info("custody funded", "asset_id", id, "amount", amount.Dec())
	}
	return engine, nil
}
