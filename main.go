package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/danielhkuo/livepoll/ballot"
	"github.com/danielhkuo/livepoll/cliparse"
	"github.com/danielhkuo/livepoll/db"
	"github.com/danielhkuo/livepoll/middleware"
	"github.com/danielhkuo/livepoll/notify"
	"github.com/danielhkuo/livepoll/queue"
	"github.com/danielhkuo/livepoll/realtime"
	"github.com/danielhkuo/livepoll/router"
	"github.com/danielhkuo/livepoll/worker"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Parse configuration
	cfg, err := cliparse.ParseFlags(os.Args[1:])
	if err != nil {
		slog.Error("Error parsing flags", "error", err)
		os.Exit(1)
	}

	dialect, err := db.ParseDialect(cfg.DatabaseType)
	if err != nil {
		slog.Error("unsupported database type", "error", err)
		os.Exit(1)
	}

	// Connect and verify
	dbConn, err := db.Open(dialect, cfg.DatabaseURL)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	// Create schema (tables)
	if err := db.CreateSchema(dbConn); err != nil {
		slog.Error("schema creation failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database schema ready", "dialect", dialect, "mode", cfg.Mode)

	logger := slog.Default()

	q, err := queue.New(dbConn, dialect, queue.Options{
		MaxAttempts:  cfg.Pipeline.MaxAttempts,
		BackoffBase:  cfg.Pipeline.BackoffBase,
		BackoffMax:   cfg.Pipeline.BackoffMax,
		LockDuration: cfg.Pipeline.LockDuration,
		Logger:       logger,
	})
	if err != nil {
		slog.Error("queue setup failed", "error", err)
		os.Exit(1)
	}
	store := ballot.NewStore(dbConn)

	// A single process fans out in memory; split processes go through
	// Postgres LISTEN/NOTIFY.
	var bus notify.Bus
	if cfg.Mode == cliparse.ModeAll {
		bus = notify.NewLocal(256, logger)
	} else {
		bus = notify.NewPostgres(dbConn, cfg.DatabaseURL, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Mode == cliparse.ModeWorker || cfg.Mode == cliparse.ModeAll {
		proc := worker.NewProcessor(store, bus, cfg.Pipeline.TxTimeout, logger)
		pool := worker.NewPool(q, proc, cfg.Pipeline, logger)
		g.Go(func() error {
			return pool.Run(gctx)
		})
	}

	if cfg.Mode == cliparse.ModeAPI || cfg.Mode == cliparse.ModeAll {
		gw := realtime.NewGateway(logger)
		g.Go(func() error {
			return gw.Run(gctx, bus)
		})

		server := &http.Server{
			Handler: middleware.CORS(router.NewRouter(store, q, gw, cfg)),
			Addr:    ":" + strconv.Itoa(cfg.Port),
		}

		g.Go(func() error {
			slog.Info("Listening", "port", cfg.Port)
			err := server.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			// Websocket connections are hijacked and not tracked by Shutdown.
			if err := server.Shutdown(shutdownCtx); err != nil {
				return server.Close()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("Server closed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server closed")
}
