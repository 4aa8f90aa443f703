package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/RunForge/internal/adapter/fsarchive"
	rfhttp "github.com/Strob0t/RunForge/internal/adapter/http"
	"github.com/Strob0t/RunForge/internal/adapter/memarchive"
	"github.com/Strob0t/RunForge/internal/adapter/memkv"
	"github.com/Strob0t/RunForge/internal/adapter/natskv"
	"github.com/Strob0t/RunForge/internal/adapter/otel"
	"github.com/Strob0t/RunForge/internal/adapter/stubprovider"
	"github.com/Strob0t/RunForge/internal/adapter/ws"
	"github.com/Strob0t/RunForge/internal/config"
	"github.com/Strob0t/RunForge/internal/domain/conversation"
	"github.com/Strob0t/RunForge/internal/logger"
	"github.com/Strob0t/RunForge/internal/port/archive"
	"github.com/Strob0t/RunForge/internal/port/convstore"
	"github.com/Strob0t/RunForge/internal/port/provider"
	"github.com/Strob0t/RunForge/internal/service"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.SetDefault(logger.New(cfg.Logging))
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"archive_dir", cfg.Archive.Dir,
		"runtime_mode", cfg.Runtime.Mode,
	)

	ctx := context.Background()

	// --- Telemetry ---
	shutdownOtel, err := otel.Setup(ctx, cfg.Logging.Service, cfg.Otel.Endpoint)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOtel(shutdownCtx)
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Archive ---
	var store archive.Archive
	backend := "memory"
	incidentDir := cfg.Archive.Dir
	if cfg.Archive.Dir == "" {
		var opts []memarchive.Option
		if cfg.Archive.ExportDir != "" {
			opts = append(opts, memarchive.WithExportDir(cfg.Archive.ExportDir))
		}
		store = memarchive.New(opts...)
		incidentDir = os.TempDir()
	} else {
		backend = "filesystem"
		opts := []fsarchive.Option{}
		if cfg.Archive.ExportDir != "" {
			opts = append(opts, fsarchive.WithExportDir(cfg.Archive.ExportDir))
		}
		if cfg.Archive.ColdStorageDir != "" {
			opts = append(opts, fsarchive.WithColdStorageDir(cfg.Archive.ColdStorageDir))
		}
		store = fsarchive.New(cfg.Archive.Dir, opts...)
	}
	slog.Info("archive ready", "backend", backend)

	// --- Conversation store ---
	var kv convstore.Store
	if cfg.Conversation.NATSURL != "" {
		natsKV, err := natskv.Connect(ctx, cfg.Conversation.NATSURL, cfg.Conversation.Bucket, cfg.Conversation.TTL)
		if err != nil {
			return fmt.Errorf("nats kv: %w", err)
		}
		defer natsKV.Close()
		kv = natsKV
		slog.Info("nats kv connected", "bucket", cfg.Conversation.Bucket)
	} else {
		kv = memkv.New()
	}

	// --- Provider ---
	var client provider.Client
	switch cfg.Runtime.Mode {
	case "stub":
		client = stubprovider.New()
	default:
		return fmt.Errorf("runtime mode %q has no provider client configured", cfg.Runtime.Mode)
	}

	// --- Services ---
	hub := ws.NewHub()
	rates := service.NewRateTracker()
	incidents := service.NewIncidentLog(incidentDir)
	coordinator := service.NewCoordinator(service.CoordinatorConfig{
		Archive:          store,
		Provider:         client,
		ConvManager:      service.NewConvManager(kv, cfg.Conversation.TTL),
		Planner:          service.NewHistoryPlanner(cfg.Planner.ContextWindowTokens, cfg.Planner.DenseThreshold),
		Tools:            service.NewToolRegistry(),
		Rates:            rates,
		Incidents:        incidents,
		Hub:              hub,
		Metrics:          metrics,
		DefaultPolicy:    conversation.Policy{Strategy: conversation.Strategy(cfg.Conversation.DefaultPolicy)},
		MaxProviderCalls: cfg.Runtime.MaxConcurrentProviderCalls,
	})
	ops, err := service.NewOpsService(service.OpsConfig{
		Archive:         store,
		Coordinator:     coordinator,
		Incidents:       incidents,
		CostPer1KTokens: cfg.Ops.CostPer1KTokens,
		SummaryCacheTTL: cfg.Ops.SummaryCacheTTL,
	})
	if err != nil {
		return fmt.Errorf("ops service: %w", err)
	}
	defer ops.Close()

	// --- HTTP ---
	handlers := &rfhttp.Handlers{
		Coordinator: coordinator,
		Ops:         ops,
		Archive:     store,
		Health: rfhttp.HealthInfo{
			Service:        cfg.Logging.Service,
			Version:        version,
			ArchiveBackend: backend,
			ProviderMode:   cfg.Runtime.Mode,
		},
	}

	r := chi.NewRouter()
	r.Use(rfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(rfhttp.Logger)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(otel.Middleware("responses-admin"))

	rfhttp.MountRoutes(r, handlers, hub)

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
