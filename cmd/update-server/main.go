package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/NerdsCorp/game-update-server/internal/config"
	"github.com/NerdsCorp/game-update-server/internal/release"
	"github.com/NerdsCorp/game-update-server/pkg/blobstore"
	"github.com/NerdsCorp/game-update-server/pkg/bus"
	"github.com/NerdsCorp/game-update-server/pkg/db"
	gos3 "github.com/NerdsCorp/game-update-server/pkg/s3"
	"github.com/NerdsCorp/game-update-server/pkg/telemetry"
)

func main() {
	if err := run("update-server"); err != nil {
		log.New(os.Stderr, "", log.LstdFlags).Fatal(err)
	}
}

func run(serviceName string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	shutdownTelemetry, middleware, logger, err := telemetry.Init(ctx, serviceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownTelemetry != nil {
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				fmt.Fprintf(os.Stderr, "%s: telemetry shutdown error: %v\n", serviceName, err)
			}
		}
	}()

	orm, err := db.ConnectORM(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() {
		if err := db.CloseORM(orm); err != nil {
			logger.Printf("WARN close database: %v", err)
		}
	}()

	// The pgx pool is only available against postgres; sqlite deployments
	// fall back to the ORM connection for the raw-SQL paths.
	var pool *pgxpool.Pool
	if db.IsPostgresDSN(cfg.Database.DSN) {
		pool, err = db.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open pgx pool: %w", err)
		}
		defer pool.Close()

		if err := db.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	} else {
		if err := release.AutoMigrate(orm); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	blobs, err := openBlobstore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init blob store: %w", err)
	}

	var eventBus *bus.Bus
	if cfg.NATS.URL != "" {
		eventBus, err = bus.New(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer eventBus.Close()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := release.NewMetrics(registry)

	store := &release.Store{
		DB:    pool,
		ORM:   orm,
		Blobs: blobs,
		Bus:   eventBus,
	}

	svc, err := release.NewService(release.NewRegistry(orm), blobs, eventBus, metrics, logger, release.ServiceConfig{
		MaxUploadBytes: cfg.Upload.MaxBytes,
		StagingDir:     cfg.Upload.StagingDir,
	})
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	if removed, err := svc.SweepOrphans(ctx); err != nil {
		logger.Printf("WARN orphan sweep failed: %v", err)
	} else if removed > 0 {
		logger.Printf("INFO orphan sweep removed %d stale artifacts", removed)
	}

	api, err := release.NewAPI(svc, store, logger, release.Config{
		BaseURL:    cfg.HTTP.BaseURL,
		AdminToken: cfg.HTTP.AdminToken,
	})
	if err != nil {
		return fmt.Errorf("init api: %w", err)
	}

	routes, err := api.Routes()
	if err != nil {
		return fmt.Errorf("build routes: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	mux.HandleFunc("/readyz", readyHandler(pool, orm))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/", routes)

	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: middleware(mux),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "%s: server shutdown error: %v\n", serviceName, err)
		}
	}()

	logger.Printf("INFO listening on %s (blob backend %s)", server.Addr, cfg.Blob.Backend)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Printf("ERROR server failed: %v", err)
		return err
	}

	return nil
}

func openBlobstore(ctx context.Context, cfg config.Config) (blobstore.Store, error) {
	switch cfg.Blob.Backend {
	case config.BackendS3:
		client, err := gos3.NewClient(ctx, gos3.Options{
			Endpoint:       cfg.Blob.S3Endpoint,
			AccessKey:      cfg.Blob.S3AccessKey,
			SecretKey:      cfg.Blob.S3SecretKey,
			Region:         cfg.Blob.S3Region,
			DisableTLS:     cfg.Blob.S3DisableTLS,
			ForcePathStyle: cfg.Blob.S3ForcePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return blobstore.NewS3(client, cfg.Blob.S3Bucket, cfg.Blob.S3Prefix)
	default:
		return blobstore.NewLocal(cfg.Blob.Dir)
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func readyHandler(pool *pgxpool.Pool, orm *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			if err := db.Ping(r.Context(), pool); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		} else if orm != nil {
			sqlDB, err := orm.DB()
			if err != nil || sqlDB.PingContext(r.Context()) != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}
