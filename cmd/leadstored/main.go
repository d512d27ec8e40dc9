// leadstored is the durable lead-store daemon: it wires a persistence
// backend, the storage engine, scheduled maintenance jobs, and the admin
// HTTP API, then runs until signalled.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/leadstore/pkg/archive"
	"github.com/platinummonkey/leadstore/pkg/async"
	"github.com/platinummonkey/leadstore/pkg/config"
	"github.com/platinummonkey/leadstore/pkg/engine"
	"github.com/platinummonkey/leadstore/pkg/httpapi"
	"github.com/platinummonkey/leadstore/pkg/notify"
	"github.com/platinummonkey/leadstore/pkg/observability"
	"github.com/platinummonkey/leadstore/pkg/quota"
	"github.com/platinummonkey/leadstore/pkg/sealed"
	"github.com/platinummonkey/leadstore/pkg/store"
	"github.com/platinummonkey/leadstore/pkg/txn"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	log.Infof("starting leadstored with %s backend", cfg.Store.Type)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, log)
	if err != nil {
		log.WithError(err).Error("failed to initialize tracing")
		os.Exit(1)
	}

	st, err := buildStore(cfg)
	if err != nil {
		log.WithError(err).Error("failed to initialize store backend")
		os.Exit(1)
	}

	key, err := cfg.EncryptionKey()
	if err != nil {
		log.WithError(err).Error("invalid encryption key")
		os.Exit(1)
	}
	cipher, err := sealed.NewAESGCM(key, cfg.Encryption.SensitiveKeys)
	if err != nil {
		log.WithError(err).Error("failed to initialize cipher")
		os.Exit(1)
	}

	recorder := notify.NewRecorder(100)
	notifier := notify.Multi{notify.NewLogNotifier(logrus.StandardLogger()), recorder}

	var promRegistry *prometheus.Registry
	if cfg.Observability.MetricsEnabled {
		promRegistry = prometheus.NewRegistry()
	}

	eng := engine.New(st, cipher, notifier, log, promRegistry, engine.Config{
		Quota: quota.Config{
			FallbackLimit:   cfg.Engine.QuotaFallbackLimit,
			EstimateTTL:     cfg.Engine.QuotaEstimateTTL,
			ReconcileMinGap: cfg.Engine.QuotaReconcileMinGap,
			DriftThreshold:  cfg.Engine.QuotaDriftThreshold,
		},
		Txn: txn.Config{
			MaxRetries: cfg.Engine.WriteMaxRetries,
			BaseDelay:  cfg.Engine.WriteBaseDelay,
		},
		CacheSize: cfg.Engine.CacheSize,
		CacheTTL:  cfg.Engine.CacheTTL,
	})
	if err := eng.Init(ctx); err != nil {
		log.WithError(err).Error("failed to initialize engine")
		os.Exit(1)
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Engine.ReconcileSchedule, func() {
		err := async.Run(ctx, time.Minute, "quota-reconcile", log, func(jobCtx context.Context) error {
			drift, err := eng.Monitor().Reconcile(jobCtx)
			if err != nil {
				return err
			}
			if drift != 0 {
				log.Warnf("quota reconcile corrected %d bytes of drift", drift)
			}
			return nil
		})
		if err != nil {
			log.WithError(err).Warn("quota reconcile failed")
		}
	}); err != nil {
		log.WithError(err).Error("failed to schedule quota reconcile")
		os.Exit(1)
	}

	if cfg.Archive.Enabled {
		archiver, err := archive.NewArchiver(ctx, st, archive.Config{
			Endpoint:     cfg.Archive.S3Endpoint,
			Region:       cfg.Archive.S3Region,
			Bucket:       cfg.Archive.S3Bucket,
			AccessKey:    cfg.Archive.S3AccessKey,
			SecretKey:    cfg.Archive.S3SecretKey,
			UsePathStyle: cfg.Archive.UsePathStyle,
		}, log)
		if err != nil {
			log.WithError(err).Error("failed to initialize backup archiver")
			os.Exit(1)
		}
		if _, err := scheduler.AddFunc(cfg.Archive.Schedule, func() {
			err := async.Run(ctx, 10*time.Minute, "backup-archival", log, func(jobCtx context.Context) error {
				n, err := archiver.Run(jobCtx)
				if n > 0 {
					log.Infof("archived %d backup snapshots", n)
				}
				return err
			})
			if err != nil {
				log.WithError(err).Warn("backup archival incomplete")
			}
		}); err != nil {
			log.WithError(err).Error("failed to schedule backup archival")
			os.Exit(1)
		}
	}
	scheduler.Start()

	server := httpapi.NewServer(eng, log, recorder, promRegistry)
	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	go func() {
		log.Infof("admin API listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("admin API server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	cronCtx := scheduler.Stop()
	<-cronCtx.Done()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("admin API shutdown did not complete")
	}
	if err := eng.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("engine shutdown did not drain cleanly")
	}
	if err := observability.ShutdownOTel(shutdownCtx, tp, log); err != nil {
		log.WithError(err).Warn("tracer shutdown failed")
	}
	log.Info("leadstored stopped")
}

// buildStore constructs the configured persistence backend.
func buildStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Type {
	case "memory":
		return store.NewMemoryStore(cfg.Store.MaxSizeBytes), nil
	case "file":
		return store.NewFileStore(cfg.Store.FileRoot, cfg.Store.MaxSizeBytes)
	case "sqlite":
		st, err := store.NewSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		if cfg.Store.MaxSizeBytes > 0 {
			if err := st.SetMaxSize(cfg.Store.MaxSizeBytes); err != nil {
				return nil, err
			}
		}
		return st, nil
	case "redis":
		return store.NewRedisStore(store.RedisConfig{
			URL:      cfg.Store.RedisURL,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
			Prefix:   cfg.Store.RedisPrefix,
		})
	case "postgres":
		return store.NewPostgresStore(cfg.Store.PostgresURL, cfg.Store.MaxSizeBytes)
	default:
		return nil, fmt.Errorf("unsupported store type %q", cfg.Store.Type)
	}
}
