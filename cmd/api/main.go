package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"atelier/api/internal/app"
	"atelier/api/internal/config"
	"atelier/api/internal/email"
	"atelier/api/internal/logging"
	"atelier/api/internal/search"
	"atelier/api/internal/session"
	"atelier/api/internal/storage"
	"atelier/api/internal/store"
)

func main() {
	logging.Setup()
	cfg := config.Load()

	ctx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logging.Fatal("open database", "error", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logging.Fatal("apply migrations", "error", err)
	}
	cancelStartup()

	pg := store.NewPostgresStore(db)

	searchSvc := buildSearch(cfg, pg)
	uploader := buildUploader(cfg)

	var mailer *email.Service
	if cfg.SMTPHost != "" {
		mailer = email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		})
		slog.Info("smtp email enabled", "host", cfg.SMTPHost)
	} else {
		slog.Info("smtp not configured, email disabled")
	}

	var service *app.Service
	if cfg.RedisURL != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logging.Fatal("connect redis", "error", err)
		}
		defer redisStore.Close()
		slog.Info("redis refresh sessions enabled")
		service = app.NewWithSessionStore(cfg, pg, redisStore, searchSvc, uploader, mailer)
	} else {
		service = app.New(cfg, pg, searchSvc, uploader, mailer)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, pg.Ping)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("listen", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("shutdown", "error", err)
	}
}

func buildSearch(cfg config.Config, pg *store.PostgresStore) *search.Service {
	pgfts := search.NewPgFTS(pg.DB())
	if cfg.MeiliURL == "" {
		slog.Info("meilisearch not configured, using postgres fts")
		return search.NewService(nil, pgfts)
	}
	meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	slog.Info("meilisearch enabled", "url", cfg.MeiliURL)
	return search.NewService(meili, pgfts)
}

func buildUploader(cfg config.Config) storage.Uploader {
	if cfg.S3Endpoint == "" {
		slog.Info("object storage not configured, uploads disabled")
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	minioStore, err := storage.NewMinioStore(ctx, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3PublicURL, cfg.S3UseSSL)
	if err != nil {
		logging.Fatal("connect object storage", "error", err)
	}
	slog.Info("object storage enabled", "endpoint", cfg.S3Endpoint, "bucket", cfg.S3Bucket)
	return minioStore
}
