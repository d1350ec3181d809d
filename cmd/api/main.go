package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"quorum/api/internal/app"
	"quorum/api/internal/config"
	"quorum/api/internal/directory"
	"quorum/api/internal/export"
	"quorum/api/internal/gatestore"
	"quorum/api/internal/mention"
	"quorum/api/internal/notify"
	"quorum/api/internal/search"
	"quorum/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.GateReposDir, 0o755); err != nil {
		log.Fatalf("failed to create gate repos dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	gates := gatestore.New(cfg.GateReposDir)

	var dir directory.Gateway = directory.NewPostgresDirectory(db)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for directory lookups")
		cache, err := directory.NewRedisCache(cfg.RedisURL, dir, cfg.DirCacheTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer cache.Close()
		dir = cache
	}

	var notifier notify.Gateway
	if strings.TrimSpace(cfg.SMTPHost) != "" {
		notifier = notify.NewMailer(notify.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}, dir)
	} else {
		log.Printf("SMTP not configured, notifications go to the process log")
		notifier = notify.LogGateway{}
	}

	pgSearch := search.NewPgSearch(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgSearch)
	if meiliClient != nil {
		go searchService.ReindexAllFromPG(ctx)
	}

	service := app.New(dataStore, dir, mention.NewResolver(dir), notifier, gates, searchService)

	var uploader *export.Uploader
	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		uploader, err = export.NewUploader(ctx, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL)
		if err != nil {
			log.Fatalf("object storage connection failed: %v", err)
		}
	}
	exporter := export.NewService(service, uploader)

	httpServer := app.NewHTTPServer(service, searchService, exporter, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Quorum API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
