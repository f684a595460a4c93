package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"gitsheet/api/internal/app"
	"gitsheet/api/internal/config"
	"gitsheet/api/internal/store"
	"gitsheet/api/internal/suggest"
	"gitsheet/api/internal/syncer"
	"gitsheet/api/internal/timesheet"
	"gitsheet/api/internal/workflow"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	log := logrus.NewEntry(logger)

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.WithError(err).Fatal("failed to create repos dir")
	}

	dataStore := store.NewPostgresStore(db)

	var provider timesheet.Provider = timesheet.NewHTTPProvider(cfg.TimesheetURL, cfg.TimesheetToken)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Info("using Redis for timesheet entry caching")
		redisClient, err := timesheet.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("redis connection failed")
		}
		defer redisClient.Close()
		provider = timesheet.NewCachedProvider(provider, redisClient, cfg.TimesheetCacheTTL, log)
	}

	engine := suggest.New(suggest.Weights{
		Author:   cfg.SuggestAuthorWeight,
		Temporal: cfg.SuggestTemporalWeight,
		Lexical:  cfg.SuggestLexicalWeight,
	}, cfg.SuggestMinConfidence)

	sync := syncer.New(dataStore, log, syncer.Options{
		PageSize:     cfg.SyncPageSize,
		MaxAttempts:  cfg.SyncMaxAttempts,
		PageTimeout:  cfg.SyncPageTimeout,
		MinPageDelay: cfg.SyncMinPageDelay,
		ClockSkewMax: cfg.ClockSkewMax,
	})

	workflows := workflow.NewManager(dataStore, provider, engine, log)
	service := app.NewService(dataStore, sync, provider, engine, workflows, log, cfg)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Addr).Info("Gitsheet API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown error")
	}
}
