package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"pharmaledger/backend/internal/cache"
	"pharmaledger/backend/internal/config"
	"pharmaledger/backend/internal/httpapi"
	"pharmaledger/backend/internal/service"
	"pharmaledger/backend/internal/store"
	"pharmaledger/backend/internal/store/memory"
	pgstore "pharmaledger/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)

	if len(cfg.AuthSecret) < 32 {
		log.Fatal("AUTH_SECRET must be set and at least 32 characters")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("postgres unavailable and DATABASE_URL is set; refusing in-memory fallback")
		}
		if err := pg.Migrate(ctx); err != nil {
			log.WithError(err).Fatal("schema migration failed")
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.WithField("repository", "postgres").Info("ledger ready")
	} else {
		repo = memory.NewSeeded()
		log.WithField("repository", "in-memory").Info("ledger ready")
	}

	reportCache := cache.ReportCache(cache.NoopReportCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisReportCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.WithError(err).Warn("redis unavailable, using noop report cache")
		} else {
			reportCache = redisCache
			closers = append(closers, redisCache.Close)
			log.WithField("cache", "redis").Info("report cache ready")
		}
	}

	svc := service.New(repo, reportCache, log,
		time.Duration(cfg.ReportCacheTTLSeconds)*time.Second, cfg.ExpiryHorizonDays)
	auth := httpapi.NewAuthManager(cfg.AuthSecret,
		time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, log, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Address()).Info("pharmacy backend listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.WithError(err).Warn("close error")
		}
	}

	log.Info("server stopped")
}
