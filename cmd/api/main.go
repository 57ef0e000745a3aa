package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/app"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/archive"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/config"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/email"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/export"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/logger"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/notify"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/ratelimit"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/search"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/session"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	log := logger.New("interview-api", cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolConfig{
		MaxOpenConns: cfg.DBMaxOpen,
		MaxIdleConns: cfg.DBMaxIdle,
		PingAttempts: cfg.DBWaitTries,
	})
	if err != nil {
		log.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	migrator, err := store.NewMigrator(db, log)
	if err != nil {
		log.Error("migrator init failed", "error", err)
		os.Exit(1)
	}
	if err := migrator.Up(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	dataStore := store.NewPostgresStore(db)
	deps := app.Deps{Store: dataStore, Log: log}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()
		log.Info("using redis for refresh sessions and rate limiting")
		deps.Sessions = redisStore
		deps.Limiter = ratelimit.NewRedis(redisStore.Client(), log)
	} else {
		log.Info("using postgres for refresh sessions and in-memory rate limiting")
		deps.Limiter = ratelimit.NewMemory()
	}
	defer deps.Limiter.Close()

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts, log)
	deps.Search = searchService
	go searchService.ReindexAllFromPG(ctx)

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		log.Warn("SMTP not configured, emails will be logged and invite links returned in responses")
	}
	deliverer := notify.NewDeliverer(mailer, log)
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		queue, err := notify.DialQueue(cfg.RabbitMQURL, deliverer, log)
		if err != nil {
			log.Error("rabbitmq connection failed", "error", err)
			os.Exit(1)
		}
		if err := queue.Start(ctx); err != nil {
			log.Error("notification consumer failed", "error", err)
			os.Exit(1)
		}
		deps.Notifier = queue
	} else {
		deps.Notifier = notify.NewAsync(deliverer, log)
	}
	defer deps.Notifier.Close()

	var archiver export.Archiver
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioArchiver, err := export.NewMinioArchiver(ctx, export.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Warn("minio unavailable, exports will not be archived", "error", err)
		} else {
			archiver = minioArchiver
		}
	}
	renderer := export.NewChromeRenderer()
	if !renderer.Available() {
		log.Warn("chrome not found, PDF export will return 503")
	}
	deps.Exporter = export.NewService(renderer, archiver, log)

	if dir := strings.TrimSpace(cfg.ArchiveDir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Error("failed to create archive dir", "dir", dir, "error", err)
			os.Exit(1)
		}
		deps.Archive = archive.New(dir)
	}

	service := app.New(cfg, deps)
	if err := service.Bootstrap(ctx); err != nil {
		log.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("interview API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	service.Close()
	searchService.Wait()
	log.Info("interview API stopped")
}
