package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/config"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/logger"
	"github.com/Gyan-Raj/interview-prep-next-app-sub000/internal/store"
)

func main() {
	command := flag.String("command", "up", "migration command: up | status | down")
	target := flag.Int64("target", 0, "target version for down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	log := logger.New("interview-migrate", cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

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

	switch *command {
	case "up":
		err = migrator.Up(ctx)
	case "status":
		err = migrator.Status(ctx)
	case "down":
		err = migrator.Down(ctx, *target)
	default:
		log.Error("unknown command", "command", *command)
		os.Exit(2)
	}
	if err != nil {
		log.Error("migration command failed", "command", *command, "error", err)
		os.Exit(1)
	}
	log.Info("migration command finished", "command", *command)
}
