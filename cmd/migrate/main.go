package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/config"
	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/database"
	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/logger"
)

func main() {
	command := flag.String("command", string(database.MigrateUp), "goose command: up, down or status")
	flag.Parse()

	_ = godotenv.Load()

	if err := run(database.MigrationCommand(*command)); err != nil {
		log.Printf("migration failed: %v", err)
		os.Exit(1)
	}
}

func run(command database.MigrationCommand) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	zapLogger, err := logger.New(cfg.App.Env)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		_ = zapLogger.Sync()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, zapLogger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	return database.Migrate(ctx, pool, command, zapLogger)
}
