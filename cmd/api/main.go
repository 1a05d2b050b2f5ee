package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/app"
	"github.com/heyavanindra/FrenCircle-sub001/internal/infra/config"
)

func main() {
	// a missing .env is fine; the environment alone is enough
	_ = godotenv.Load()

	if err := run(); err != nil {
		log.Printf("auth service stopped: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}

	return application.Run(ctx)
}
