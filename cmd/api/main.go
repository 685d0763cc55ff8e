package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/arklim/session-service/internal/infra/app"
	"github.com/arklim/session-service/internal/infra/config"
)

// envFileVar points at an alternative dotenv file, e.g. for local multi-instance runs.
const envFileVar = "SESSION_ENV_FILE"

func main() {
	if err := run(); err != nil {
		log.Printf("session service stopped: %v", err)
		os.Exit(1)
	}
}

func run() error {
	if err := loadEnvFile(os.Getenv(envFileVar)); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init session service: %w", err)
	}
	return service.Run(ctx)
}

// loadEnvFile reads .env when present; an explicitly named file must exist.
func loadEnvFile(path string) error {
	if path == "" {
		_ = godotenv.Load()
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
