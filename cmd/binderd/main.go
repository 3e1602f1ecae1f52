// Command binderd hosts the binder core: it wires the descriptor table,
// service registry, dispatcher and executor, exposes the read-only inspection
// API and runs until terminated. Service implementations are registered by
// the embedding process entry before the executor join.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/binderlab/binder_core/internal/app"
	"github.com/binderlab/binder_core/internal/config"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	flag.Parse()

	// Optional .env for local development; ignore if absent.
	_ = godotenv.Load()

	if v := os.Getenv("BINDER_CONFIG"); v != "" && *configPath == "" {
		*configPath = v
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("initialize: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		application.Logger().WithError(err).Error("runtime failure")
	}

	if err := application.Shutdown(context.Background()); err != nil {
		application.Logger().WithError(err).Error("shutdown failed")
	}

	// Last call in the entry path: returns once the executor has drained.
	application.Pool().Join()
}
