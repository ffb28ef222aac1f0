package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bfx-trade-bot/internal/app"
	"bfx-trade-bot/internal/config"
	"bfx-trade-bot/internal/logging"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	debug := flag.Bool("debug", false, "log at debug level")
	stopFile := flag.String("stop_file", "", "when this file exists, cancel offers and move funds back to the exchange wallet")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	if *debug {
		cfg.Log.Level = "debug"
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	application, err := app.New(cfg, log)
	if err != nil {
		log.Error("failed to initialize app", zap.Error(err))
		os.Exit(1)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.RunLendBot(ctx, *stopFile); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("lendbot terminated", zap.Error(err))
		os.Exit(1)
	}
}
