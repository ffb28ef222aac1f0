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
	envPath := flag.String("env", ".env", "path to env file")
	debug := flag.Bool("debug", false, "log at debug level")
	cleanUp := flag.Bool("clean_up_orders", false, "cancel all orders of the configured targets before starting")
	orderStatus := flag.Int64("order_status", 0, "print the status of one order and exit")
	flag.Parse()

	if err := config.LoadEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envPath, err)
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
	log.Info("config loaded", zap.String("path", *configPath), zap.Strings("targets", cfg.TargetSymbols()))

	application, err := app.New(cfg, log)
	if err != nil {
		log.Error("failed to initialize app", zap.Error(err))
		os.Exit(1)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *orderStatus != 0:
		out, err := application.OrderStatus(ctx, *orderStatus)
		if err != nil {
			log.Error("order status failed", zap.Int64("order_id", *orderStatus), zap.Error(err))
			os.Exit(1)
		}
		fmt.Println(out)
	default:
		if *cleanUp {
			if err := application.CleanUpOrders(ctx); err != nil {
				log.Error("clean up failed", zap.Error(err))
				os.Exit(1)
			}
		}
		if err := application.RunTradeBot(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("tradebot terminated", zap.Error(err))
			os.Exit(1)
		}
	}
}
