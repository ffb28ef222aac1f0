package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bfx-trade-bot/internal/app"
	"bfx-trade-bot/internal/config"
	"bfx-trade-bot/internal/logging"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	since := flag.String("since", "", `start time, "2006-01-02" or "2006-01-02 15:04:05" local time (default: beginning of account)`)
	until := flag.String("until", "", "end time, same formats as --since; a date means the end of that day (default: now)")
	currencies := flag.String("currencies", "", "comma separated currencies to include (default: every currency with a balance)")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	sinceTime, err := parseTime(*since, false)
	if err != nil {
		log.Error("invalid --since", zap.Error(err))
		os.Exit(2)
	}
	if sinceTime.IsZero() {
		sinceTime = time.Unix(0, 0)
	}
	untilTime, err := parseTime(*until, true)
	if err != nil {
		log.Error("invalid --until", zap.Error(err))
		os.Exit(2)
	}

	application, err := app.New(cfg, log)
	if err != nil {
		log.Error("failed to initialize app", zap.Error(err))
		os.Exit(1)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := application.WalletStats(ctx, sinceTime, untilTime, splitList(*currencies))
	if err != nil {
		log.Error("wallet stats failed", zap.Error(err))
		os.Exit(1)
	}
	fmt.Println(out)
}

// parseTime accepts a date or a date and time in the local zone. A date
// with endOfDay set resolves to the last second of that day.
func parseTime(s string, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if strings.Contains(s, " ") {
		return time.ParseInLocation("2006-01-02 15:04:05", s, time.Local)
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Second)
	}
	return t, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
