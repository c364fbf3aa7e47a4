// Package main runs the token wallet monitor.
//
// Modes:
//   - live: snapshot top holders, subscribe to them, resync periodically and
//     serve /health, /status and /metrics
//   - holders: print the current top holder snapshot
//   - history: print the classified recent transactions of one wallet
//   - status: print the upstream connection status
//   - recent: print the stored recent transactions of one wallet
//   - tail: stream published transaction events from Redis
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"token-wallet-monitor/internal/config"
	"token-wallet-monitor/internal/engine"
	"token-wallet-monitor/internal/logging"
	"token-wallet-monitor/internal/publish"
	"token-wallet-monitor/internal/status"
)

func main() {
	configPath := flag.String("config", os.Getenv("WM_CONFIG"), "Path to the YAML config file")
	mode := flag.String("mode", "live", "Run mode: live, holders, history, status, recent, tail")
	wallet := flag.String("wallet", "", "Wallet address for history and recent modes")
	limit := flag.Int("limit", 0, "Result limit for holders, history and recent modes (0 = configured default)")
	flag.Parse()

	loader, cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}

	logger := logging.Init(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	log := logger.WithField("mode", *mode)

	if loader != nil {
		loader.OnChange(func(old, updated *config.Config) {
			if old.Log.Level != updated.Log.Level {
				logging.SetLevel(logger, updated.Log.Level)
				log.WithField("level", updated.Log.Level).Info("log level changed")
			}
		})
		loader.Watch()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "live":
		err = runLive(ctx, cfg, log)
	case "holders":
		err = runOnce(ctx, cfg, func(e *engine.Engine) (interface{}, error) {
			n := *limit
			if n <= 0 {
				n = cfg.Holders.TopN
			}
			return e.GetTopHolders(ctx, n)
		})
	case "history":
		if *wallet == "" {
			log.Fatal("--wallet is required in history mode")
		}
		err = runOnce(ctx, cfg, func(e *engine.Engine) (interface{}, error) {
			return e.GetWalletTransactionHistory(ctx, *wallet, *limit)
		})
	case "recent":
		if *wallet == "" {
			log.Fatal("--wallet is required in recent mode")
		}
		err = runOnce(ctx, cfg, func(e *engine.Engine) (interface{}, error) {
			return e.GetRecentTransactions(ctx, *wallet, *limit)
		})
	case "tail":
		err = runTail(ctx, cfg, log)
	case "status":
		err = runOnce(ctx, cfg, func(e *engine.Engine) (interface{}, error) {
			return e.GetConnectionStatus(ctx), nil
		})
	default:
		log.Fatalf("unknown mode %q", *mode)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("monitor failed")
	}
}

// loadConfig watches the file when one is given; otherwise settings come
// from WM_ environment variables only.
func loadConfig(path string) (*config.Loader, *config.Config, error) {
	if path == "" {
		cfg, err := config.Load("")
		return nil, cfg, err
	}
	loader, err := config.NewLoader(path)
	if err != nil {
		return nil, nil, err
	}
	return loader, loader.Config(), nil
}

func runLive(ctx context.Context, cfg *config.Config, log *logrus.Entry) error {
	e, err := engine.Open(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.Stop(stopCtx); err != nil {
			log.WithError(err).Warn("engine stop")
		}
		log.Info("shutdown complete")
	}()

	srv := status.NewServer(cfg.Status.Addr, e, log.WithField("component", "status"))
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Run(ctx) }()

	if _, err := e.Start(ctx); err != nil {
		return err
	}

	runErr := e.Run(ctx)
	if err := <-srvErr; err != nil {
		log.WithError(err).Warn("status server")
	}
	return runErr
}

// runOnce opens an RPC-only engine, runs fn and prints its result as JSON.
func runOnce(ctx context.Context, cfg *config.Config, fn func(e *engine.Engine) (interface{}, error)) error {
	e, err := engine.Open(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer e.Stop(context.Background())

	result, err := fn(e)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// runTail prints every event published on the Redis channel as one JSON
// line until interrupted.
func runTail(ctx context.Context, cfg *config.Config, log *logrus.Entry) error {
	if cfg.Redis.Addr == "" {
		return errors.New("tail mode needs redis.addr")
	}
	rcfg := publish.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Channel:  cfg.Redis.Channel,
	}
	client, err := publish.NewRedisClient(ctx, rcfg)
	if err != nil {
		return err
	}
	defer client.Close()

	log.WithField("channel", cfg.Redis.Channel).Info("following transaction events")
	enc := json.NewEncoder(os.Stdout)
	return publish.NewRedisPublisher(client, rcfg).Follow(ctx, func(e publish.Event) error {
		return enc.Encode(e)
	})
}
