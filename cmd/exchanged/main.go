// Command exchanged runs the order-matching exchange server.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/a3st/exchanged/internal/auth"
	"github.com/a3st/exchanged/internal/config"
	"github.com/a3st/exchanged/internal/dispatcher"
	"github.com/a3st/exchanged/internal/ledger"
	"github.com/a3st/exchanged/internal/matcher"
	"github.com/a3st/exchanged/internal/metrics"
	"github.com/a3st/exchanged/internal/orderbook"
	"github.com/a3st/exchanged/internal/session"
	"github.com/a3st/exchanged/internal/storage"
	"github.com/a3st/exchanged/pkg/logging"
)

var version = "0.1.0-dev"

type options struct {
	Port        uint16 `short:"p" long:"port" default:"5555" description:"TCP port to listen on when the config has no listen_addr (the built-in config listens on 0.0.0.0:5555)"`
	ConfigFile  string `short:"c" long:"config" description:"Path to config.yaml (defaults to built-in RUB/USD config)"`
	DataDir     string `short:"d" long:"data-dir" description:"Override the configured storage data directory"`
	LogLevel    string `short:"l" long:"log-level" default:"info" description:"Log level (debug, info, warn, error)"`
	MetricsAddr string `short:"m" long:"metrics-addr" description:"Address to serve Prometheus metrics on, empty disables it"`
	Version     bool   `short:"v" long:"version" description:"Show version and exit"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	if opts.Version {
		println("exchanged " + version)
		os.Exit(0)
	}

	log := logging.New(&logging.Config{Level: opts.LogLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		log.Fatal("failed to load config", "err", err)
	}
	if opts.DataDir != "" {
		cfg.Storage.DataDir = opts.DataDir
	}
	if opts.MetricsAddr != "" {
		cfg.Network.MetricsAddr = opts.MetricsAddr
	}

	dataDir, err := cfg.ExpandDataDir()
	if err != nil {
		log.Fatal("failed to resolve data dir", "err", err)
	}

	store, err := storage.New(&storage.Config{DataDir: dataDir})
	if err != nil {
		log.Fatal("failed to initialize storage", "err", err)
	}
	defer store.Close()
	log.Info("storage initialized", "data_dir", dataDir)

	db := store.DB()
	loginSystem := auth.New(db)
	led := ledger.New(db)
	book := orderbook.New(db)
	match := matcher.New(db, book, led)
	disp := dispatcher.New(loginSystem, led, book, match, cfg.Currencies)

	// Drain any orders left open from a previous run before accepting
	// connections.
	if err := match.ProcessRequests(); err != nil {
		log.Warn("startup matcher pass failed", "err", err)
	}

	runtime := session.New(disp)
	addr := fmtAddr(cfg.Network.ListenAddr, opts.Port)
	if err := runtime.Start(addr); err != nil {
		log.Fatal("failed to start session listener", "err", err)
	}
	log.Info("exchanged listening", "addr", addr, "pairs", cfg.Pairs)

	var metricsServer *metrics.Server
	if cfg.Network.MetricsAddr != "" {
		metricsServer = metrics.NewServer(cfg.Network.MetricsAddr)
		metricsServer.Start()
		log.Info("metrics listening", "addr", cfg.Network.MetricsAddr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	if err := runtime.Stop(); err != nil {
		log.Error("error stopping session listener", "err", err)
	}
	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error("error stopping metrics server", "err", err)
		}
	}
}

func fmtAddr(configured string, port uint16) string {
	if configured != "" {
		return configured
	}
	return ":" + strconv.Itoa(int(port))
}
