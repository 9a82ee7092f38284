package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
)

func main() {
	// A missing .env is normal; the environment and flags still apply.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := loadConfig(args, nil)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	clock := clockwork.NewRealClock()

	secrets, err := newSecretStore(cfg.Secret, cfg.SecretFile, clock, logger)
	if err != nil {
		return err
	}

	page, err := loadPageTemplate(cfg.PagePath)
	if err != nil {
		// Only the page is lost; /locdata still serves.
		logger.Error("page_template_unavailable", "error", err)
	}

	cell := newStateCell()
	server := newBroadcastServer(cell, secrets, page, serverConfig{
		HeartbeatPeriod:      cfg.HeartbeatPeriod,
		PushPeriod:           cfg.PushPeriod,
		ConnectionsPerSecond: cfg.ConnectionsPerSecond,
		ConnectionBurst:      cfg.ConnectionBurst,
		StopTimeout:          cfg.StopTimeout,
		KillTimeout:          cfg.KillTimeout,
		Clock:                clock,
	}, logger)
	if err := server.Start(cfg.Host, cfg.Port, cfg.MaxConnections); err != nil {
		return err
	}

	go reportMetrics(ctx, clock, cfg.MetricsTick)
	if cfg.Simulate {
		sim := newSimulator(cell, clock, cfg.SimTick, nil)
		go sim.run(ctx)
		logger.Info("simulator_started", "tick", cfg.SimTick)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-hup:
			if err := secrets.Reload(); err != nil {
				logger.Error("secret_reload_failed", "error", err)
			}
		case <-ctx.Done():
			logger.Info("shutdown_signal")
			err := server.Stop()
			finalMetrics()
			return err
		}
	}
}

func newHandler(s *broadcastServer) http.Handler {
	handler := mux.NewRouter()

	// Route websocket requests
	handler.Path(locdataPath).Handler(wsHandler{s: s})

	// Every other path gets the bootstrap page
	handler.PathPrefix("/").Handler(pageHandler{page: s.page, secret: s.secret, log: s.log})

	return handler
}
