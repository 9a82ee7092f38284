package main

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"go-simpler.org/env"
)

type config struct {
	Host           string `env:"LOCHUB_HOST" default:"localhost"`
	Port           int    `env:"LOCHUB_PORT" default:"7777"`
	MaxConnections int    `env:"LOCHUB_MAX_CONNECTIONS" default:"5"`

	ConnectionsPerSecond float64 `env:"LOCHUB_CONNECTIONS_PER_SECOND" default:"0"`
	ConnectionBurst      int     `env:"LOCHUB_CONNECTION_BURST" default:"5"`

	Secret     string `env:"LOCHUB_JWT"`
	SecretFile string `env:"LOCHUB_JWT_FILE"`
	PagePath   string `env:"LOCHUB_PAGE"`

	HeartbeatPeriod time.Duration `env:"LOCHUB_HEARTBEAT_PERIOD" default:"5s"`
	PushPeriod      time.Duration `env:"LOCHUB_PUSH_PERIOD" default:"100ms"`

	Simulate bool          `env:"LOCHUB_SIMULATE" default:"true"`
	SimTick  time.Duration `env:"LOCHUB_SIM_TICK" default:"50ms"`

	MetricsTick time.Duration `env:"LOCHUB_METRICS_TICK" default:"60s"`
	StopTimeout time.Duration `env:"LOCHUB_STOP_TIMEOUT" default:"10s"`
	KillTimeout time.Duration `env:"LOCHUB_KILL_TIMEOUT" default:"1s"`

	LogLevel  string `env:"LOCHUB_LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOCHUB_LOG_FORMAT" default:"text"`
}

// loadConfig reads the environment (from src, or the process environment when
// src is nil) and then lets command-line flags override it.
func loadConfig(args []string, src env.Source) (*config, error) {
	var cfg config
	var opts *env.Options
	if src != nil {
		opts = &env.Options{Source: src}
	}
	if err := env.Load(&cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	fs := flag.NewFlagSet("lochub", flag.ContinueOnError)
	cfg.bindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *config) bindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Host, "host", c.Host, "interface to listen on (0.0.0.0 for all)")
	fs.IntVar(&c.Port, "port", c.Port, "port to listen on")
	fs.IntVar(&c.MaxConnections, "max-connections", c.MaxConnections, "maximum concurrent websocket clients")
	fs.Float64Var(&c.ConnectionsPerSecond, "connections-per-second", c.ConnectionsPerSecond, "sustained rate of new websocket clients (0 disables)")
	fs.IntVar(&c.ConnectionBurst, "connection-burst", c.ConnectionBurst, "burst of new websocket clients allowed above the rate")
	fs.StringVar(&c.Secret, "jwt", c.Secret, "token substituted into the page")
	fs.StringVar(&c.SecretFile, "jwt-file", c.SecretFile, "file holding the token; re-read on SIGHUP, wins over -jwt")
	fs.StringVar(&c.PagePath, "page", c.PagePath, "page template file (default: built-in page)")
	fs.DurationVar(&c.HeartbeatPeriod, "heartbeat", c.HeartbeatPeriod, "ping period")
	fs.DurationVar(&c.PushPeriod, "push", c.PushPeriod, "sample push period")
	fs.BoolVar(&c.Simulate, "simulate", c.Simulate, "drive the sample with the built-in random walker")
	fs.DurationVar(&c.SimTick, "sim-tick", c.SimTick, "random walker tick")
	fs.DurationVar(&c.MetricsTick, "metrics.tick", c.MetricsTick, "metrics: duration between reports")
	fs.DurationVar(&c.StopTimeout, "stop-timeout", c.StopTimeout, "stop timeout")
	fs.DurationVar(&c.KillTimeout, "kill-timeout", c.KillTimeout, "kill timeout")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "text or json")
}

func (c *config) validate() error {
	var problems []string

	if c.Port < 0 || c.Port > 65535 {
		problems = append(problems, "port must be in 0..65535")
	}
	if c.MaxConnections < 1 {
		problems = append(problems, "max-connections must be >= 1")
	}
	if c.ConnectionsPerSecond < 0 {
		problems = append(problems, "connections-per-second must be >= 0")
	}
	if c.ConnectionsPerSecond > 0 && c.ConnectionBurst < 1 {
		problems = append(problems, "connection-burst must be >= 1 when a rate is set")
	}
	if c.HeartbeatPeriod <= 0 {
		problems = append(problems, "heartbeat must be > 0")
	}
	if c.PushPeriod <= 0 {
		problems = append(problems, "push must be > 0")
	}
	if c.Simulate && c.SimTick <= 0 {
		problems = append(problems, "sim-tick must be > 0")
	}
	if c.MetricsTick <= 0 {
		problems = append(problems, "metrics.tick must be > 0")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		problems = append(problems, "log-format must be text or json")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
