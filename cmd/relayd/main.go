// Package main starts the relay daemon: the websocket upgrade endpoint, the
// liveness endpoint, and the SQLite-backed durable store behind them.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	relay "github.com/unca-chat/relay"
	"github.com/unca-chat/relay/ratelimit"
	"github.com/unca-chat/relay/sqlite"
)

type config struct {
	Addr           string        `env:"RELAY_ADDR"            envDefault:":8080"`
	DBPath         string        `env:"RELAY_DB"              envDefault:"relay.db"`
	PollInterval   time.Duration `env:"RELAY_POLL_INTERVAL"   envDefault:"50ms"`
	LogLevel       string        `env:"RELAY_LOG_LEVEL"       envDefault:"info"`
	RedisAddr      string        `env:"RELAY_REDIS_ADDR"`
	ConnRate       int           `env:"RELAY_CONN_RATE"       envDefault:"60"`
	AllowedOrigins []string      `env:"RELAY_ALLOWED_ORIGINS" envSeparator:","`
	Seed           bool
}

func parseConfig(fs *flag.FlagSet, args []string) (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "path to the sqlite database")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "delivery loop poll interval")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (trace..error)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address for connection rate limiting (empty disables)")
	fs.IntVar(&cfg.ConnRate, "conn-rate", cfg.ConnRate, "connection upgrades allowed per client per minute")
	fs.BoolVar(&cfg.Seed, "seed", false, "wipe the store, load example.users.json and example.channels.json, then exit")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()
}

func seed(ctx context.Context, store *sqlite.Store) error {
	var users []relay.User
	var channels []relay.Channel

	raw, err := os.ReadFile("example.users.json")
	if err != nil {
		return fmt.Errorf("read users seed: %w", err)
	}
	if err := json.Unmarshal(raw, &users); err != nil {
		return fmt.Errorf("decode users seed: %w", err)
	}
	raw, err = os.ReadFile("example.channels.json")
	if err != nil {
		return fmt.Errorf("read channels seed: %w", err)
	}
	if err := json.Unmarshal(raw, &channels); err != nil {
		return fmt.Errorf("decode channels seed: %w", err)
	}

	if err := store.DeleteAll(ctx); err != nil {
		return err
	}
	return store.Seed(ctx, users, channels)
}

func run(cfg config) error {
	log := newLogger(cfg.LogLevel)

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	if cfg.Seed {
		if err := seed(context.Background(), store); err != nil {
			return err
		}
		log.Info().Msg("store seeded")
		return nil
	}

	opts := relay.DefaultOptions()
	opts.PollInterval = cfg.PollInterval
	opts.Logger = log
	if len(cfg.AllowedOrigins) > 0 {
		opts.CheckOrigin = true
		opts.AllowedOrigins = cfg.AllowedOrigins
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		opts.Hooks = &relay.Hooks{
			RateLimiter: ratelimit.NewRedisLimiter(client, cfg.ConnRate, time.Minute),
		}
	}

	server := relay.NewServer(&relay.ServerOptions{
		Options:    opts,
		Store:      store,
		ServerAddr: cfg.Addr,
	})

	log.Info().Str("addr", cfg.Addr).Msg("relay listening")
	return server.Listen()
}

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "relayd: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "relayd: %v\n", err)
		os.Exit(1)
	}
}
