package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/pario-ai/sendchat/pkg/cache"
	"github.com/pario-ai/sendchat/pkg/cache/memory"
	"github.com/pario-ai/sendchat/pkg/cache/sqlite"
	"github.com/pario-ai/sendchat/pkg/config"
	"github.com/pario-ai/sendchat/pkg/dispatch"
	"github.com/pario-ai/sendchat/pkg/logger"
	"github.com/pario-ai/sendchat/pkg/retry"
	"github.com/pario-ai/sendchat/pkg/router"
)

const defaultConfigPath = "sendchat.yaml"

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// loadConfig reads path. A missing default config file falls back to
// config.Default(); a missing file named with --config is an error.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

// newLogger writes to stderr and, when log.file is set, appends JSON records
// to that file as well. The returned closer is never nil.
func newLogger(cfg config.LogConfig) (*slog.Logger, io.Closer, error) {
	term := logger.New(
		logger.WithWriter(os.Stderr),
		logger.WithDebug(cfg.Debug),
		logger.WithJSON(cfg.JSON),
		logger.WithPretty(cfg.Pretty),
	)
	if cfg.File == "" {
		return term, nopCloser{}, nil
	}

	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	file := logger.New(
		logger.WithWriter(f),
		logger.WithDebug(cfg.Debug),
		logger.WithJSON(true),
	)
	return logger.Multi(term, file), f, nil
}

// newCache builds the configured cache backend. It returns a nil Cache when
// caching is disabled.
func newCache(cfg config.CacheConfig) (cache.Cache, io.Closer, error) {
	if !cfg.Enabled {
		return nil, nopCloser{}, nil
	}
	if cfg.Backend == config.CacheSQLite {
		c, err := sqlite.New(cfg.DBPath, cfg.TTL)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	}
	return memory.New(), nopCloser{}, nil
}

func retryPolicy(cfg config.RetryConfig) retry.Policy {
	p := retry.DefaultPolicy()
	if cfg.InitialInterval > 0 {
		p.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		p.MaxInterval = cfg.MaxInterval
	}
	if cfg.Multiplier > 0 {
		p.Multiplier = cfg.Multiplier
	}
	if cfg.MaxTime > 0 {
		p.MaxElapsedTime = cfg.MaxTime
	}
	return p
}

// newDispatcher wires providers, cache, retry policy and logging from cfg.
func newDispatcher(cfg *config.Config, log *slog.Logger) (*dispatch.Dispatcher, io.Closer, error) {
	c, closer, err := newCache(cfg.Cache)
	if err != nil {
		return nil, nil, err
	}

	opts := []dispatch.Option{
		dispatch.WithRetryPolicy(retryPolicy(cfg.Retry)),
		dispatch.WithLogger(log),
	}
	if c != nil {
		opts = append(opts, dispatch.WithCache(c))
	}
	return dispatch.New(router.FromConfig(cfg), opts...), closer, nil
}
