package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/MrWong99/copyedit/internal/cache"
	"github.com/MrWong99/copyedit/internal/cache/postgres"
	"github.com/MrWong99/copyedit/internal/config"
	"github.com/MrWong99/copyedit/internal/health"
	"github.com/MrWong99/copyedit/internal/observe"
	"github.com/MrWong99/copyedit/internal/pipeline"
	"github.com/MrWong99/copyedit/internal/resilience"
	"github.com/MrWong99/copyedit/internal/rewrite"
	"github.com/MrWong99/copyedit/internal/rules"
	"github.com/MrWong99/copyedit/internal/service"
)

// limiterIdle is how long an unused per-client bucket is kept.
const limiterIdle = 10 * time.Minute

// loadConfig reads the config at path. A missing file at the default path
// yields the built-in defaults so that rules-only use needs no setup.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) && path == defaultConfigPath {
		return config.Default(), nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found", path)
	}
	return nil, err
}

// newLogger builds the process logger. The returned level can be changed at
// runtime by the config watcher.
func newLogger(w io.Writer, level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(level.SlogLevel())
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), lvl
}

// stackOptions selects which optional parts [buildStack] assembles.
type stackOptions struct {
	// metrics receives pipeline and service instruments. Nil selects the
	// global meter provider.
	metrics *observe.Metrics

	// withCache enables the configured result cache.
	withCache bool

	// withLimiter installs the per-client rate limiter.
	withLimiter bool

	// rulesOnly skips LLM construction entirely.
	rulesOnly bool
}

// stack is the assembled copyedit service with handles for hot reload and
// health reporting.
type stack struct {
	pipeline *pipeline.Pipeline
	service  *service.Service
	limiter  *service.RateLimiter
	llm      *resilience.LLMFallback
	cache    cache.Cache
	closers  []func()
}

// buildStack wires providers, pipeline, cache and service from cfg.
func buildStack(ctx context.Context, cfg *config.Config, opts stackOptions) (*stack, error) {
	st := &stack{}

	if !opts.rulesOnly {
		reg := config.NewRegistry()
		registerBuiltinProviders(reg)
		fb, err := buildLLM(cfg, reg)
		if err != nil {
			return nil, err
		}
		st.llm = fb
	}

	providerName := cfg.Providers.LLM.Name
	pipeOpts := []pipeline.Option{
		pipeline.WithRules(newRules(cfg)),
		pipeline.WithMaxPasses(cfg.Pipeline.MaxPasses),
		pipeline.WithMaxInputChars(cfg.Pipeline.MaxInputChars),
	}
	if providerName != "" {
		pipeOpts = append(pipeOpts, pipeline.WithProviderName(providerName))
	}
	if opts.metrics != nil {
		pipeOpts = append(pipeOpts, pipeline.WithMetrics(opts.metrics))
	}
	if st.llm != nil {
		var rwOpts []rewrite.Option
		if t := cfg.Pipeline.Temperature; t != nil {
			rwOpts = append(rwOpts, rewrite.WithTemperature(*t))
		}
		pipeOpts = append(pipeOpts, pipeline.WithRewriter(rewrite.New(st.llm, rwOpts...)))
	}
	st.pipeline = pipeline.New(pipeOpts...)

	svcOpts := []service.Option{
		service.WithTimeout(cfg.Server.RequestTimeout.Std()),
	}
	if providerName != "" {
		svcOpts = append(svcOpts, service.WithProviderName(providerName))
	}
	if opts.metrics != nil {
		svcOpts = append(svcOpts, service.WithMetrics(opts.metrics))
	}
	if opts.withCache {
		c, closeFn, err := buildCache(ctx, cfg.Cache)
		if err != nil {
			return nil, err
		}
		if c != nil {
			st.cache = c
			svcOpts = append(svcOpts, service.WithCache(c))
		}
		if closeFn != nil {
			st.closers = append(st.closers, closeFn)
		}
	}
	if opts.withLimiter {
		st.limiter = service.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst, limiterIdle)
		svcOpts = append(svcOpts, service.WithLimiter(st.limiter))
	}
	st.service = service.New(st.pipeline, svcOpts...)
	return st, nil
}

// newRules builds the rule engine with the configured extra typos.
func newRules(cfg *config.Config) *rules.Engine {
	return rules.New(rules.WithTypos(cfg.Pipeline.ExtraTypos))
}

// buildCache opens the configured cache backend. The returned close function
// may be nil.
func buildCache(ctx context.Context, cc config.CacheConfig) (cache.Cache, func(), error) {
	switch cc.Backend {
	case config.CacheNone:
		return nil, nil, nil
	case config.CachePostgres:
		pg, err := postgres.New(ctx, cc.PostgresDSN, postgres.WithTTL(cc.TTL.Std()))
		if err != nil {
			return nil, nil, err
		}
		slog.Info("cache ready", "backend", cc.Backend, "ttl", cc.TTL.Std())
		return pg, pg.Close, nil
	default:
		opts := []cache.Option{cache.WithTTL(cc.TTL.Std())}
		if cc.MaxEntries > 0 {
			opts = append(opts, cache.WithMaxEntries(cc.MaxEntries))
		}
		slog.Info("cache ready", "backend", config.CacheMemory, "ttl", cc.TTL.Std(), "max_entries", cc.MaxEntries)
		return cache.NewMemory(opts...), nil, nil
	}
}

// checkers returns the readiness checks for the assembled stack.
func (st *stack) checkers() []health.Checker {
	checks := []health.Checker{
		{Name: "cache", Check: st.service.Ready},
	}
	if st.llm != nil {
		checks = append(checks, health.Checker{Name: "llm", Check: st.llm.Check})
	}
	return checks
}

// applyDiff applies the hot-reloadable parts of a config change.
func (st *stack) applyDiff(level *slog.LevelVar, d config.ConfigDiff, cfg *config.Config) {
	if d.LogLevelChanged {
		level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("config reload: log level changed", "level", d.NewLogLevel)
	}
	if d.TyposChanged {
		st.pipeline.SetRules(newRules(cfg))
		slog.Info("config reload: typo dictionary updated", "extra_typos", len(cfg.Pipeline.ExtraTypos))
	}
	if d.RateLimitChanged && st.limiter != nil {
		st.limiter.SetLimit(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
		slog.Info("config reload: rate limit updated",
			"requests_per_minute", cfg.RateLimit.RequestsPerMinute, "burst", cfg.RateLimit.Burst)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: some changes need a restart", "sections", d.RestartRequired)
	}
}

// Close releases the cache connection if one was opened.
func (st *stack) Close() {
	for _, fn := range st.closers {
		fn()
	}
}

// purgeExpired deletes expired rows from the postgres cache every interval
// until ctx is done.
func purgeExpired(ctx context.Context, pg *postgres.Cache, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := pg.Purge(ctx)
			if err != nil {
				slog.Warn("cache purge failed", "err", err)
				continue
			}
			slog.Debug("cache purge", "removed", n)
		}
	}
}
