package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/MrWong99/copyedit/internal/cache/postgres"
	"github.com/MrWong99/copyedit/internal/config"
	"github.com/MrWong99/copyedit/internal/health"
	"github.com/MrWong99/copyedit/internal/observe"
	"github.com/MrWong99/copyedit/internal/server"
)

// telemetryShutdownTimeout bounds the final flush of metrics and traces.
const telemetryShutdownTimeout = 5 * time.Second

type serveFlags struct {
	listenAddr     string
	trustForwarded bool
	noReload       bool
}

func newServeCmd(g *globalFlags) *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: "Serve POST /api/copyedit together with health probes and Prometheus " +
			"metrics. The config file is watched and log level, extra typos and " +
			"rate limits are applied without restart.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), g, f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&f.listenAddr, "listen", "", "listen address, overrides server.listen_addr")
	cmd.Flags().BoolVar(&f.trustForwarded, "trust-forwarded", false,
		"rate-limit by the first X-Forwarded-For entry (only behind a trusted proxy)")
	cmd.Flags().BoolVar(&f.noReload, "no-reload", false, "do not watch the config file for changes")
	return cmd
}

func runServe(ctx context.Context, g *globalFlags, f *serveFlags, out io.Writer) error {
	cfg, err := loadConfig(g.configPath)
	if err != nil {
		return err
	}
	if f.listenAddr != "" {
		cfg.Server.ListenAddr = f.listenAddr
	}

	logger, level := newLogger(os.Stderr, cfg.Server.LogLevel)
	slog.SetDefault(logger)
	slog.Info("copyedit starting",
		"version", version,
		"config", g.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		tel     *observe.Telemetry
		metrics *observe.Metrics
	)
	if cfg.Telemetry.MetricsEnabled() {
		tel, err = observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: version,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		metrics = tel.Metrics
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
			defer cancel()
			if err := tel.Shutdown(shutdownCtx); err != nil {
				slog.Warn("telemetry shutdown error", "err", err)
			}
		}()
	}

	st, err := buildStack(ctx, cfg, stackOptions{
		metrics:     metrics,
		withCache:   true,
		withLimiter: true,
	})
	if err != nil {
		return err
	}
	defer st.Close()
	if st.llm == nil {
		slog.Warn("no llm provider configured; only mode \"rules\" requests will succeed")
	}
	if pg, ok := st.cache.(*postgres.Cache); ok {
		purgeCtx, cancelPurge := context.WithCancel(ctx)
		defer cancelPurge()
		go purgeExpired(purgeCtx, pg, cfg.Cache.TTL.Std())
	}

	if !f.noReload {
		w, err := config.NewWatcher(g.configPath, func(_, newCfg *config.Config, d config.ConfigDiff) {
			st.applyDiff(level, d, newCfg)
		})
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Debug("config file not found, hot reload disabled", "path", g.configPath)
		case err != nil:
			slog.Warn("config watcher not started", "err", err)
		default:
			go w.Run(ctx)
			go reloadOnHangup(ctx, w)
		}
	}

	srvOpts := []server.Option{
		server.WithHealth(health.New(st.checkers(), health.WithVersion(version))),
		server.WithTrustForwarded(f.trustForwarded),
	}
	if tel != nil {
		srvOpts = append(srvOpts,
			server.WithMetrics(metrics),
			server.WithMetricsHandler(tel.MetricsHandler()),
		)
	}
	srv := server.New(st.service, srvOpts...)

	printStartupSummary(out, cfg)

	var certFile, keyFile string
	if tls := cfg.Server.TLS; tls != nil {
		certFile, keyFile = tls.CertFile, tls.KeyFile
	}
	if err := srv.Run(ctx, cfg.Server.ListenAddr, certFile, keyFile); err != nil {
		return err
	}
	slog.Info("goodbye")
	return nil
}

var summaryBox = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("#D97706")).
	Padding(0, 1)

// reloadOnHangup re-reads the config file whenever the process receives
// SIGHUP, without waiting for the next poll.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			_, err := w.Reload()
			switch {
			case errors.Is(err, config.ErrUnchanged):
				slog.Info("SIGHUP: config unchanged")
			case err != nil:
				slog.Warn("SIGHUP: keeping previous config", "err", err)
			}
		}
	}
}

// printStartupSummary writes a short overview of the effective config.
func printStartupSummary(w io.Writer, cfg *config.Config) {
	rows := [][2]string{
		{"LLM", providerLabel(cfg.Providers.LLM)},
		{"Fallbacks", fmt.Sprintf("%d", len(cfg.Providers.LLMFallbacks))},
		{"Cache", string(cfg.Cache.Backend)},
		{"Rate limit", rateLabel(cfg.RateLimit)},
		{"Max passes", fmt.Sprintf("%d", cfg.Pipeline.MaxPasses)},
		{"Listen addr", cfg.Server.ListenAddr},
		{"TLS", onOff(cfg.Server.TLS != nil)},
		{"Metrics", onOff(cfg.Telemetry.MetricsEnabled())},
	}
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Render("copyedit " + version))
	for _, r := range rows {
		fmt.Fprintf(&b, "\n%-12s %s", r[0], r[1])
	}
	fmt.Fprintln(w, summaryBox.Render(b.String()))
}

func providerLabel(e config.ProviderEntry) string {
	switch {
	case e.Name == "":
		return "(none, rules only)"
	case e.Model == "":
		return e.Name
	default:
		return e.Name + " / " + e.Model
	}
}

func rateLabel(rl config.RateLimitConfig) string {
	if rl.RequestsPerMinute <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%g/min, burst %d", rl.RequestsPerMinute, rl.Burst)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
