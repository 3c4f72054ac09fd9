package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/copyedit/internal/mcpserver"
)

func newMCPCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the copyedit tool over MCP (stdio)",
		Long: "Run a Model Context Protocol server on stdin/stdout exposing the " +
			"\"copyedit\" tool. Logs go to stderr so the protocol stream stays clean.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(cmd.Context(), g)
		},
	}
}

func runMCP(ctx context.Context, g *globalFlags) error {
	cfg, err := loadConfig(g.configPath)
	if err != nil {
		return err
	}
	logger, _ := newLogger(os.Stderr, cfg.Server.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(ctx, cfg, stackOptions{withCache: true})
	if err != nil {
		return err
	}
	defer st.Close()
	if st.llm == nil {
		slog.Warn("no llm provider configured; only mode \"rules\" calls will succeed")
	}

	slog.Info("mcp server starting", "transport", "stdio", "version", version)
	return mcpserver.ServeStdio(ctx, mcpserver.New(st.service, version))
}
