package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/copyedit/internal/pipeline"
	"github.com/MrWong99/copyedit/internal/render"
	"github.com/MrWong99/copyedit/internal/rules"
	"github.com/MrWong99/copyedit/internal/service"
)

type fixFlags struct {
	jsonOut   bool
	rulesOnly bool
	noColor   bool
	listRules bool
}

func newFixCmd(g *globalFlags) *cobra.Command {
	f := &fixFlags{}
	cmd := &cobra.Command{
		Use:   "fix [file|-]",
		Short: "Copyedit a paragraph from a file or stdin",
		Long: "Read one paragraph from a file, or from stdin when the argument is " +
			"omitted or \"-\", and print the revised text with every change " +
			"highlighted. Use --json for machine-readable output.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := "-"
			if len(args) == 1 {
				src = args[0]
			}
			return runFix(cmd.Context(), g, f, src, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "print the result as JSON")
	cmd.Flags().BoolVar(&f.rulesOnly, "rules-only", false, "apply deterministic rules only, without calling an LLM")
	cmd.Flags().BoolVar(&f.noColor, "no-color", false, "disable colored output")
	cmd.Flags().BoolVar(&f.listRules, "list-rules", false, "print the deterministic rules in application order and exit")
	return cmd
}

func runFix(ctx context.Context, g *globalFlags, f *fixFlags, src string, stdin io.Reader, out io.Writer) error {
	cfg, err := loadConfig(g.configPath)
	if err != nil {
		return err
	}
	logger, _ := newLogger(os.Stderr, cfg.Server.LogLevel)
	slog.SetDefault(logger)

	if f.listRules {
		return printRules(out, newRules(cfg))
	}

	text, err := readInput(src, stdin)
	if err != nil {
		return err
	}

	st, err := buildStack(ctx, cfg, stackOptions{rulesOnly: f.rulesOnly})
	if err != nil {
		return err
	}
	defer st.Close()

	mode := pipeline.ModeFull
	if f.rulesOnly {
		mode = pipeline.ModeRules
	} else if st.llm == nil {
		return errors.New("no llm provider configured: set providers.llm in the config file or pass --rules-only")
	}

	resp, err := st.service.Copyedit(ctx, service.Request{Text: text, Mode: mode, Client: "cli"})
	if err != nil {
		return err
	}

	if f.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp.Result)
	}

	var opts []render.Option
	if f.noColor {
		opts = append(opts, render.WithPlain())
	}
	_, err = fmt.Fprintln(out, render.New(opts...).Result(resp.Result))
	return err
}

// printRules writes one tab-separated line per rule: name, change type and
// reason.
func printRules(out io.Writer, e *rules.Engine) error {
	for _, r := range e.Rules() {
		if _, err := fmt.Fprintf(out, "%s\t%s\t%s\n", r.Name, r.Type, r.Reason); err != nil {
			return err
		}
	}
	return nil
}

// readInput reads the paragraph from path, or from stdin for "-".
func readInput(path string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(data), nil
}
