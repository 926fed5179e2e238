package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/DeafMist/place-radar/internal/agent"
	"github.com/DeafMist/place-radar/internal/config"
	"github.com/DeafMist/place-radar/internal/logger"
	"github.com/DeafMist/place-radar/internal/report"
)

type reportFetcher interface {
	FetchReport(ctx context.Context, reportID string) (*report.Node, error)
}

// app carries what the commands need. newFetcher is only called by the
// fetch command, so local files can be inspected without agent settings.
type app struct {
	log        *slog.Logger
	newFetcher func() (reportFetcher, error)
	showBody   bool
}

func main() {
	log := logger.New("inspect")
	a := &app{log: log, newFetcher: func() (reportFetcher, error) {
		cfg, err := config.LoadInspect()
		if err != nil {
			return nil, err
		}
		return agent.New(cfg.AgentBaseURL, agent.Options{
			Timeout:  cfg.AgentTimeout,
			RetryMax: cfg.AgentRetryMax,
		}, log)
	}}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := a.rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "inspect",
		Short: "Normalize raw place reports the way the API serves them",
		Long: `Normalize raw place reports the way the API serves them.

The view is printed as indented JSON. With --body the resolved report body
is printed instead, after envelope unwrapping and register removal.

Examples:
  inspect file ./report.json
  inspect fetch 30 --body`,
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVar(&a.showBody, "body", false, "Print the resolved report body instead of the view")

	root.AddCommand(&cobra.Command{
		Use:   "file <path>",
		Short: "Normalize a raw report stored on disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read report: %w", err)
			}
			raw, err := report.Parse(data)
			if err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			return a.print(cmd.OutOrStdout(), args[0], raw)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "fetch <reportId>",
		Short: "Fetch a report from the agent and normalize it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fetcher, err := a.newFetcher()
			if err != nil {
				return fmt.Errorf("init agent client: %w", err)
			}
			raw, err := fetcher.FetchReport(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), args[0], raw)
		},
	})

	return root
}

func (a *app) print(w io.Writer, source string, raw *report.Node) error {
	view := report.BuildView(raw)
	if len(view.Conflicts) > 0 {
		a.log.Warn("report matched several envelope shapes",
			slog.String("source", source),
			slog.Any("wrappers", view.Conflicts),
		)
	}
	a.log.Debug("report normalized", slog.String("source", source), slog.String("state", string(view.State)))

	var out any = view
	if a.showBody {
		out = view.Body
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
