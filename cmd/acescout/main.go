package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/acescout/acescout"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags holds flags for commands that talk to a running daemon.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	apiFlags := &APIFlags{}

	root := &cobra.Command{
		Use:   "acescout",
		Short: "Acestream channel discovery and health monitoring daemon",
		Long: `Acescout scrapes configured sources for acestream channel identifiers,
probes the local engine for channel health, refreshes EPG guides and keeps an
activity log, all on configurable schedules.

Examples:
  acescout serve --config=acescout.toml
  acescout scrape --config=acescout.toml     # one-shot scrape, no daemon
  acescout status --api-url=http://host:8000/api
  acescout trigger status_check --api-url=http://host:8000/api`,
	}
	root.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "path to TOML config file (optional)")

	root.AddCommand(
		createServeCommand(globalFlags),
		createScrapeCommand(globalFlags),
		createStatusCommand(apiFlags),
		createTriggerCommand(apiFlags),
		createActivityCommand(apiFlags),
	)
	return root
}

func loadConfig(flags *GlobalFlags) (*acescout.Config, error) {
	if flags.ConfigPath == "" {
		return acescout.DefaultConfig(), nil
	}
	return acescout.LoadConfig(flags.ConfigPath)
}

func createServeCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: scheduler plus HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			app, err := acescout.New(cfg)
			if err != nil {
				return err
			}
			ctx := context.Background()
			if err := app.Start(ctx); err != nil {
				return err
			}
			fmt.Printf("acescout listening on %s\n", cfg.Server.Listen)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig

			stopCtx, cancel := context.WithTimeout(ctx, cfg.Scheduler.GraceTimeout+10*time.Second)
			defer cancel()
			return app.Stop(stopCtx)
		},
	}
}

func createScrapeCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "scrape",
		Short: "Run the scrape task once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			cfg.Server.Listen = "127.0.0.1:0"
			app, err := acescout.New(cfg)
			if err != nil {
				return err
			}
			ctx := context.Background()
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = app.Stop(ctx) }()

			if err := app.TriggerTask(acescout.TaskScrape); err != nil {
				return err
			}
			rec, err := waitForCompletion(app, acescout.TaskScrape, 30*time.Minute)
			if err != nil {
				return err
			}
			if rec.LastError != "" {
				return fmt.Errorf("scrape failed: %s", rec.LastError)
			}
			fmt.Println(rec.LastResult)
			return nil
		},
	}
}

func waitForCompletion(app *acescout.App, name string, timeout time.Duration) (acescout.TaskRecord, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		rec, err := app.TaskStatus(name)
		if err != nil {
			return acescout.TaskRecord{}, err
		}
		if rec.State != "running" && rec.State != "idle" {
			return rec, nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return acescout.TaskRecord{}, fmt.Errorf("task %s did not finish within %s", name, timeout)
}

func createStatusCommand(flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show task records of a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewAPIClient(flags.APIUrl, flags.APITimeout)
			records, err := client.TaskStatuses()
			if err != nil {
				return err
			}
			for _, rec := range records {
				line := fmt.Sprintf("%-16s %-8s", rec.TaskName, rec.State)
				if !rec.LastRun.IsZero() {
					line += " last=" + rec.LastRun.Format(time.RFC3339)
				}
				if !rec.NextRun.IsZero() {
					line += " next=" + rec.NextRun.Format(time.RFC3339)
				}
				if rec.LastError != "" {
					line += " error=" + rec.LastError
				} else if rec.LastResult != "" {
					line += " result=" + rec.LastResult
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createTriggerCommand(flags *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger <task>",
		Short: "Trigger a task on a running daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewAPIClient(flags.APIUrl, flags.APITimeout)
			if err := client.TriggerTask(args[0]); err != nil {
				return err
			}
			fmt.Printf("task %s triggered\n", args[0])
			return nil
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createActivityCommand(flags *APIFlags) *cobra.Command {
	var days, limit int
	var kind string
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show recent activity of a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewAPIClient(flags.APIUrl, flags.APITimeout)
			entries, err := client.Activity(days, kind, limit)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%s  %-12s %s\n", e.Timestamp.Format(time.RFC3339), e.Kind, e.Message)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "how many days back to list")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum entries")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by activity kind")
	addAPIFlags(cmd, flags)
	return cmd
}

func addAPIFlags(cmd *cobra.Command, flags *APIFlags) {
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8000/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
}
