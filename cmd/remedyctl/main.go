// Package main implements remedyctl, the operator CLI for remediation jobs.
//
// remedyctl opens the same store remedyd uses and drives jobs through the
// pipeline directly. With Temporal enabled in the config, submissions can
// start a job workflow and review decisions are delivered as signals.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/logging"
	"github.com/fyrsmithlabs/remedyd/internal/services"
	"github.com/fyrsmithlabs/remedyd/internal/workflows"
)

var (
	// configPath is the remedyd config file shared with the daemon
	configPath string
	// outputJSON switches every command to JSON output
	outputJSON bool
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "remedyctl",
	Short: "Operate remediation jobs",
	Long: `remedyctl drives EPUB and PDF remediation jobs: submit artifacts, build
plans, review them, run fixes and verify the results.

It reads the remedyd configuration, so both work against the same store.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "remedyd config file (default ~/.config/remedyd/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output results as JSON")
}

// env is an opened service registry plus the optional workflow signaler.
type env struct {
	cfg      *config.Config
	reg      services.Registry
	signaler *workflows.Signaler
	temporal client.Client
}

// openEnv loads config and builds services. Logs below warn are dropped and
// the rest go to stderr so stdout stays parseable.
func openEnv(ctx context.Context, withTemporal bool) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("invalid logging configuration: %w", err)
	}
	if logCfg.Level < zapcore.WarnLevel {
		logCfg.Level = zapcore.WarnLevel
	}
	logCfg.Format = "console"
	logger, err := logging.NewLoggerTo(logCfg, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	e := &env{cfg: cfg}
	opts := services.BuildOptions{Logger: logger.Underlying()}

	if withTemporal && cfg.Temporal.Enabled {
		c, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
		})
		if err != nil {
			return nil, fmt.Errorf("unable to create Temporal client: %w", err)
		}
		e.temporal = c
		e.signaler = workflows.NewSignaler(c, cfg.Temporal.TaskQueue, cfg.Temporal.ReviewTimeout, logger.Underlying())
		opts.Advancer = e.signaler
	}

	reg, err := services.Build(ctx, cfg, opts)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.reg = reg
	return e, nil
}

// Close releases the store and the Temporal client.
func (e *env) Close() {
	if e.reg != nil {
		_ = e.reg.Store().Close()
	}
	if e.temporal != nil {
		e.temporal.Close()
	}
}

// withEnv runs fn against an opened env and closes it afterwards.
func withEnv(cmd *cobra.Command, withTemporal bool, fn func(ctx context.Context, e *env) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := openEnv(ctx, withTemporal)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(ctx, e)
}

// render writes v as JSON when --json is set, otherwise calls human.
func render(w io.Writer, v any, human func(w io.Writer) error) error {
	if outputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return human(w)
}
