// Command tethys is the operator CLI: ask questions, inspect plans, load
// ARGO CSV exports, build the summary index and run guarded SQL.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tethys-ocean/tethys/engine/bootstrap"
	"github.com/tethys-ocean/tethys/pkg/config"
)

var version = "dev"

// app carries the global flags into every command.
type app struct {
	configPath string
	debug      bool
	asJSON     bool
}

func (a *app) config() (*config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	if a.debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func (a *app) logger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
}

// stack loads config and opens the pipeline. The caller closes it.
func (a *app) stack(ctx context.Context, opts ...bootstrap.Option) (*bootstrap.Stack, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	return bootstrap.Open(ctx, cfg, a.logger(cfg), opts...)
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "tethys",
		Short:         "Ask questions about ARGO ocean floats",
		Long:          "tethys answers natural-language questions over ARGO float profiles stored in SQLite and Qdrant",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("TETHYS_CONFIG"), "path to a YAML config file")
	root.PersistentFlags().BoolVarP(&a.debug, "debug", "d", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&a.asJSON, "json", false, "print machine-readable JSON")

	root.AddCommand(
		a.askCmd(),
		a.planCmd(),
		a.loadCmd(),
		a.indexCmd(),
		a.sqlCmd(),
		a.migrateCmd(),
		a.floatsCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}
