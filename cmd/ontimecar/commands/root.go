// Package commands holds the ontimecar CLI.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"ontimecar-scraper/internal/config"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "ontimecar",
		Short:         "ontimecar looks up OnTimeCar back-office records by patient identifier.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the config file")

	load := func() (config.Config, error) {
		return config.Load(configPath)
	}
	root.AddCommand(
		newServeCmd(load),
		newMCPCmd(load),
		newQueryCmd(),
		newViewsCmd(load),
	)
	return root
}

func ExecuteContext(ctx context.Context) {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type configLoader func() (config.Config, error)

// newLogger builds the process logger. Unknown levels fall back to info.
func newLogger(cfg config.ServerConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
