package cli

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/digestflow/config"
)

// loadConfig resolves and loads the configuration for a command, honoring
// the --config flag and the standard discovery order.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	explicitPath, _ := cmd.Flags().GetString("config")

	path, found, err := config.Discover(explicitPath)
	if err != nil {
		return config.Config{}, exitError(exitFileNotFound, "%v", err)
	}
	if !found {
		path = ""
	}

	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, exitError(exitValidation, "%v", err)
	}
	return cfg, nil
}

// applyStringFlag overwrites dst when the flag was set to a non-empty value.
// Flags win over both the config file and environment overrides.
func applyStringFlag(cmd *cobra.Command, name string, dst *string) {
	if !cmd.Flags().Changed(name) {
		return
	}
	if v, _ := cmd.Flags().GetString(name); strings.TrimSpace(v) != "" {
		*dst = v
	}
}

// buildLogger derives the command logger from the root --verbose and --quiet
// flags.
func buildLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: level,
	}))
}
