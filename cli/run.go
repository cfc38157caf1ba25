package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/digestflow/llmprovider"
	"github.com/petal-labs/digestflow/pipeline"
)

// NewRunCmd creates the "run" subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the digest pipeline once and print the digest",
		Args:  cobra.NoArgs,
		RunE:  runRun,
	}

	cmd.Flags().String("config", "", "Path to digestflow.yaml (default: discovery order)")
	cmd.Flags().IntP("count", "n", 0, "Number of emails to analyze (default: from config)")
	cmd.Flags().String("mailbox", "", "Path to the mailbox JSON file")
	cmd.Flags().String("provider", "", "LLM provider: anthropic | openai | ollama")
	cmd.Flags().String("model", "", "Model identifier")
	cmd.Flags().StringP("output", "o", "", "Write the digest to a file (default: stdout)")
	cmd.Flags().Duration("timeout", 5*time.Minute, "Run timeout")

	return cmd
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyStringFlag(cmd, "mailbox", &cfg.Mailbox.Path)
	applyStringFlag(cmd, "provider", &cfg.Provider.Name)
	applyStringFlag(cmd, "model", &cfg.Provider.Model)
	if count, _ := cmd.Flags().GetInt("count"); count > 0 {
		cfg.Pipeline.EmailCount = count
	}

	logger := buildLogger(cmd)

	client, err := llmprovider.NewClient(cfg.Provider.Name, cfg.Provider.APIKey)
	if err != nil {
		return exitError(exitProvider, "creating %s client: %v", cfg.Provider.Name, err)
	}

	p, err := pipeline.New(pipeline.Config{
		Source:         &pipeline.FileSource{Path: cfg.Mailbox.Path},
		Client:         client,
		Model:          cfg.Provider.Model,
		PlannerTimeout: cfg.Pipeline.PlannerTimeout.Std(),
		MaxIterations:  cfg.Pipeline.MaxIterations,
		Logger:         logger,
	})
	if err != nil {
		return exitError(exitValidation, "%v", err)
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	digest, err := p.Run(ctx, cfg.Pipeline.EmailCount)
	if err != nil {
		return runError(ctx, timeout, err)
	}

	return writeDigest(cmd, digest)
}

func runError(ctx context.Context, timeout time.Duration, err error) error {
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		return exitError(exitTimeout, "digest run timed out after %s", timeout)
	case errors.Is(err, fs.ErrNotExist):
		return exitError(exitFileNotFound, "%v", err)
	default:
		return exitError(exitRuntime, "digest run failed: %v", err)
	}
}

// writeDigest sends the digest to --output or stdout.
func writeDigest(cmd *cobra.Command, digest string) error {
	outputPath, _ := cmd.Flags().GetString("output")
	if outputPath != "" {
		if err := os.WriteFile(outputPath, []byte(digest+"\n"), 0600); err != nil {
			return exitError(exitRuntime, "writing digest file: %v", err)
		}
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), digest)
	return nil
}
