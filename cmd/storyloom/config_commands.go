package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"storyloom/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Write or check the storyloom configuration",
		Long: `Inspect the TOML file that controls windowing, generation models,
worker concurrency and the stale sweep.`,
	}

	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand())

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the annotated sample configuration",
		Long: `Write the annotated sample configuration. Without --path the file lands in
~/.config/storyloom/config.toml.`,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := configInitTarget(targetPath)
			if err != nil {
				return err
			}
			if !overwrite {
				_, statErr := os.Stat(target)
				switch {
				case statErr == nil:
					return fmt.Errorf("%s already exists; pass --overwrite to replace it", target)
				case !errors.Is(statErr, fs.ErrNotExist):
					return fmt.Errorf("inspect %s: %w", target, statErr)
				}
			}
			if err := config.CreateSample(target); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Next: set openai.api_key (or OPENAI_API_KEY) and point [source] at your catalog.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Where to write the sample file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

func configInitTarget(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return config.DefaultConfigPath()
	}
	target, err := config.ExpandPath(raw)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", raw, err)
	}
	return target, nil
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and print the effective pipeline settings",
		Long: `Load and validate the configuration, create the data, log and artifact
directories, then summarize the settings the daemon would run with.`,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(ctx.configPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			printConfigSummary(cmd.OutOrStdout(), cfg, path, exists)
			return nil
		},
	}
}

func printConfigSummary(out io.Writer, cfg *config.Config, path string, exists bool) {
	origin := path
	if !exists {
		origin = path + " (not found, built-in defaults)"
	}
	source := cfg.Source.Kind
	switch cfg.Source.Kind {
	case "dir":
		source += " " + cfg.Source.Dir
	case "http":
		source += " " + cfg.Source.URLTemplate
	}
	admission := "all windows at ingest"
	if cfg.Pipeline.InitialBatch > 0 {
		admission = fmt.Sprintf("%d in flight", cfg.Pipeline.InitialBatch)
		if !cfg.Pipeline.AutoTopUp {
			admission += ", manual top-up"
		}
	}
	notify := "disabled"
	if cfg.Notifications.NtfyTopic != "" {
		notify = cfg.Notifications.NtfyTopic
	}

	fmt.Fprintf(out, "File: %s\n", origin)
	fmt.Fprintf(out, "Records db: %s\n", cfg.RecordsPath())
	fmt.Fprintf(out, "Queue db: %s\n", cfg.QueuePath())
	fmt.Fprintf(out, "Artifacts: %s\n", cfg.Paths.ArtifactDir)
	fmt.Fprintf(out, "Source: %s\n", source)
	fmt.Fprintf(out, "Windows: %d words, %s\n", cfg.Pipeline.WordsPerSequence, admission)
	fmt.Fprintf(out, "Sweep: %q, stale after %s\n", cfg.Sweep.Schedule, cfg.StaleAfter())
	fmt.Fprintf(out, "Notifications: %s\n", notify)
	fmt.Fprintln(out, "Configuration valid")
}
