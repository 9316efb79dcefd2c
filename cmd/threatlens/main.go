// Package main is the CLI entry point for threatlens.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iyulab/threatlens/internal/config"
	"github.com/iyulab/threatlens/internal/orchestrator"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "threatlens",
		Short: "LLM-assisted triage of security logs and incident data",
		Long: `threatlens sends logs, alerts, or captured artifacts to an LLM and turns
the structured answer into a threat score, an attack timeline, and a
MITRE ATT&CK mapping. Truncated or malformed model output is repaired
where possible; otherwise a fallback result is shown.

Run without a subcommand to open the local dashboard.`,
		RunE:          runServe,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file (default: config.toml if present)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	addServeFlags(rootCmd)
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local dashboard",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	addServeFlags(serveCmd)

	rootCmd.AddCommand(
		serveCmd,
		newAnalyzeCmd(),
		newDecodeCmd(),
		newSchemaCmd(),
		newUpdateCmd(version),
	)
	return rootCmd
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().Int("port", 0, "dashboard port (default: server.port)")
	cmd.Flags().Bool("no-open", false, "do not open a browser")
}

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <file|->",
		Short: "Analyze a file (or stdin) once and write report artifacts",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyze,
	}
	cmd.Flags().StringP("model", "m", "", "model to use (default: llm.model)")
	cmd.Flags().StringP("output", "o", "", "output directory (default: output.dir)")
	cmd.Flags().StringSlice("format", nil, "artifact formats: json, yaml, markdown, html (default: output.formats)")
	cmd.Flags().Bool("zip", false, "package the output directory as a ZIP archive")
	cmd.Flags().Bool("serve", false, "open the dashboard on the result after writing artifacts")
	addServeFlags(cmd)
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return orchestrator.New(cfg, orchestratorOptions(cmd, "")).Serve(cmd.Context())
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if dir, _ := cmd.Flags().GetString("output"); dir != "" {
		cfg.Output.Dir = dir
	}
	if cmd.Flags().Changed("format") {
		formats, _ := cmd.Flags().GetStringSlice("format")
		cfg.Output.Formats = formats
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}

	opts := orchestratorOptions(cmd, args[0])
	opts.Model, _ = cmd.Flags().GetString("model")
	opts.Package, _ = cmd.Flags().GetBool("zip")
	opts.Serve, _ = cmd.Flags().GetBool("serve")

	_, err = orchestrator.New(cfg, opts).Run(cmd.Context())
	return err
}

func orchestratorOptions(cmd *cobra.Command, inputPath string) orchestrator.Options {
	verbose, _ := cmd.Flags().GetBool("verbose")
	noOpen, _ := cmd.Flags().GetBool("no-open")
	return orchestrator.Options{
		Input:   inputPath,
		NoOpen:  noOpen,
		Verbose: verbose,
		Version: fmt.Sprintf("%s (%s)", version, commit),
	}
}

// loadConfig loads --config, or config.toml from the working directory when
// it exists, and applies the --port flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		if _, err := os.Stat("config.toml"); err == nil {
			path = "config.toml"
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if f := cmd.Flags().Lookup("port"); f != nil && f.Changed {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	return cfg, nil
}
