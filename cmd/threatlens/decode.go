package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/iyulab/threatlens/internal/analyzer"
	"github.com/iyulab/threatlens/internal/jsonfix"
)

func newDecodeCmd() *cobra.Command {
	var repair string

	cmd := &cobra.Command{
		Use:   "decode <file|->",
		Short: "Decode saved model output and print the recovered result",
		Long: `decode runs the response decoder alone on raw model output, the same way
an analysis would: strip code fences, parse, repair a truncated response
once, validate. It prints the stage reached and the result as JSON. No
configuration or API key is needed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fn, ok := jsonfix.Strategy(repair)
			if !ok {
				return fmt.Errorf("unsupported --repair %q (structural, lenient)", repair)
			}
			raw, err := readArg(cmd, args[0])
			if err != nil {
				return err
			}

			verbose, _ := cmd.Flags().GetBool("verbose")
			d := analyzer.NewDecoder(fn, verbose)
			d.SetLogWriter(cmd.ErrOrStderr())
			out := d.Decode(string(raw))

			fmt.Fprintf(cmd.ErrOrStderr(), "[*] Stage: %s (repaired=%v, fallback=%v)\n", out.Stage, out.Repaired, out.Fallback)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out.Result); err != nil {
				return err
			}
			if out.Fallback {
				return fmt.Errorf("response unrecoverable: %v", out.Cause)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&repair, "repair", "structural", "repair strategy: structural, lenient")
	return cmd
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema model responses must satisfy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(analyzer.AnalysisSchema)
		},
	}
}

func readArg(cmd *cobra.Command, arg string) ([]byte, error) {
	if arg == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", arg, err)
	}
	return data, nil
}
