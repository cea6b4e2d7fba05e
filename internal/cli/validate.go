package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raybeam/relay/internal/adapters/definition"
	"github.com/raybeam/relay/internal/xjson"
)

// ValidationResult holds validation results for one definition file.
type ValidationResult struct {
	Valid     bool   `json:"valid"`
	Workflows int    `json:"workflows"`
	Reducers  int    `json:"reducers"`
	Error     string `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <definitions-file>",
		Short: "Validate workflow and reducer definitions",
		Long: `Validate a YAML definition file without executing anything.

Checks workflow step references, execution modes, recovery strategies, and
transition table ambiguity.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	doc, err := definition.LoadFile(path)

	result := ValidationResult{Valid: err == nil}
	if doc != nil {
		result.Workflows = len(doc.Workflows)
		result.Reducers = len(doc.Reducers)
	}
	if err != nil {
		result.Error = err.Error()
	}

	if opts.Format == "json" {
		out, mErr := xjson.MarshalIndent(result, "", "  ")
		if mErr != nil {
			return mErr
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		if err != nil {
			return fmt.Errorf("validation failed")
		}
		return nil
	}

	if err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "✗ %s\n", err.Error())
		return fmt.Errorf("validation failed")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %d workflow(s), %d reducer(s) valid\n", result.Workflows, result.Reducers)
	return nil
}
