package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/raybeam/relay/internal/adapters/definition"
	"github.com/raybeam/relay/internal/core"
	"github.com/raybeam/relay/internal/domain"
	"github.com/raybeam/relay/internal/xjson"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	Workflow string
	Payload  string
	Delay    time.Duration
	Timeout  time.Duration
}

// NewRunCommand creates the run command. It dry-runs a workflow from a
// definition file against stub units, so definitions can be exercised end to
// end before real units exist.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run <definitions-file>",
		Short: "Dry-run a workflow with stub units",
		Long: `Load a definition file, register a stub effect for every referenced unit,
and execute one workflow synchronously. Stub units log their invocation and
echo the payload, so the run exercises leasing, dispatch, and orchestration
without touching real systems.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Workflow, "workflow", "w", "", "workflow to execute (required)")
	cmd.Flags().StringVarP(&opts.Payload, "payload", "p", "{}", "initial payload as JSON")
	cmd.Flags().DurationVar(&opts.Delay, "delay", 0, "artificial delay per stub unit")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", time.Minute, "overall execution timeout")
	_ = cmd.MarkFlagRequired("workflow")

	return cmd
}

// stubEffect echoes the payload it receives, optionally after a delay.
type stubEffect struct {
	name   string
	delay  time.Duration
	logger *slog.Logger
}

func (s stubEffect) Name() string { return s.name }

func (s stubEffect) Execute(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	s.logger.Info("stub unit invoked", "unit", s.name)
	return payload, nil
}

func runWorkflow(rootOpts *RootOptions, opts *RunOptions, path string, cmd *cobra.Command) error {
	var payload map[string]interface{}
	if err := xjson.Unmarshal([]byte(opts.Payload), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	doc, err := definition.LoadFile(path)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if rootOpts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	config := domain.DefaultConfig()
	config.Logger = logger

	rt := core.New(config, nil)

	for _, unit := range referencedUnits(doc) {
		if err := rt.RegisterEffect(stubEffect{name: unit, delay: opts.Delay, logger: logger}); err != nil {
			return err
		}
	}
	for _, wf := range doc.Workflows {
		if err := rt.RegisterWorkflow(wf); err != nil {
			return err
		}
	}
	for _, table := range doc.Reducers {
		if err := rt.RegisterReducer(table); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	if err := rt.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = rt.Stop() }()

	record, err := rt.ExecuteWorkflow(ctx, opts.Workflow, payload, "")
	if err != nil {
		return err
	}

	if rootOpts.Format == "json" {
		out, mErr := xjson.MarshalIndent(record, "", "  ")
		if mErr != nil {
			return mErr
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "workflow %s: %s (%d step(s))\n", record.Definition.Name, record.Status, len(record.Steps))
		for _, step := range record.Steps {
			line := fmt.Sprintf("  %s: %s", step.Step, step.Outcome.Status)
			if step.Warning != "" {
				line += " (" + step.Warning + ")"
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
	}

	if record.Status != domain.WorkflowStatusCompleted {
		return fmt.Errorf("workflow finished %s", record.Status)
	}
	return nil
}

// referencedUnits collects the distinct unit names a document refers to, in
// first-seen order.
func referencedUnits(doc *definition.Document) []string {
	seen := make(map[string]struct{})
	var units []string

	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		units = append(units, name)
	}

	for _, wf := range doc.Workflows {
		for _, step := range wf.Steps {
			add(step.Unit)
		}
	}
	for _, table := range doc.Reducers {
		for _, tr := range table.Transitions {
			for _, action := range tr.Actions {
				add(action)
			}
		}
	}
	return units
}
