package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/ledgersync/internal/harness"
)

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario <file>",
		Short: "Run one scenario and print its trace",
		Long: `Run one scenario against a scripted in-memory backend and print the
trace: connector calls and fired transitions per step.

Exit codes:
  0 - Every expectation and assertion held
  1 - The scenario failed
  2 - The scenario could not be loaded or executed

Example:
  ledgersync scenario ./scenarios/create_reset_retry.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runScenarioFile(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidScenario, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	formatter.VerboseLog("Running %s: %s", scenario.Name, scenario.Description)

	result, err := harness.Run(scenario)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "scenario execution failed", err)
	}

	if opts.Format == "json" {
		status := "ok"
		var cliErr *CLIError
		if !result.Pass {
			status = "error"
			cliErr = &CLIError{Code: ErrCodeInvalidScenario, Message: fmt.Sprintf("%d expectation(s) failed", len(result.Errors))}
		}
		if err := formatter.Response(CLIResponse{Status: status, Data: result, Error: cliErr}); err != nil {
			return err
		}
	} else {
		trace, err := harness.MarshalTrace(scenario.Name, result.Trace)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprint(w, string(trace))
		for _, e := range result.Errors {
			fmt.Fprintf(w, "✗ %s\n", e)
		}
		if result.Pass {
			fmt.Fprintf(w, "✓ %s\n", scenario.Name)
		}
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return nil
}
