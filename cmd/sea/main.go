// Command sea runs the self-evolving agent: a prompt evolution cycle, a
// trace-driven tool creation pipeline, and inspection commands over the
// stores both of them write.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"seagent/internal/atc"
	"seagent/internal/config"
	"seagent/internal/sandbox"
	"seagent/internal/solver"
)

var (
	flagWorkspace string
	flagVerbose   bool
	flagTimeout   time.Duration
	flagDataset   string
	flagProblems  int
	flagSeed      int64
	flagSummary   string

	timeoutCancel context.CancelFunc
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	err := root.ExecuteContext(ctx)
	if timeoutCancel != nil {
		timeoutCancel()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "sea: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sea",
		Short:         "Self-evolving agent: prompt evolution and automatic tool creation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flagWorkspace, "workspace", "w", "", "workspace directory (default: current directory)")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose console output")
	root.PersistentFlags().DurationVar(&flagTimeout, "timeout", 0, "overall run timeout (0 = none)")

	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if flagTimeout > 0 {
			ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
			timeoutCancel = cancel
			cmd.SetContext(ctx)
		}
	}

	root.AddCommand(newInitCmd(), newCycleCmd(), newATCCmd(), newUnifiedCmd(),
		newTracesCmd(), newPromptsCmd(), newToolsCmd())
	return root
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config to .sea/config.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := flagWorkspace
			if workspace == "" {
				cwd, err := os.Getwd()
				if err != nil {
					return err
				}
				workspace = cwd
			}
			path := filepath.Join(workspace, ".sea", "config.json")
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}
			if err := config.DefaultConfig().Save(path); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
}

func newCycleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one critic-tuner evolution cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flagWorkspace, flagVerbose)
			if err != nil {
				return err
			}
			defer a.close()

			client, err := a.client()
			if err != nil {
				return err
			}
			ct, err := a.wireCycle(client)
			if err != nil {
				return err
			}
			problems, err := a.problems(flagDataset, flagProblems, flagSeed)
			if err != nil {
				return err
			}

			a.log.Infof("Running evolution cycle over %d problems", len(problems))
			result, err := ct.Run(cmd.Context(), problems)
			if err != nil {
				return err
			}

			fmt.Printf("Cycle %s\n", result.CycleID)
			fmt.Printf("  Average score: %.3f\n", result.AvgScore)
			for id, score := range result.CriterionScores {
				fmt.Printf("    %s: %.3f\n", id, score)
			}
			if result.Updated {
				fmt.Printf("  Prompt updated (v%d): %s\n", result.PromptVersion, result.ChangesSummary)
			} else {
				fmt.Printf("  Prompt unchanged: %s\n", result.ChangesSummary)
			}
			fmt.Printf("  Duration: %v\n", result.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVar(&flagDataset, "dataset", "", "problem dataset file (YAML or JSON)")
	cmd.Flags().IntVarP(&flagProblems, "problems", "n", 0, "number of problems per cycle")
	cmd.Flags().Int64Var(&flagSeed, "seed", time.Now().UnixNano(), "sampling seed")
	return cmd
}

func newATCCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "atc",
		Short: "Run one tool creation pipeline over recorded traces",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flagWorkspace, flagVerbose)
			if err != nil {
				return err
			}
			defer a.close()

			client, err := a.client()
			if err != nil {
				return err
			}
			pipeline, err := a.wireATC(client)
			if err != nil {
				return err
			}

			result, err := pipeline.Run(cmd.Context())
			if err != nil {
				return err
			}
			printATCResult(result)

			if flagSummary != "" {
				if err := atc.WriteSummary(a.path(flagSummary), result); err != nil {
					return err
				}
				fmt.Printf("  Summary written to %s\n", flagSummary)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flagSummary, "summary", "", "write a JSON summary to this path")
	return cmd
}

func newUnifiedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unified",
		Short: "Run the evolution cycle and the tool pipeline back to back",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flagWorkspace, flagVerbose)
			if err != nil {
				return err
			}
			defer a.close()

			runner, err := a.wireUnified()
			if err != nil {
				return err
			}
			problems, err := a.problems(flagDataset, flagProblems, flagSeed)
			if err != nil {
				return err
			}

			result, err := runner.Run(cmd.Context(), problems)
			if result != nil {
				fmt.Println(result.Line)
				for _, e := range result.Errors {
					fmt.Printf("  error: %s\n", e)
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&flagDataset, "dataset", "", "problem dataset file (YAML or JSON)")
	cmd.Flags().IntVarP(&flagProblems, "problems", "n", 0, "number of problems per cycle")
	cmd.Flags().Int64Var(&flagSeed, "seed", time.Now().UnixNano(), "sampling seed")
	return cmd
}

func newTracesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "traces",
		Short: "Inspect the trace store",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show trace store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flagWorkspace, flagVerbose)
			if err != nil {
				return err
			}
			defer a.close()

			stats, err := a.traceStore.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Traces: %d\n", stats.TotalTraces)
			fmt.Printf("Success rate: %.1f%%\n", stats.SuccessRate*100)
			fmt.Printf("Avg steps: %.1f\n", stats.AvgSteps)
			fmt.Printf("Avg duration: %.0fms\n", stats.AvgDurationMs)
			for op, n := range stats.ByOpName {
				fmt.Printf("  %s: %d\n", op, n)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Delete traces older than the configured retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flagWorkspace, flagVerbose)
			if err != nil {
				return err
			}
			defer a.close()

			deleted, err := a.traceStore.Cleanup(a.cfg.Traces.RetentionDays)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d traces older than %d days\n", deleted, a.cfg.Traces.RetentionDays)
			return nil
		},
	})
	return cmd
}

func newPromptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "Inspect prompt versions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "history",
		Short: "List all prompt versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flagWorkspace, flagVerbose)
			if err != nil {
				return err
			}
			defer a.close()

			history, err := a.promptStore.History()
			if err != nil {
				return err
			}
			if len(history) == 0 {
				fmt.Println("No prompt versions yet")
				return nil
			}
			for _, v := range history {
				fmt.Printf("v%d  %s  score=%.3f  %s\n",
					v.Version, v.CreatedAt.Format("2006-01-02 15:04"), v.AvgScore, v.ChangesSummary)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "current",
		Short: "Print the current solver prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flagWorkspace, flagVerbose)
			if err != nil {
				return err
			}
			defer a.close()

			current, err := a.promptStore.Current()
			if err != nil {
				fmt.Println(solver.DefaultPrompt)
				return nil
			}
			fmt.Println(current.Prompt)
			return nil
		},
	})
	return cmd
}

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect generated tools",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List generated tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flagWorkspace, flagVerbose)
			if err != nil {
				return err
			}
			defer a.close()

			tools := a.toolStore.List()
			if len(tools) == 0 {
				fmt.Println("No generated tools")
				return nil
			}
			for _, entry := range tools {
				fmt.Printf("%-24s %s\n", entry.Name, entry.Description)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "run <name> [input]",
		Short: "Run a generated tool in the sandbox",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flagWorkspace, flagVerbose)
			if err != nil {
				return err
			}
			defer a.close()

			entry, err := a.toolStore.Get(args[0])
			if err != nil {
				return err
			}
			input := ""
			if len(args) > 1 {
				input = args[1]
			}

			timeout, err := a.cfg.SandboxTimeout()
			if err != nil {
				return err
			}
			result := sandbox.New(sandbox.Config{Timeout: timeout}).Run(cmd.Context(), entry.Code, input)
			if !result.Success {
				return fmt.Errorf("tool failed (exit %d): %s", result.ExitCode, result.Error)
			}
			fmt.Println(result.Output)
			return nil
		},
	})
	return cmd
}

func printATCResult(result *atc.Result) {
	fmt.Printf("ATC cycle %s\n", result.CycleID)
	fmt.Printf("  Traces analyzed: %d\n", result.TracesAnalyzed)
	fmt.Printf("  Patterns found: %d\n", result.PatternsFound)
	fmt.Printf("  Specs ideated: %d (%d duplicates skipped)\n", result.SpecsIdeated, result.DuplicatesSkipped)
	fmt.Printf("  Tools saved: %d\n", result.ToolsSaved)
	for _, tool := range result.Tools {
		fmt.Printf("    %-24s %s\n", tool.Name, tool.Status)
	}
	for _, e := range result.Errors {
		fmt.Printf("  error: %s\n", e)
	}
	fmt.Printf("  Duration: %v\n", result.Duration.Round(time.Millisecond))
}
