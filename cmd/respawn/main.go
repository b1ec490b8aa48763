// Package main is the respawn CLI: it runs an agent CLI through a
// multi-phase workflow, relaunching it with a fresh context whenever the
// agent leaves a restart request in its spec directory.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/respawn/internal/config"
	"github.com/steveyegge/respawn/internal/debug"
	"github.com/steveyegge/respawn/internal/telemetry"
	"github.com/steveyegge/respawn/internal/ui"
)

// Global flags
var (
	verbose    bool
	quiet      bool
	forceColor bool
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "respawn [flags] <goal> [agent options...]",
		Short: "Keep an agent working through a workflow across context resets",
		Long: `respawn launches an agent CLI with a workflow goal and supervises it.

When the agent runs out of context it writes a restart request
(.restart-request.json) next to its workflow state and exits. respawn
consumes the request, waits briefly, and relaunches the agent with a prompt
that tells it where to pick up. The loop ends when the workflow state
reports completion, when there is nothing left to resume, or when the
restart ceiling is reached.

Everything after the goal is passed to the workflow's start command
verbatim. --auto-restart is appended when missing.

Examples:
  respawn "Add OAuth login"
  respawn --max-restarts 10 "Migrate to Postgres" --quick
  respawn status --progress
  respawn watch`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Initialize(); err != nil {
				return err
			}
			ui.ConfigureColor(forceColor)
			debug.SetVerbose(verbose)
			debug.SetQuiet(quiet)
			if err := telemetry.Init(cmd.Context(), "respawn", Version); err != nil {
				// Telemetry problems never block a run.
				debug.Logf("telemetry: %v\n", err)
			}
			return nil
		},
		RunE: runRoot,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{msg: err.Error()}
	})

	// Stop at the goal so agent options are forwarded untouched.
	rootCmd.Flags().SetInterspersed(false)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")
	rootCmd.PersistentFlags().BoolVar(&forceColor, "color", false, "Force color output")
	rootCmd.PersistentFlags().String("spec-dir", "", "Directory holding workflow specs (default ./specs)")

	rootCmd.Flags().Int("max-restarts", 0, "Maximum agent launches (default 50)")
	rootCmd.Flags().Float64("delay", 0, "Seconds to wait after each agent exit (default 2)")
	rootCmd.Flags().String("agent", "", "Agent executable (default claude)")
	rootCmd.Flags().String("agent-dir", "", "Working directory for the agent (default current directory)")
	rootCmd.Flags().String("namespace", "", "Workflow command namespace (default specflow)")
	rootCmd.Flags().Bool("no-lock", false, "Allow concurrent runs in this directory")

	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// applyFlagOverrides copies explicitly set flags into the config layer so
// they win over env and file values.
func applyFlagOverrides(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("spec-dir") {
		v, _ := flags.GetString("spec-dir")
		config.Set(config.KeySpecDir, v)
	}
	if f := flags.Lookup("max-restarts"); f != nil && f.Changed {
		v, _ := flags.GetInt("max-restarts")
		config.Set(config.KeyMaxRestarts, v)
	}
	if f := flags.Lookup("delay"); f != nil && f.Changed {
		v, _ := flags.GetFloat64("delay")
		config.Set(config.KeyDelay, v)
	}
	if f := flags.Lookup("agent"); f != nil && f.Changed {
		v, _ := flags.GetString("agent")
		config.Set(config.KeyAgent, v)
	}
	if f := flags.Lookup("agent-dir"); f != nil && f.Changed {
		v, _ := flags.GetString("agent-dir")
		config.Set(config.KeyAgentDir, v)
	}
	if f := flags.Lookup("namespace"); f != nil && f.Changed {
		v, _ := flags.GetString("namespace")
		config.Set(config.KeyNamespace, v)
	}
	if f := flags.Lookup("no-lock"); f != nil && f.Changed {
		v, _ := flags.GetBool("no-lock")
		config.Set(config.KeyLock, !v)
	}
}

func shutdownTelemetry() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	telemetry.Shutdown(ctx)
}

// execute runs the CLI and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	cmd, err := rootCmd.ExecuteContextC(ctx)
	// Cobra skips post-run hooks when RunE fails, so flush here.
	shutdownTelemetry()
	if err != nil {
		reportError(stderr, cmd, err)
	}
	return exitCode(err)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func reportError(w io.Writer, cmd *cobra.Command, err error) {
	msg, showUsage := describeError(err)
	if msg == "" {
		return
	}
	fmt.Fprintln(w, ui.RenderFail("Error: "+msg))
	if showUsage && cmd != nil {
		fmt.Fprintln(w)
		fmt.Fprint(w, cmd.UsageString())
	}
}
