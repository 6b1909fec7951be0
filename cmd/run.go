package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cwbudde/optbridge/internal/calllog"
	"github.com/cwbudde/optbridge/internal/codec"
	"github.com/cwbudde/optbridge/internal/dispatch"
	"github.com/cwbudde/optbridge/internal/objective"
	"github.com/cwbudde/optbridge/internal/protocol"
	"github.com/cwbudde/optbridge/internal/session"
	"github.com/cwbudde/optbridge/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	solverArg      string
	objectiveArg   string
	maximize       bool
	maxEvals       uint
	constraintsArg string
	defaultValue   float64
	callLogPath    string
	recordPath     string
	parallel       bool
	workers        int
	receiveTimeout time.Duration
	runDataDir     string
	solverCmdArg   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one optimization session",
	Long: `Starts the solver, answers its evaluation requests with the chosen
objective and prints the solution record as JSON.

--solver and --constraints take inline JSON or @path to a JSON file.
--objective is a built-in (sphere, rosenbrock, rastrigin, booth) or a command
that reads one point as JSON on stdin and prints its value.`,
	Args: cobra.NoArgs,
	RunE: runOptimization,
}

func init() {
	runCmd.Flags().StringVar(&solverArg, "solver", "", "Solver configuration as JSON or @file (required)")
	runCmd.Flags().StringVar(&objectiveArg, "objective", "sphere", "Built-in objective name or objective command")
	runCmd.Flags().BoolVar(&maximize, "maximize", false, "Maximize instead of minimize")
	runCmd.Flags().UintVar(&maxEvals, "max-evals", 0, "Evaluation budget (0 = unbounded)")
	runCmd.Flags().StringVar(&constraintsArg, "constraints", "", "Constraint set as JSON or @file")
	runCmd.Flags().Float64Var(&defaultValue, "default", 0, "Score for points violating the constraints")
	runCmd.Flags().StringVar(&callLogPath, "call-log", "", "JSONL file of prior evaluations to pass to the solver")
	runCmd.Flags().StringVar(&recordPath, "record", "", "Append evaluations to this JSONL file")
	runCmd.Flags().BoolVar(&parallel, "parallel", false, "Evaluate batch queries concurrently")
	runCmd.Flags().IntVar(&workers, "workers", 0, "Concurrent evaluations for --parallel (0 = GOMAXPROCS)")
	runCmd.Flags().DurationVar(&receiveTimeout, "timeout", 0, "Maximum wait for each solver message (0 = none)")
	runCmd.Flags().StringVar(&runDataDir, "data-dir", "./data", "Base directory for run summaries")
	runCmd.Flags().StringVar(&solverCmdArg, "solver-cmd", "", `Solver command line (default: this binary with "solve")`)

	runCmd.MarkFlagRequired("solver")
	rootCmd.AddCommand(runCmd)
}

func runOptimization(cmd *cobra.Command, args []string) error {
	solverCfg := map[string]any{}
	if err := parseJSONArg(solverArg, &solverCfg); err != nil {
		return fmt.Errorf("invalid --solver: %w", err)
	}

	command, err := solverCommand(solverCmdArg)
	if err != nil {
		return err
	}

	obj, err := resolveObjective(objectiveArg)
	if err != nil {
		return err
	}

	opts := session.Options{
		Maximize:       maximize,
		MaxEvals:       maxEvals,
		Parallelize:    parallel,
		Workers:        workers,
		ReceiveTimeout: receiveTimeout,
	}
	if constraintsArg != "" {
		var c protocol.Constraints
		if err := parseJSONArg(constraintsArg, &c); err != nil {
			return fmt.Errorf("invalid --constraints: %w", err)
		}
		opts.Constraints = c
	}
	if cmd.Flags().Changed("default") {
		v := defaultValue
		opts.Default = &v
	}
	if callLogPath != "" {
		entries, err := calllog.Load(callLogPath)
		if err != nil {
			return fmt.Errorf("failed to load call log: %w", err)
		}
		if len(entries) > 0 {
			opts.CallLog = entries
		}
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	runStore, err := store.NewFSStore(runDataDir)
	if err != nil {
		return fmt.Errorf("failed to create run store: %w", err)
	}

	if recordPath != "" {
		w, err := calllog.NewWriter(recordPath, true)
		if err != nil {
			return fmt.Errorf("failed to open record file: %w", err)
		}
		defer w.Close()
		opts.Recorder = w
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run := &store.Run{
		ID:         uuid.NewString(),
		Command:    command,
		Solver:     solverCfg,
		Objective:  objectiveArg,
		Options:    runOptions(opts),
		RecordPath: recordPath,
		StartedAt:  time.Now(),
	}
	slog.Info("Starting run", "run_id", run.ID, "solver_cmd", strings.Join(command, " "), "objective", objectiveArg)

	res, runErr := session.Optimize(ctx, command, solverCfg, obj, opts)
	finishRun(run, res, runErr)

	if err := runStore.SaveRun(run); err != nil {
		slog.Error("Failed to save run", "run_id", run.ID, "error", err)
	}

	if runErr != nil {
		return describeFailure(runErr)
	}

	slog.Info("Run complete", "run_id", run.ID, "evals", res.Evals, "rounds", res.Rounds, "elapsed", run.Duration())
	return writeRecord(cmd.OutOrStdout(), run.ID, res.Record)
}

// parseJSONArg decodes an inline JSON flag value, or the contents of the
// named file when the value starts with "@".
func parseJSONArg(arg string, dst any) error {
	data := []byte(arg)
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		data = b
	}
	return codec.DecodeInto(data, dst)
}

// solverCommand splits --solver-cmd on whitespace. An empty value runs this
// binary's solve subcommand.
func solverCommand(arg string) ([]string, error) {
	if fields := strings.Fields(arg); len(fields) > 0 {
		return fields, nil
	}
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable for default solver: %w", err)
	}
	return []string{self, "solve"}, nil
}

// resolveObjective picks a built-in by name, otherwise treats arg as a
// command line.
func resolveObjective(arg string) (dispatch.Objective, error) {
	if obj, err := objective.Builtin(arg); err == nil {
		return obj, nil
	}
	fields := strings.Fields(arg)
	if len(fields) == 0 {
		return nil, fmt.Errorf("--objective is empty")
	}
	if _, err := exec.LookPath(fields[0]); err != nil {
		return nil, fmt.Errorf("unknown objective %q: not a built-in (%s) or an executable", arg, strings.Join(objective.Builtins(), ", "))
	}
	c, err := objective.NewCommand(fields)
	if err != nil {
		return nil, err
	}
	c.Env = os.Environ()
	return c, nil
}

func runOptions(o session.Options) store.RunOptions {
	ro := store.RunOptions{
		Maximize:    o.Maximize,
		MaxEvals:    o.MaxEvals,
		Default:     o.Default,
		CallLogPath: callLogPath,
		Parallel:    o.Parallelize,
		Workers:     o.Workers,
	}
	if o.Constraints != nil {
		ro.Constraints = o.Constraints
	}
	return ro
}

func finishRun(run *store.Run, res *session.Result, err error) {
	run.FinishedAt = time.Now()
	if err != nil {
		run.Status = store.StatusFailed
		run.Error = err.Error()
		var remote *session.RemoteError
		if errors.As(err, &remote) {
			run.Record = remote.Record
		}
		return
	}
	run.Status = store.StatusSolved
	run.Solution = res.Solution
	run.Record = res.Record
	run.Evals = res.Evals
	run.Rounds = res.Rounds
}

// describeFailure returns the error as shown to the user. Solver-reported
// failures keep the solver's message verbatim.
func describeFailure(err error) error {
	if session.IsRemote(err) {
		return fmt.Errorf("solver error: %w", err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("run interrupted: %w", err)
	}
	return err
}

func writeRecord(w io.Writer, runID string, record map[string]any) error {
	out := make(map[string]any, len(record)+1)
	for k, v := range record {
		out[k] = v
	}
	out["run_id"] = runID
	data, err := codec.Encode(out)
	if err != nil {
		return fmt.Errorf("failed to encode solution record: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
