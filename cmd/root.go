package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	logLevel string
	logger   *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "optbridge",
	Short: "Optimize a local objective with a solver running in a separate process",
	Long: `optbridge drives an optimization algorithm that runs as a child process.
The solver asks for objective values over a newline-delimited JSON channel;
optbridge evaluates them locally and answers until the solver reports a solution.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var level slog.Level
		switch logLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		opts := &slog.HandlerOptions{Level: level}
		handler := slog.NewJSONHandler(logOutput(cmd), opts)
		logger = slog.New(handler)
		slog.SetDefault(logger)
	},
}

// logOutput keeps stdout free for protocol frames when acting as a solver.
func logOutput(cmd *cobra.Command) io.Writer {
	if cmd == solveCmd {
		return os.Stderr
	}
	return os.Stdout
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}
