package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/cwbudde/optbridge/internal/solver"
	"github.com/spf13/cobra"
)

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Act as the reference solver on stdin/stdout",
	Long: `Reads the Init message from stdin, searches the configured space with
the mayfly or grid algorithm and asks the client for objective values over
stdout. Logs go to stderr. This is the default solver command of "run".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return solver.Serve(ctx, os.Stdin, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(solveCmd)
}
