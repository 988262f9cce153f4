package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	sizeFlag      int
	workersFlag   int
	seedFlag      uint64
	verifyFlag    bool
	inprocessFlag bool
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Distributed matrix multiplication coordinator",
		Long: `Coordinator splits A into row blocks, hands them to worker processes
through a shared job channel and assembles the product from their results.

Connection settings come from MATDIST_* environment variables; the same
settings are passed to every worker it launches.`,
		SilenceUsage: true,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Multiply two random square matrices across workers",
		Example: `  # 4 worker processes, 512x512 matrices, compare with a direct product
  coordinator run --size 512 --workers 4 --verify

  # workers as goroutines in this process
  coordinator run --size 128 --inprocess`,
		Args: cobra.NoArgs,
		RunE: runSession,
	}
	runCmd.Flags().IntVarP(&sizeFlag, "size", "n", 256, "Matrix dimension N (A and B are NxN)")
	runCmd.Flags().IntVarP(&workersFlag, "workers", "w", 0, "Number of workers (overrides MATDIST_WORKERS)")
	runCmd.Flags().Uint64Var(&seedFlag, "seed", 1, "Seed for the random input matrices")
	runCmd.Flags().BoolVar(&verifyFlag, "verify", false, "Compare the distributed product with a single-process product")
	runCmd.Flags().BoolVar(&inprocessFlag, "inprocess", false, "Run workers as goroutines instead of processes")
	rootCmd.AddCommand(runCmd)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
