package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Maintain alert history",
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove alert history entries outside the retention window",
	RunE:  runHistoryPrune,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyPruneCmd)

	historyPruneCmd.Flags().Duration("older-than", 0, "Remove entries last touched before now minus this duration (default: evaluation.retention)")
}

func runHistoryPrune(cmd *cobra.Command, _ []string) error {
	olderThan, _ := cmd.Flags().GetDuration("older-than")
	if olderThan < 0 {
		return fmt.Errorf("--older-than must not be negative")
	}

	a, err := initApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	var n int
	if olderThan == 0 {
		n, err = a.checker.Prune(cmd.Context())
	} else {
		n, err = a.checker.PruneBefore(cmd.Context(), time.Now().Add(-olderThan))
	}
	if err != nil {
		return err
	}

	swept, err := a.guard.Sweep(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Removed %d alert(s) and %d execution record(s).\n", n, swept)
	return nil
}
