package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/checker"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the alert check now for one or more accounts",
	Long: `Run the alert check immediately. The run goes through the execution guard,
so an account already checked in the current hour is reported as skipped.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringSliceP("account", "a", nil, "Account ID to check (repeatable)")
	checkCmd.Flags().Bool("all", false, "Check every configured account")
	checkCmd.Flags().Bool("json", false, "Print results as JSON")
}

func runCheck(cmd *cobra.Command, _ []string) error {
	ids, _ := cmd.Flags().GetStringSlice("account")
	all, _ := cmd.Flags().GetBool("all")
	asJSON, _ := cmd.Flags().GetBool("json")

	if all == (len(ids) > 0) {
		return errors.New("specify either --account or --all")
	}

	a, err := initApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	var results []checker.AccountResult
	if all {
		results, err = a.checker.RunAll(cmd.Context())
		if err != nil {
			return err
		}
	} else {
		results = a.checker.RunAccounts(cmd.Context(), ids)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return fmt.Errorf("encode results: %w", err)
		}
	} else {
		printResults(os.Stdout, results)
	}

	if s := checker.Summarize(results); s.Failed > 0 {
		return fmt.Errorf("%d of %d account checks failed", s.Failed, len(results))
	}
	return nil
}

func printResults(out io.Writer, results []checker.AccountResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ACCOUNT\tSTATUS\tREASON\tNOTIFIED\tRESOLVED\tUNCHANGED\tERROR\n")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.AccountID, r.Status, dash(string(r.Reason)),
			r.Notified, r.Resolved, r.Unchanged, dash(r.Error),
		)
	}
	w.Flush()

	s := checker.Summarize(results)
	fmt.Fprintf(out, "\n%d executed, %d skipped, %d failed, %d alerts notified\n",
		s.Executed, s.Skipped, s.Failed, s.Notified)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
