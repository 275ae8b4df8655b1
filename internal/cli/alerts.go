package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/model"
	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/storage"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Inspect alert history",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored alerts",
	RunE:  runAlertsList,
}

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.AddCommand(alertsListCmd)

	alertsListCmd.Flags().StringP("account", "a", "", "Filter by account ID")
	alertsListCmd.Flags().StringP("status", "s", "", "Filter by status (active, resolved)")
	alertsListCmd.Flags().Bool("json", false, "Print alerts as JSON")
}

func runAlertsList(cmd *cobra.Command, _ []string) error {
	account, _ := cmd.Flags().GetString("account")
	status, _ := cmd.Flags().GetString("status")
	asJSON, _ := cmd.Flags().GetBool("json")

	filter := storage.Filter{AccountID: account, Status: model.Status(status)}
	switch filter.Status {
	case "", model.StatusActive, model.StatusResolved:
	default:
		return fmt.Errorf("invalid status %q (want active or resolved)", status)
	}

	a, err := initApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.checker.Alerts(cmd.Context(), filter)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}
	if len(list) == 0 {
		fmt.Println("No alerts.")
		return nil
	}
	printAlerts(os.Stdout, list)
	return nil
}

func printAlerts(out io.Writer, list []model.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ACCOUNT\tMETRIC\tSEVERITY\tSTATUS\tCURRENT\tTARGET\tRAISED\tRESOLVED\n")
	for _, al := range list {
		resolved := "-"
		if al.ResolvedAt != nil {
			resolved = humanize.Time(*al.ResolvedAt)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			al.AccountID, al.Metric, al.Severity, al.Status,
			humanize.FtoaWithDigits(al.CurrentValue, 2),
			humanize.FtoaWithDigits(al.TargetValue, 2),
			humanize.Time(al.FirstRaisedAt), resolved,
		)
	}
	w.Flush()
}
