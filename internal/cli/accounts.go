package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Inspect configured accounts",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts with alerting enabled",
	RunE:  runAccountsList,
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsListCmd)
}

func runAccountsList(cmd *cobra.Command, _ []string) error {
	a, err := initApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ids, err := a.checker.Accounts(cmd.Context())
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No accounts configured.")
		return nil
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}
