package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohans/reportq/report"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage catalogued report definitions",
}

var catalogAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Save a report definition and print its id",
	RunE: func(cmd *cobra.Command, _ []string) error {
		fs := cmd.Flags()
		name, _ := fs.GetString("name")
		query, _ := fs.GetString("query")
		class, _ := fs.GetString("class")
		timeout, _ := fs.GetDuration("timeout")
		if name == "" || query == "" {
			return fmt.Errorf("--name and --query are required")
		}

		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		saved, err := a.reports.Save(cmd.Context(), report.Report{Name: name, Class: class, Query: query, QueueTimeout: timeout})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), saved.ID)
		return nil
	},
}

var catalogShowCmd = &cobra.Command{
	Use:   "show <report-id>",
	Short: "Print a report definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.catalog.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	},
}

func init() {
	fs := catalogAddCmd.Flags()
	fs.String("name", "", "report name")
	fs.String("query", "", "SQL query producing the report table")
	fs.String("class", "", "target class (default: Report)")
	fs.Duration("timeout", 0, "queue timeout for this report (default: default_timeout)")

	catalogCmd.AddCommand(catalogAddCmd)
	catalogCmd.AddCommand(catalogShowCmd)
}
