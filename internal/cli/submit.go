package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mohans/reportq/asyncx"
	"github.com/mohans/reportq/internal/config"
	"github.com/mohans/reportq/report"
)

var submitCmd = &cobra.Command{
	Use:   "submit [report-id...]",
	Short: "Submit one report, or several as a batch",
	Long: `Submit catalogued reports by id. One id submits a single run; several ids
submit one batch run. With --query an unsaved report is submitted instead.

The task id is printed; follow it with "reportq status".`,
	RunE: runSubmit,
}

func init() {
	fs := submitCmd.Flags()
	fs.String("user", "", "user the run is attributed to (default: system)")
	fs.String("mode", "", "run mode: adhoc | schedule (default: adhoc)")
	fs.String("session", "", "session id; forces the adhoc result purge")
	fs.Int("limit", 0, "row limit for this run")
	fs.String("name", "", "name of an unsaved report (with --query)")
	fs.String("query", "", "query of an unsaved report")
	fs.Bool("sync", false, "run inline instead of queueing")
	fs.Duration("default-timeout", 10*time.Minute, "queue timeout for reports that do not set one")
	bindFlag("report_sync", fs, "sync")
	bindFlag("default_timeout", fs, "default-timeout")
}

// optionsFromFlags builds the run options from the flags that were set.
func optionsFromFlags(fs *pflag.FlagSet) report.Options {
	opts := report.Options{}
	for flag, key := range map[string]string{
		"user":    report.KeyUserID,
		"mode":    report.KeyMode,
		"session": report.KeySessionID,
	} {
		if v, _ := fs.GetString(flag); v != "" {
			opts[key] = v
		}
	}
	if l, _ := fs.GetInt("limit"); l > 0 {
		opts[report.KeyLimit] = l
	}
	return opts
}

func runSubmit(cmd *cobra.Command, args []string) error {
	fs := cmd.Flags()
	query, _ := fs.GetString("query")
	if len(args) == 0 && query == "" {
		return fmt.Errorf("give at least one report id, or --query")
	}
	if len(args) > 0 && query != "" {
		return fmt.Errorf("report ids and --query are mutually exclusive")
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var reports []report.Report
	if query != "" {
		name, _ := fs.GetString("name")
		if name == "" {
			name = "adhoc query"
		}
		reports = append(reports, report.Report{Name: name, Query: query})
	}
	for _, id := range args {
		r, err := a.catalog.Get(ctx, id)
		if err != nil {
			return err
		}
		reports = append(reports, *r)
	}

	client := asyncx.NewClient(a.redisOpt(), asyncx.ClientOptions{Queue: cfg.QueueName})
	defer func() { _ = client.Close() }()
	d := report.NewDispatcher(a.tasks, client, a.audit, config.NewViperPolicy(viper.GetViper()), a.exec,
		report.WithDispatchLogger(logger),
		report.WithQueueName(cfg.QueueName),
		report.WithDefaultTimeout(cfg.DefaultTimeout),
	)

	opts := optionsFromFlags(fs)
	var taskID string
	if len(reports) == 1 {
		taskID, err = d.SubmitOne(ctx, reports[0], opts)
	} else {
		taskID, err = d.SubmitBatch(ctx, reports, opts)
	}
	if taskID != "" {
		fmt.Fprintln(cmd.OutOrStdout(), taskID)
	}
	return err
}
