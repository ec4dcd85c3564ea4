package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mohans/reportq/asyncx"
)

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show the state of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDB(cmd.Context(), cfg.DBDriver, cfg.DBDSN)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		logger.Debug("loading task", "task_id", args[0])

		rec, err := asyncx.NewSQLStore(db, cfg.DBDriver).GetByID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		writeStatus(cmd.OutOrStdout(), rec, time.Now())
		return nil
	},
}

func writeStatus(w io.Writer, rec *asyncx.TaskRecord, now time.Time) {
	fmt.Fprintf(w, "task:     %s\n", rec.ID)
	fmt.Fprintf(w, "name:     %s\n", rec.Name)
	fmt.Fprintf(w, "status:   %s (%s)\n", rec.Status, rec.State)
	fmt.Fprintf(w, "message:  %s\n", rec.Message)
	if rec.PercentComplete > 0 {
		fmt.Fprintf(w, "progress: %s%%\n", humanize.FtoaWithDigits(rec.PercentComplete, 2))
	}
	fmt.Fprintf(w, "created:  %s\n", humanize.RelTime(rec.CreatedAt, now, "ago", "from now"))
	if rec.StartedAt != nil {
		fmt.Fprintf(w, "started:  %s\n", humanize.RelTime(*rec.StartedAt, now, "ago", "from now"))
	}
	if rec.FinishedAt != nil {
		fmt.Fprintf(w, "finished: %s\n", humanize.RelTime(*rec.FinishedAt, now, "ago", "from now"))
	}
	if rec.ResultJSON != nil {
		fmt.Fprintf(w, "result:   %s\n", humanize.Bytes(uint64(len(*rec.ResultJSON))))
	}
}
