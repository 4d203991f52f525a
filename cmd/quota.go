package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/newswatch/internal/quota"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Inspect classification model quotas",
}

var quotaStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show calls used per model on a date",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		date, _ := cmd.Flags().GetString("date")

		env, err := initPipeline(ctx, envOptions{})
		if err != nil {
			return err
		}
		defer env.Close()

		usage, err := env.Scheduler.Usage(ctx, date)
		if err != nil {
			return err
		}
		formatUsage(os.Stdout, usage)
		return nil
	},
}

func init() {
	quotaStatusCmd.Flags().String("date", "", "calendar date YYYY-MM-DD (default today in the pipeline time zone)")
	quotaCmd.AddCommand(quotaStatusCmd)
	rootCmd.AddCommand(quotaCmd)
}

func formatUsage(out io.Writer, usage []quota.Usage) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "MODEL\tDATE\tCALLS\tQUOTA\tREMAINING")
	for _, u := range usage {
		q := "-"
		if u.Quota > 0 {
			q = fmt.Sprint(u.Quota)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\n", u.Model, u.Date, u.Calls, q, u.Remaining)
	}
	_ = w.Flush()
}
