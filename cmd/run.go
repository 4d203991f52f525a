package main

import (
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/newswatch/internal/model"
	"github.com/sells-group/newswatch/internal/pipeline"
)

// -- daily --

var dailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Ingest the last day of news for every candidate, then enrich",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		resume, _ := cmd.Flags().GetBool("resume")
		skipEnrich, _ := cmd.Flags().GetBool("skip-enrich")

		modes := []string{"ingest"}
		if !skipEnrich {
			modes = append(modes, "enrich")
		}
		env, err := initPipeline(ctx, envOptions{Classifier: !skipEnrich}, modes...)
		if err != nil {
			return err
		}
		defer env.Close()

		sum := env.Pipeline.RunDaily(ctx, pipeline.DailyOpts{Resume: resume, SkipEnrich: skipEnrich})
		return writeJSON(os.Stdout, sum)
	},
}

// -- historical --

var historicalCmd = &cobra.Command{
	Use:   "historical",
	Short: "Backfill one query per day for candidates without the historical flag",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		startFlag, _ := cmd.Flags().GetString("start")
		endFlag, _ := cmd.Flags().GetString("end")
		idsFlag, _ := cmd.Flags().GetString("ids")
		reset, _ := cmd.Flags().GetBool("reset")

		if startFlag == "" {
			startFlag = cfg.Pipeline.HistoricalStart
		}
		if endFlag == "" {
			endFlag = cfg.Pipeline.HistoricalEnd
		}

		env, err := initPipeline(ctx, envOptions{}, "ingest")
		if err != nil {
			return err
		}
		defer env.Close()

		loc, err := cfg.Pipeline.Location()
		if err != nil {
			return err
		}
		start, end, err := parseRange(startFlag, endFlag, time.Now(), loc)
		if err != nil {
			return err
		}
		ids, err := parseIDs(idsFlag)
		if err != nil {
			return err
		}

		sum, err := env.Pipeline.RunHistorical(ctx, pipeline.HistoricalOpts{
			Start: start, End: end, IDs: ids, Reset: reset,
		})
		if sum != nil {
			_ = writeJSON(os.Stdout, sum)
		}
		return err
	},
}

// -- enrich --

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Label stored headlines with topic and sentiment",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		limit, _ := cmd.Flags().GetInt("limit")

		env, err := initPipeline(ctx, envOptions{Classifier: true}, "enrich")
		if err != nil {
			return err
		}
		defer env.Close()

		sum, err := env.Pipeline.Enrich(ctx, limit)
		if sum != nil {
			_ = writeJSON(os.Stdout, sum)
		}
		return err
	},
}

func init() {
	dailyCmd.Flags().Bool("resume", false, "keep daily flags from an interrupted run")
	dailyCmd.Flags().Bool("skip-enrich", false, "do not classify stored items after ingestion")

	historicalCmd.Flags().String("start", "", "first day, YYYY-MM-DD (default pipeline.historical_start)")
	historicalCmd.Flags().String("end", "", "last day inclusive, YYYY-MM-DD (default yesterday)")
	historicalCmd.Flags().String("ids", "", "comma-separated candidate ids")
	historicalCmd.Flags().Bool("reset", false, "clear historical flags before walking")

	enrichCmd.Flags().Int("limit", 0, "max items to classify (0 = until empty or quota exhausted)")

	rootCmd.AddCommand(dailyCmd)
	rootCmd.AddCommand(historicalCmd)
	rootCmd.AddCommand(enrichCmd)
}

// parseRange parses the historical window in loc. An empty end selects the
// day before now.
func parseRange(startStr, endStr string, now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	if startStr == "" {
		return time.Time{}, time.Time{}, eris.New("historical: --start is required")
	}
	start, err := time.ParseInLocation(model.DateLayout, startStr, loc)
	if err != nil {
		return time.Time{}, time.Time{}, eris.Wrapf(err, "historical: parse start %q", startStr)
	}

	var end time.Time
	if endStr == "" {
		y, m, d := now.In(loc).AddDate(0, 0, -1).Date()
		end = time.Date(y, m, d, 0, 0, 0, 0, loc)
	} else {
		end, err = time.ParseInLocation(model.DateLayout, endStr, loc)
		if err != nil {
			return time.Time{}, time.Time{}, eris.Wrapf(err, "historical: parse end %q", endStr)
		}
	}
	return start, end, nil
}

func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "parse candidate id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
