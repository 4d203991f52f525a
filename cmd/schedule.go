package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/newswatch/internal/config"
	"github.com/sells-group/newswatch/internal/metrics"
	"github.com/sells-group/newswatch/internal/monitoring"
	"github.com/sells-group/newswatch/internal/pipeline"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the daily and enrichment jobs on a cron schedule",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
			cfg.Metrics.Addr = addr
		}

		rec := metrics.New()
		env, err := initPipeline(ctx, envOptions{Classifier: true, Metrics: rec}, "schedule")
		if err != nil {
			return err
		}
		defer env.Close()

		loc, err := scheduleLocation(cfg)
		if err != nil {
			return err
		}
		log := zap.L().With(zap.String("component", "schedule"))

		// The first failing background task cancels gctx and stops the daemon.
		g, gctx := errgroup.WithContext(ctx)

		cronLog := cron.PrintfLogger(zap.NewStdLog(zap.L()))
		c := cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		)
		jobs := newJobRunner(
			func() { env.Pipeline.RunDaily(gctx, pipeline.DailyOpts{}) },
			func() {
				if _, err := env.Pipeline.Enrich(gctx, 0); err != nil {
					log.Error("scheduled enrichment failed", zap.Error(err))
				}
			},
		)
		if err := registerJobs(c, cfg.Schedule, jobs); err != nil {
			return err
		}
		c.Start()
		log.Info("scheduler started",
			zap.String("daily", cfg.Schedule.Daily),
			zap.String("enrich", cfg.Schedule.Enrich),
			zap.String("timezone", loc.String()),
		)

		if cfg.Metrics.Addr != "" {
			srv := &http.Server{
				Addr:              cfg.Metrics.Addr,
				Handler:           newMetricsMux(rec),
				ReadHeaderTimeout: 10 * time.Second,
			}
			g.Go(func() error {
				log.Info("metrics server listening", zap.String("addr", cfg.Metrics.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return eris.Wrap(err, "schedule: metrics server")
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		}

		if cfg.Monitoring.WebhookURL != "" {
			collector := monitoring.NewCollector(env.Ledger, env.Scheduler,
				time.Duration(cfg.Monitoring.StaleRunHours)*time.Hour)
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			g.Go(func() error {
				checker.Run(gctx)
				return nil
			})
		}

		g.Go(func() error {
			<-gctx.Done()
			log.Info("shutting down scheduler")
			<-c.Stop().Done()
			return nil
		})
		return g.Wait()
	},
}

func init() {
	scheduleCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (overrides metrics.addr)")
	rootCmd.AddCommand(scheduleCmd)
}

func scheduleLocation(c *config.Config) (*time.Location, error) {
	if c.Schedule.Timezone == "" {
		return c.Pipeline.Location()
	}
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "schedule: load timezone %q", c.Schedule.Timezone)
	}
	return loc, nil
}

// jobRunner serializes scheduled jobs. A job that fires while another is
// running is skipped.
type jobRunner struct {
	mu     sync.Mutex
	daily  func()
	enrich func()
	log    *zap.Logger
}

func newJobRunner(daily, enrich func()) *jobRunner {
	return &jobRunner{
		daily:  daily,
		enrich: enrich,
		log:    zap.L().With(zap.String("component", "schedule")),
	}
}

// run executes fn unless another job holds the lock. It reports whether fn ran.
func (j *jobRunner) run(name string, fn func()) bool {
	if !j.mu.TryLock() {
		j.log.Warn("job still running, skipping", zap.String("job", name))
		return false
	}
	defer j.mu.Unlock()

	start := time.Now()
	j.log.Info("job started", zap.String("job", name))
	fn()
	j.log.Info("job finished", zap.String("job", name), zap.Duration("elapsed", time.Since(start)))
	return true
}

func registerJobs(c *cron.Cron, sc config.ScheduleConfig, j *jobRunner) error {
	if sc.Daily != "" {
		if _, err := c.AddFunc(sc.Daily, func() { j.run(pipeline.ProcessDaily, j.daily) }); err != nil {
			return eris.Wrapf(err, "schedule: daily expression %q", sc.Daily)
		}
	}
	if sc.Enrich != "" {
		if _, err := c.AddFunc(sc.Enrich, func() { j.run(pipeline.ProcessEnrich, j.enrich) }); err != nil {
			return eris.Wrapf(err, "schedule: enrich expression %q", sc.Enrich)
		}
	}
	return nil
}

func newMetricsMux(rec *metrics.Recorder) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", rec.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	return mux
}
