package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"steadybench/internal/cli"
	"steadybench/internal/dummy"
	"steadybench/internal/metrics"
	"steadybench/internal/report"
	"steadybench/internal/runner"
	"steadybench/internal/settings"
	"steadybench/internal/storage"
	"steadybench/internal/tui/app"
)

// ErrNotValid is returned when a run finishes but its result is invalid,
// so scripts can tell it apart from a pass.
var ErrNotValid = errors.New("result is INVALID")

var (
	useTUI      bool
	noHistory   bool
	metricsAddr string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a test against the built-in demo SUT",
	Long: `
Runs one test against an in-process SUT whose service times follow a
profile (fast, medium, slow, spike). Settings come from the config file,
STEADYBENCH_* environment variables and flags, in increasing priority.`,
	RunE: runTest,
}

func init() {
	f := runCmd.Flags()
	f.String("scenario", "", "SingleStream, MultiStream, Server or Offline")
	f.String("mode", "", "PerformanceOnly, AccuracyOnly, Submission or FindPeakPerformance")
	f.Float64("server-qps", 0, "Server target QPS")
	f.Duration("server-latency", 0, "Server target latency")
	f.Bool("coalesce", false, "Server: merge arrivals that are already due into one query")
	f.Duration("ss-latency", 0, "SingleStream target latency (0 = unbounded)")
	f.Duration("ms-interval", 0, "MultiStream query interval")
	f.Int("ms-samples", 0, "MultiStream samples per query")
	f.Float64("offline-qps", 0, "Offline expected QPS")
	f.Duration("min-duration", 0, "minimum duration of a performance phase")
	f.Duration("max-duration", settings.Defaults().MaxDuration, "maximum duration of a performance phase")
	f.Uint64("min-queries", 0, "minimum query count")
	f.Uint64("max-queries", 0, "maximum query count")
	f.Duration("drain-timeout", 0, "how long to wait for outstanding samples")

	f.StringP("out", "o", "", "output directory")
	f.String("prefix", "", "output file prefix")
	f.Bool("csv", true, "write the latency CSV")
	f.Bool("arrow", false, "write the Arrow latency file")

	f.String("sut-profile", string(dummy.Fast), "demo SUT profile: fast, medium, slow, spike")
	f.Int("sut-workers", 8, "demo SUT concurrency")
	f.Int("sut-batch", 1, "demo SUT samples per batch")
	f.Int("qsl-size", 1024, "demo sample library size")
	f.Int("qsl-perf", 256, "demo samples resident at once")

	f.BoolVar(&useTUI, "tui", false, "show the live dashboard")
	f.BoolVar(&noHistory, "no-history", false, "do not record the run in the history database")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	for flag, key := range map[string]string{
		"scenario":       "scenario",
		"mode":           "mode",
		"server-qps":     "server_target_qps",
		"server-latency": "server_target_latency",
		"coalesce":       "server_coalesce_queries",
		"ss-latency":     "single_stream_target_latency",
		"ms-interval":    "multi_stream_interval",
		"ms-samples":     "multi_stream_samples_per_query",
		"offline-qps":    "offline_expected_qps",
		"min-duration":   "min_duration",
		"max-duration":   "max_duration",
		"min-queries":    "min_query_count",
		"max-queries":    "max_query_count",
		"drain-timeout":  "drain_timeout",
		"out":            "log.output_dir",
		"prefix":         "log.prefix",
		"csv":            "log.write_csv",
		"arrow":          "log.write_arrow",
		"sut-profile":    "sut.profile",
		"sut-workers":    "sut.workers",
		"sut-batch":      "sut.batch_size",
		"qsl-size":       "sut.qsl_size",
		"qsl-perf":       "sut.qsl_performance",
	} {
		_ = v.BindPFlag(key, f.Lookup(flag))
	}
}

func runTest(cmd *cobra.Command, _ []string) error {
	ts, ls, err := settings.Load(v)
	if err != nil {
		return err
	}
	if noHistory {
		ls.HistoryPath = ""
	}
	profile, err := dummy.ParseProfile(v.GetString("sut.profile"))
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d := dummy.NewSUT(ctx, dummy.ServerConfig{
		Profile:   profile,
		Workers:   v.GetInt("sut.workers"),
		BatchSize: v.GetInt("sut.batch_size"),
		Seed:      int64(ts.ScheduleSeed),
	})
	defer d.Close()

	detail, err := report.OpenDetail(ls)
	if err != nil {
		return err
	}
	defer detail.Close()

	logger := log.Logger
	if useTUI {
		// The dashboard owns the terminal.
		logger = zerolog.Nop()
	}

	cfg := runner.Config{
		Settings:  ts,
		Log:       ls,
		SUT:       d,
		QSL:       dummy.NewLibrary(v.GetInt("sut.qsl_size"), v.GetInt("sut.qsl_performance")),
		Trace:     detail,
		Logger:    logger,
		Reporters: []runner.Reporter{report.NewWriter(ls, logger)},
	}
	if metricsAddr != "" {
		cfg.Metrics = metrics.New()
	}

	var store *storage.Store
	if ls.HistoryPath != "" {
		store, err = storage.NewStore(ls.HistoryPath)
		if err != nil {
			return err
		}
		defer store.Close()
		cfg.Reporters = append(cfg.Reporters, store)
	}

	g, gctx := errgroup.WithContext(ctx)
	srvCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()
	if cfg.Metrics != nil {
		g.Go(func() error {
			logger.Info().Str("addr", metricsAddr).Msg("serving metrics")
			return errors.Wrap(cfg.Metrics.Serve(srvCtx, metricsAddr), "metrics server")
		})
	}

	var res *runner.Result
	g.Go(func() error {
		defer stopServer()
		var err error
		if useTUI {
			res, err = runTUI(gctx, cfg, store)
		} else {
			res, err = cli.Start(gctx, cfg, cmd.OutOrStdout())
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if res == nil {
		return errors.New("run produced no result")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n💾 Reports saved to %s\n", report.Path(ls, "*"))
	if !res.Valid {
		return ErrNotValid
	}
	return nil
}

func runTUI(ctx context.Context, cfg runner.Config, store *storage.Store) (*runner.Result, error) {
	m := app.NewModel(ctx, cfg, store)
	p := tea.NewProgram(m, tea.WithAltScreen())

	final, err := p.Run()
	if err != nil {
		return nil, errors.Wrap(err, "dashboard")
	}
	fm, ok := final.(app.Model)
	if !ok {
		return nil, errors.New("dashboard exited without a result")
	}
	res, runErr := fm.Result()
	if res != nil {
		cli.PrintSummary(os.Stdout, res)
	}
	return res, runErr
}
