// Package steadybench is the embedding API: implement SystemUnderTest and
// SampleLibrary, pick TestSettings, and call StartTest.
package steadybench

import (
	"context"

	"github.com/rs/zerolog"

	"steadybench/internal/metrics"
	"steadybench/internal/report"
	"steadybench/internal/runner"
	"steadybench/internal/settings"
	"steadybench/internal/storage"
	"steadybench/internal/sut"
)

type (
	SampleIndex         = sut.SampleIndex
	QuerySample         = sut.QuerySample
	QuerySampleResponse = sut.QuerySampleResponse
	Completer           = sut.Completer
	SystemUnderTest     = sut.SystemUnderTest
	SampleLibrary       = sut.SampleLibrary

	TestSettings = settings.TestSettings
	LogSettings  = settings.LogSettings
	Scenario     = settings.Scenario
	Mode         = settings.Mode

	Result     = runner.Result
	TestResult = runner.TestResult
	Reporter   = runner.Reporter
	Metrics    = metrics.Metrics
)

const (
	SingleStream = settings.SingleStream
	MultiStream  = settings.MultiStream
	Server       = settings.Server
	Offline      = settings.Offline

	PerformanceOnly     = settings.PerformanceOnly
	AccuracyOnly        = settings.AccuracyOnly
	Submission          = settings.Submission
	FindPeakPerformance = settings.FindPeakPerformance
)

var (
	ErrInvalidSettings      = settings.ErrInvalidSettings
	ErrInsufficientEvidence = runner.ErrInsufficientEvidence
)

func DefaultSettings() TestSettings {
	return settings.Defaults()
}

func DefaultLogSettings() LogSettings {
	return settings.DefaultLogSettings()
}

// NewMetrics returns collectors to pass to WithMetrics. Serve or Handler
// exposes them.
func NewMetrics() *Metrics {
	return metrics.New()
}

type options struct {
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	reporters []runner.Reporter
}

type Option func(*options)

// WithLogger sends phase transitions to l. Without it the harness is quiet.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithReporter adds a reporter that runs after the standard report files
// are written.
func WithReporter(r Reporter) Option {
	return func(o *options) { o.reporters = append(o.reporters, r) }
}

// StartTest runs every phase of ts against s and q and writes the report
// files described by ls. When ls.HistoryPath is set the run is also
// recorded there. Invalid settings are returned as an error before anything
// runs; everything else that goes wrong is in the Result.
func StartTest(ctx context.Context, s SystemUnderTest, q SampleLibrary, ts TestSettings, ls LogSettings, opts ...Option) (*Result, error) {
	var o options
	o.logger = zerolog.Nop()
	for _, opt := range opts {
		opt(&o)
	}

	if err := ts.Validate(); err != nil {
		return nil, err
	}
	if err := ls.Validate(); err != nil {
		return nil, err
	}
	detail, err := report.OpenDetail(ls)
	if err != nil {
		return nil, err
	}
	defer detail.Close()

	reporters := []runner.Reporter{report.NewWriter(ls, o.logger)}
	if ls.HistoryPath != "" {
		store, err := storage.NewStore(ls.HistoryPath)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		reporters = append(reporters, store)
	}

	r := runner.NewRunner(runner.Config{
		Settings:  ts,
		Log:       ls,
		SUT:       s,
		QSL:       q,
		Trace:     detail,
		Logger:    o.logger,
		Metrics:   o.metrics,
		Reporters: append(reporters, o.reporters...),
	}, nil)
	return r.Run(ctx)
}
