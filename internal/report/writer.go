// Package report renders a finished test into the output directory:
// summary text and JSON, accuracy log, latency CSV and Arrow files. The
// detail trace is streamed during the run and only opened here.
package report

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sugawarayuuta/sonnet"

	"steadybench/internal/runner"
	"steadybench/internal/settings"
)

const (
	SummaryFile    = "summary.txt"
	SummaryJSON    = "summary.json"
	DetailFile     = "detail.jsonl"
	AccuracyFile   = "accuracy.json"
	LatenciesCSV   = "latencies.csv"
	LatenciesArrow = "latencies.arrow"
)

// Writer is a runner.Reporter that writes every artifact once.
type Writer struct {
	settings settings.LogSettings
	log      zerolog.Logger
}

func NewWriter(ls settings.LogSettings, log zerolog.Logger) *Writer {
	return &Writer{settings: ls, log: log.With().Str("component", "report").Logger()}
}

// Path is where artifact name lands.
func (w *Writer) Path(name string) string {
	return Path(w.settings, name)
}

func Path(ls settings.LogSettings, name string) string {
	return filepath.Join(ls.OutputDir, ls.Prefix+name)
}

// OpenDetail creates the detail trace file. The caller closes it after the
// runner has finished.
func OpenDetail(ls settings.LogSettings) (*os.File, error) {
	if err := os.MkdirAll(ls.OutputDir, 0755); err != nil {
		return nil, errors.Wrap(err, "create output dir")
	}
	f, err := os.Create(Path(ls, DetailFile))
	if err != nil {
		return nil, errors.Wrap(err, "create detail log")
	}
	return f, nil
}

func (w *Writer) Report(res *runner.Result) error {
	if err := os.MkdirAll(w.settings.OutputDir, 0755); err != nil {
		return errors.Wrap(err, "create output dir")
	}

	var result *multierror.Error
	add := func(name string, fn func(io.Writer) error) {
		if err := w.write(name, fn); err != nil {
			result = multierror.Append(result, errors.Wrap(err, name))
		}
	}

	add(SummaryFile, func(out io.Writer) error { return WriteSummary(out, res) })
	add(SummaryJSON, func(out io.Writer) error {
		data, err := sonnet.Marshal(res)
		if err != nil {
			return err
		}
		_, err = out.Write(append(data, '\n'))
		return err
	})
	if acc := res.Accuracy(); acc != nil {
		add(AccuracyFile, func(out io.Writer) error { return ExportAccuracy(out, acc.Responses) })
	}
	if p := res.Primary(); p != nil && p.Phase != runner.Accuracy {
		if w.settings.WriteCSV {
			add(LatenciesCSV, func(out io.Writer) error { return ExportCSV(out, p.Samples) })
		}
		if w.settings.WriteArrow {
			add(LatenciesArrow, func(out io.Writer) error { return ExportArrow(out, p.Samples) })
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	w.log.Info().Str("dir", w.settings.OutputDir).Str("prefix", w.settings.Prefix).Msg("reports written")
	return nil
}

func (w *Writer) write(name string, fn func(io.Writer) error) error {
	f, err := os.Create(w.Path(name))
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := fn(bw); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
