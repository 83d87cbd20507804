package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steadybench/internal/runner"
	"steadybench/internal/settings"
	"steadybench/internal/stats"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "h", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func item(i int) HistoryItem {
	return HistoryItem{
		ID:        fmt.Sprintf("run-%03d", i),
		Timestamp: time.Unix(1700000000+int64(i), 0),
		Scenario:  settings.Server,
	}
}

func TestStore_SaveListGet(t *testing.T) {
	s := openStore(t)
	// Saved out of order; List sorts by start time.
	for _, i := range []int{2, 0, 1} {
		require.NoError(t, s.Save(item(i)))
	}

	items, err := s.List()
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "run-002", items[0].ID)
	assert.Equal(t, "run-000", items[2].ID)

	got, err := s.Get("run-001")
	require.NoError(t, err)
	assert.Equal(t, settings.Server, got.Scenario)

	_, err = s.Get("nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_SaveReplacesSameID(t *testing.T) {
	s := openStore(t)
	it := item(1)
	require.NoError(t, s.Save(it))
	it.Timestamp = it.Timestamp.Add(time.Hour)
	it.Summary.Pass = true
	require.NoError(t, s.Save(it))

	items, err := s.List()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Summary.Pass)
}

func TestStore_KeepsMaxItems(t *testing.T) {
	s := openStore(t)
	for i := 0; i < MaxItems+5; i++ {
		require.NoError(t, s.Save(item(i)))
	}
	items, err := s.List()
	require.NoError(t, err)
	assert.Len(t, items, MaxItems)
	assert.Equal(t, fmt.Sprintf("run-%03d", MaxItems+4), items[0].ID)

	_, err = s.Get("run-000")
	assert.True(t, errors.Is(err, ErrNotFound), "pruned runs leave the id index")
}

func TestStore_ReportAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := NewStore(path)
	require.NoError(t, err)

	res := &runner.Result{
		ID:       "abc",
		Started:  time.Unix(1700000000, 0),
		SUT:      "echo",
		Settings: settings.Defaults(),
		Valid:    true,
		Pass:     true,
		Phases: []*runner.TestResult{{
			Phase:            runner.Performance,
			CompletedSamples: 42,
			QPS:              10,
			Metric:           runner.Metric{Name: "p90 latency (ms)", Value: 1.5},
			Latency: stats.Summary{
				Mean:        2 * time.Millisecond,
				Percentiles: []stats.Quantile{{Q: 0.99, Value: 3 * time.Millisecond}},
			},
		}},
	}
	require.NoError(t, s.Report(res))
	require.NoError(t, s.Close())

	s, err = NewStore(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get("abc")
	require.NoError(t, err)
	assert.Equal(t, "echo", got.SUT)
	assert.Equal(t, uint64(42), got.Summary.CompletedSamples)
	assert.Equal(t, 2.0, got.Summary.MeanLatencyMs)
	assert.Equal(t, 3.0, got.Summary.P99LatencyMs)
	assert.Equal(t, 1.5, got.Summary.Metric.Value)
	assert.True(t, got.Summary.Pass)
}
