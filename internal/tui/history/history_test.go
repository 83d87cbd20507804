package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steadybench/internal/settings"
	"steadybench/internal/storage"
)

func TestModel_ListsRuns(t *testing.T) {
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(storage.HistoryItem{
		ID:        "a",
		Timestamp: time.Now().Add(-time.Minute),
		Scenario:  settings.Server,
		Summary:   storage.RunSummary{Valid: true, Pass: true},
	}))
	require.NoError(t, store.Save(storage.HistoryItem{
		ID:        "b",
		Timestamp: time.Now(),
		Scenario:  settings.Offline,
		Summary:   storage.RunSummary{Valid: false, Causes: []string{"too short"}},
	}))

	m := NewModel(store)
	require.NoError(t, m.Err)
	require.Len(t, m.Table.Rows(), 2)
	assert.Equal(t, "INVALID", m.Table.Rows()[0][5])
	assert.Equal(t, "PASS", m.Table.Rows()[1][5])

	require.NotNil(t, m.Selected())
	assert.Equal(t, "b", m.Selected().ID)
	assert.Contains(t, m.View(), "too short")
}

func TestModel_NilStore(t *testing.T) {
	m := NewModel(nil)
	assert.Nil(t, m.Selected())
	assert.Contains(t, m.View(), "disabled")
}
