package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steadybench/internal/dummy"
	"steadybench/internal/runner"
	"steadybench/internal/settings"
)

func TestStart_SingleStream(t *testing.T) {
	s := settings.Defaults()
	s.MinDuration = 300 * time.Millisecond
	s.MinQueryCount = 10

	d := dummy.NewSUT(context.Background(), dummy.ServerConfig{Profile: dummy.Fast, Workers: 1})
	defer d.Close()

	var out bytes.Buffer
	res, err := Start(context.Background(), runner.Config{
		Settings: s,
		Log:      settings.DefaultLogSettings(),
		SUT:      d,
		QSL:      dummy.NewLibrary(64, 32),
	}, &out)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Valid, res.Causes)

	text := out.String()
	assert.Contains(t, text, "STARTING STEADYBENCH TEST")
	assert.Contains(t, text, "dummy-fast-x1")
	assert.Contains(t, text, "TEST RESULTS")
	assert.Contains(t, text, "✅ VALID")
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "[██--]", progressBar(0.5, 4))
	assert.Equal(t, "[████]", progressBar(3, 4))
	assert.Equal(t, "[----]", progressBar(-1, 4))
}
