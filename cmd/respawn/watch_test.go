package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/respawn/internal/statestore"
	"github.com/steveyegge/respawn/internal/types"
)

func TestWatchOnceStopsAtRestartRequest(t *testing.T) {
	spec := isolate(t)
	writeRecord(t, filepath.Join(spec, "w", types.StateFileName), `{"phase":"execution","taskIndex":2,"totalTasks":5,"specPath":"/w"}`)
	writeRecord(t, filepath.Join(spec, "w", types.MarkerFileName), `{"specPath":"/w","instruction":"continue task 3"}`)

	code, stdout, stderr := run(t, "watch", "--poll", "--interval", "20ms", "--once", "--timeout", "10s")
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, stdout, "state: execution 2/5")
	assert.Contains(t, stdout, `restart requested: "continue task 3"`)
}

func TestWatchFallsBackToPolling(t *testing.T) {
	root := filepath.Join(t.TempDir(), "not-yet")
	var out bytes.Buffer
	start := time.Now()
	err := watchSpecDir(context.Background(), &out, statestore.New(root),
		statestore.WatchOptions{Transport: statestore.TransportFSNotify, Interval: 10 * time.Millisecond},
		false, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "does not exist yet; polling")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWatchStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	err := watchSpecDir(ctx, &out, statestore.New(t.TempDir()), statestore.WatchOptions{Transport: statestore.TransportPoll}, false, 0)
	assert.NoError(t, err)
}

func TestPrintEvent(t *testing.T) {
	at := time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC)
	var out bytes.Buffer
	printEvent(&out, statestore.Event{Kind: statestore.StateUpdate, At: at})
	assert.Contains(t, out.String(), "[09:30:00]")
	assert.Contains(t, out.String(), "state removed")
}
