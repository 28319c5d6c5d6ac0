package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelevant(t *testing.T) {
	w := New("/data/seed/school_data.csv", time.Second, nil)
	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"write", fsnotify.Event{Name: "/data/seed/school_data.csv", Op: fsnotify.Write}, true},
		{"create", fsnotify.Event{Name: "/data/seed/school_data.csv", Op: fsnotify.Create}, true},
		{"rename", fsnotify.Event{Name: "/data/seed/school_data.csv", Op: fsnotify.Rename}, true},
		{"chmod", fsnotify.Event{Name: "/data/seed/school_data.csv", Op: fsnotify.Chmod}, false},
		{"other file", fsnotify.Event{Name: "/data/seed/sc051a.csv", Op: fsnotify.Write}, false},
		{"temp file", fsnotify.Event{Name: "/data/seed/school_data.csv.part", Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.relevant(tt.ev))
		})
	}
}

func TestRunDebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "school_data.csv")
	var calls atomic.Int32
	w := New(path, 100*time.Millisecond, func(context.Context) { calls.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("NCESSCH\n"), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	cancel()
	require.NoError(t, <-done)
}
