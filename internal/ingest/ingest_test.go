package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
}

func TestIsVideo(t *testing.T) {
	require.True(t, IsVideo("trip.mp4"))
	require.True(t, IsVideo("TRIP.MP4"))
	require.True(t, IsVideo("/videos/a.mkv"))
	require.False(t, IsVideo("notes.txt"))
	require.False(t, IsVideo("mp4"))
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "b.mp4"))
	touch(t, filepath.Join(dir, "a.mov"))
	touch(t, filepath.Join(dir, "notes.txt"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.mp4"), 0755))

	videos, err := Scan(dir)
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "a.mov"),
		filepath.Join(dir, "b.mp4"),
	}, videos)
}

func TestScanErrors(t *testing.T) {
	_, err := Scan(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "file.mp4")
	touch(t, file)
	_, err = Scan(file)
	require.ErrorIs(t, err, NotDirectoryError)
}

func TestFinderInitialScan(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.mp4"))
	touch(t, filepath.Join(dir, "b.mp4"))

	paths := make(chan string)
	f := New(zap.NewNop(), dir, false)
	errCh := make(chan error, 1)
	go func() { errCh <- f.Run(context.Background(), make(chan struct{}), paths) }()

	var got []string
	for p := range paths {
		got = append(got, p)
	}
	require.NoError(t, <-errCh)
	require.Equal(t, []string{
		filepath.Join(dir, "a.mp4"),
		filepath.Join(dir, "b.mp4"),
	}, got)
}

func TestFinderWatchPicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.mp4"))

	paths := make(chan string, 8)
	stop := make(chan struct{})
	f := New(zap.NewNop(), dir, true)
	done := make(chan error, 1)
	go func() { done <- f.Run(context.Background(), stop, paths) }()

	require.Equal(t, filepath.Join(dir, "a.mp4"), <-paths)

	// Dropped-in files show up; non-videos do not
	touch(t, filepath.Join(dir, "late.mp4"))
	touch(t, filepath.Join(dir, "skip.txt"))
	select {
	case p := <-paths:
		require.Equal(t, filepath.Join(dir, "late.mp4"), p)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher missed the new video")
	}

	close(stop)
	require.NoError(t, <-done)
	_, open := <-paths
	require.False(t, open)
}

func TestFinderStopDuringScan(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		touch(t, filepath.Join(dir, string(rune('a'+i))+".mp4"))
	}

	// A stop signalled before the scan delivers halts the feed
	stop := make(chan struct{})
	close(stop)
	paths := make(chan string)
	f := New(zap.NewNop(), dir, false)
	done := make(chan error, 1)
	go func() { done <- f.Run(context.Background(), stop, paths) }()

	var got []string
	for p := range paths {
		got = append(got, p)
	}
	require.NoError(t, <-done)
	require.Empty(t, got)
}
