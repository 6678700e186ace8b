// Package ingest finds the video files the pipeline should process: an
// initial scan of the input directory, optionally followed by a watch
// for files dropped in while the pipeline runs.
package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

var NotDirectoryError = errors.New("input path is not a directory")

var videoTypes = map[string]struct{}{
	".mp4": {},
	".mov": {},
	".avi": {},
	".mkv": {},
}

// IsVideo reports whether the path has a recognized video extension
func IsVideo(path string) bool {
	_, ok := videoTypes[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Scan returns the video files directly under root, sorted by name
func Scan(root string) ([]string, error) {
	stat, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !stat.IsDir() {
		return nil, NotDirectoryError
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var videos []string
	for _, entry := range entries {
		if entry.IsDir() || !IsVideo(entry.Name()) {
			continue
		}
		videos = append(videos, filepath.Join(root, entry.Name()))
	}
	sort.Strings(videos)
	return videos, nil
}

// Finder feeds video paths to the reader pool
type Finder struct {
	logger *zap.Logger
	root   string
	watch  bool
	seen   map[string]struct{}
}

// New Finder over a directory. With watch enabled it keeps running
// after the initial scan, picking up files as they appear.
func New(logger *zap.Logger, root string, watch bool) *Finder {
	return &Finder{
		logger: logger.With(zap.String("input", root)),
		root:   root,
		watch:  watch,
		seen:   make(map[string]struct{}),
	}
}

// Run sends each discovered path once and closes the channel when done.
// Without watching, "done" is the end of the initial scan; with it,
// done means stop was signalled.
func (f *Finder) Run(ctx context.Context, stop <-chan struct{}, paths chan<- string) error {
	defer close(paths)

	videos, err := Scan(f.root)
	if err != nil {
		f.logger.Error("failed to scan input directory", zap.Error(err))
		return err
	}
	f.logger.Info("input scan complete", zap.Int("videos", len(videos)))
	for _, path := range videos {
		if !f.send(ctx, stop, paths, path) {
			return nil
		}
	}
	if !f.watch {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		f.logger.Error("failed to create watcher", zap.Error(err))
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(f.root); err != nil {
		f.logger.Error("failed to watch input directory", zap.Error(err))
		return err
	}
	f.logger.Info("watching input directory")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Error("watcher error", zap.Error(err))
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Renames catch the common download-then-move drop pattern.
			// A file still being copied in will fail at the decoder and
			// abort only its own reader.
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !IsVideo(event.Name) {
				continue
			}
			if stat, err := os.Stat(event.Name); err != nil || stat.IsDir() {
				continue
			}
			if !f.send(ctx, stop, paths, event.Name) {
				return nil
			}
		}
	}
}

// send forwards a path not seen before. Returns false when shutdown
// interrupted the send.
func (f *Finder) send(ctx context.Context, stop <-chan struct{}, paths chan<- string, path string) bool {
	if _, dup := f.seen[path]; dup {
		return true
	}
	f.seen[path] = struct{}{}
	f.logger.Info("video discovered", zap.String("path", path))
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case paths <- path:
		return true
	}
}
