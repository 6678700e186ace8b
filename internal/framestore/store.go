package framestore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// MissingFrameError is returned by Load when a frame is not in the store.
// A caller holding a reference must never see it: if it shows up, the
// refcount bookkeeping is broken somewhere upstream.
var MissingFrameError = errors.New("frame missing from store")

// Ref locates a frame in the store. Wire format is "<video_id>:<frame_idx>";
// nothing but the store itself should parse it.
type Ref string

// NewRef builds the ref for a frame of a video
func NewRef(videoID string, frameIdx int) Ref {
	return Ref(fmt.Sprintf("%s:%d", videoID, frameIdx))
}

// Split a ref back into video id and frame index
func (r Ref) Split() (videoID string, frameIdx int, err error) {
	idx := strings.LastIndexByte(string(r), ':')
	if idx < 0 {
		return "", 0, fmt.Errorf("malformed frame ref %q", string(r))
	}
	frameIdx, err = strconv.Atoi(string(r)[idx+1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed frame ref %q: %w", string(r), err)
	}
	return string(r)[:idx], frameIdx, nil
}

type entry struct {
	data  []byte
	count int
}

// Store keeps raw frames alive while any task still references them.
// A single mutex serializes every batch of increments and decrements,
// and eviction happens inside the same critical section, so a frame's
// bytes exist exactly while its count is >= 1.
type Store struct {
	logger *zap.Logger

	mu     sync.Mutex
	frames map[Ref]*entry
	bytes  int64
}

// New frame store
func New(logger *zap.Logger) *Store {
	return &Store{
		logger: logger,
		frames: make(map[Ref]*entry),
	}
}

// Save a frame under its derived ref. The entry starts with one
// reference, owned by the task the producer is about to enqueue.
// Saving an existing ref overwrites the bytes without touching the count.
func (s *Store) Save(videoID string, frameIdx int, data []byte) Ref {
	ref := NewRef(videoID, frameIdx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.frames[ref]; ok {
		s.bytes += int64(len(data)) - int64(len(prev.data))
		prev.data = data
		framesStoredMetric.Set(float64(len(s.frames)))
		framesBytesMetric.Set(float64(s.bytes))
		return ref
	}
	s.frames[ref] = &entry{data: data, count: 1}
	s.bytes += int64(len(data))
	framesStoredMetric.Set(float64(len(s.frames)))
	framesBytesMetric.Set(float64(s.bytes))
	return ref
}

// Load the frame bytes for a ref
func (s *Store) Load(ref Ref) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.frames[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", MissingFrameError, ref)
	}
	return e.data, nil
}

// AddRefs increments the count of each ref by one, all under a single
// critical section.
func (s *Store) AddRefs(refs []Ref) {
	if len(refs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ref := range refs {
		e, ok := s.frames[ref]
		if !ok {
			// Incrementing a dead ref cannot resurrect the bytes. Flag it.
			s.logger.Warn("add ref for missing frame", zap.String("ref", string(ref)))
			continue
		}
		e.count++
	}
}

// ReleaseRefs decrements each ref's count; entries that reach zero are
// evicted in the same critical section.
func (s *Store) ReleaseRefs(refs []Ref) {
	if len(refs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ref := range refs {
		e, ok := s.frames[ref]
		if !ok {
			s.logger.Warn("release of missing frame", zap.String("ref", string(ref)))
			continue
		}
		e.count--
		if e.count <= 0 {
			s.evictLocked(ref, e)
		}
	}
	framesStoredMetric.Set(float64(len(s.frames)))
	framesBytesMetric.Set(float64(s.bytes))
}

// Delete removes a frame unconditionally, whatever its count.
// Only tests and fatal-shutdown paths should reach for this.
func (s *Store) Delete(ref Ref) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.frames[ref]; ok {
		s.evictLocked(ref, e)
	}
	framesStoredMetric.Set(float64(len(s.frames)))
	framesBytesMetric.Set(float64(s.bytes))
}

func (s *Store) evictLocked(ref Ref, e *entry) {
	s.bytes -= int64(len(e.data))
	delete(s.frames, ref)
	framesEvictedMetric.Inc()
}

// Len returns the number of live frames
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// Count returns the reference count for a ref, or 0 when absent
func (s *Store) Count(ref Ref) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.frames[ref]; ok {
		return e.count
	}
	return 0
}
