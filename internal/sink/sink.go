package sink

import (
	"context"
	"errors"
)

// Tables the pipeline writes to
const (
	TableVehicles    = "vehicles"
	TableTracks      = "tracks"
	TableTrackMotion = "track_motion"
)

// UnknownTableError is returned for tables outside the contract
var UnknownTableError = errors.New("unknown sink table")

// Record is one finalized row. Every record carries at least video_id
// and frame_idx plus the table-specific payload.
type Record map[string]any

// Sink receives finalized pipeline records. Implementations decide
// durability and deduplication; the pipeline only guarantees it hands
// each record over once per FINAL_WRITE task.
type Sink interface {
	WriteRecord(ctx context.Context, table string, record Record) error
	Close() error
}

// String field of a record, or "" when absent
func (r Record) String(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// Int field of a record, tolerating the numeric types that reach it
func (r Record) Int(key string) int {
	switch v := r[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Float field of a record
func (r Record) Float(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}
