package sink

import (
	"context"
	"sync"
)

// Memory keeps records in process. Used by tests and dry runs.
type Memory struct {
	mu      sync.Mutex
	records map[string][]Record
}

// NewMemory sink
func NewMemory() *Memory {
	return &Memory{records: make(map[string][]Record)}
}

// WriteRecord implements Sink
func (m *Memory) WriteRecord(ctx context.Context, table string, record Record) error {
	switch table {
	case TableVehicles, TableTracks, TableTrackMotion:
	default:
		return UnknownTableError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[table] = append(m.records[table], record)
	return nil
}

// Close implements Sink
func (m *Memory) Close() error { return nil }

// Records written to a table so far
func (m *Memory) Records(table string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records[table]))
	copy(out, m.records[table])
	return out
}
