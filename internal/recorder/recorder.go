// Package recorder writes one JSONL trace file per extraction run and keeps only
// the newest few on disk.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const DefaultKeep = 20

// Event is a single line of a trace file.
type Event struct {
	Timestamp time.Time   `json:"ts"`
	Type      string      `json:"type"`
	RequestID string      `json:"request_id"`
	Data      interface{} `json:"data,omitempty"`
}

// Recorder creates trace files under one directory. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	mu       sync.Mutex
	basePath string
	keep     int
}

// NewRecorder ensures dir exists. keep < 1 falls back to DefaultKeep.
func NewRecorder(dir string, keep int) (*Recorder, error) {
	if dir == "" {
		return nil, fmt.Errorf("trace directory is required")
	}
	if keep < 1 {
		keep = DefaultKeep
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{basePath: dir, keep: keep}, nil
}

// Trace opens a new trace file for requestID, deleting the oldest files so that at
// most keep remain afterwards.
func (r *Recorder) Trace(requestID string) (*Trace, error) {
	if r == nil {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.rotate(); err != nil {
		return nil, fmt.Errorf("rotate traces: %w", err)
	}

	name := fmt.Sprintf("trace_%013d_%s.jsonl", time.Now().UnixMilli(), sanitize(requestID))
	f, err := os.Create(filepath.Join(r.basePath, name))
	if err != nil {
		return nil, err
	}
	return &Trace{requestID: requestID, file: f, encoder: json.NewEncoder(f)}, nil
}

// rotate keeps the newest keep-1 traces to make room for the next one. File names
// start with a zero-padded timestamp, so name order is age order.
func (r *Recorder) rotate() error {
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return err
	}

	var traces []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "trace_") || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		traces = append(traces, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(traces)))

	for i := r.keep - 1; i < len(traces); i++ {
		_ = os.Remove(filepath.Join(r.basePath, traces[i]))
	}
	return nil
}

func sanitize(id string) string {
	return strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			return c
		}
		return '_'
	}, id)
}

// Trace is the open file of one run. Methods on a nil *Trace do nothing.
type Trace struct {
	mu        sync.Mutex
	requestID string
	file      *os.File
	encoder   *json.Encoder
}

// Log appends an event. Write errors are dropped.
func (t *Trace) Log(eventType string, data interface{}) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.encoder == nil {
		return
	}
	_ = t.encoder.Encode(Event{
		Timestamp: time.Now(),
		Type:      eventType,
		RequestID: t.requestID,
		Data:      data,
	})
}

// Close finishes the trace.
func (t *Trace) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	t.encoder = nil
	return err
}
