package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// InvocationRecord is one line of the invocation log file.
type InvocationRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	RunID      string    `json:"run_id"`
	TraceID    string    `json:"trace_id,omitempty"`
	Handler    string    `json:"handler"`
	Module     string    `json:"module"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
	EventSize  int       `json:"event_size"`
	Ignored    int       `json:"ignored_calls,omitempty"`
}

// RecordLog appends invocation records to a JSON lines file. A nil
// *RecordLog discards records.
type RecordLog struct {
	mu   sync.Mutex
	file *os.File
}

// OpenRecordLog opens (or creates) the record file at path for appending.
func OpenRecordLog(path string) (*RecordLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open invocation log: %w", err)
	}
	return &RecordLog{file: f}, nil
}

// Log writes entry, stamping its timestamp.
func (l *RecordLog) Log(entry *InvocationRecord) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	entry.Timestamp = time.Now()
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = l.file.Write(append(data, '\n'))
	return err
}

// Close closes the log file
func (l *RecordLog) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
