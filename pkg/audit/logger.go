// Package audit writes governance events as JSON lines to a sink,
// forming the tamper-evident trail alongside the event store.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
)

// Record is one audit line. It wraps the governance event with the
// write-side timestamp so replay ordering survives clock-skewed actors.
type Record struct {
	RecordedAt time.Time                 `json:"recorded_at"`
	Event      *contracts.GovernanceEvent `json:"event"`
}

// Logger records governance events.
type Logger interface {
	Record(ctx context.Context, ev *contracts.GovernanceEvent) error
}

// jsonLogger writes one JSON line per event, prefixed for log-stream
// filtering.
type jsonLogger struct {
	mu     sync.Mutex
	writer io.Writer
	clock  contracts.Clock
}

// NewLogger creates a Logger writing to os.Stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to the given writer.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &jsonLogger{writer: w, clock: time.Now}
}

func (l *jsonLogger) Record(_ context.Context, ev *contracts.GovernanceEvent) error {
	line, err := json.Marshal(Record{RecordedAt: l.clock(), Event: ev})
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.writer.Write(append(append([]byte("AUDIT: "), line...), '\n'))
	return err
}

// Nop discards every event. Used when auditing is disabled.
type Nop struct{}

func (Nop) Record(context.Context, *contracts.GovernanceEvent) error { return nil }
