// Package securitytest provides test doubles for the security package.
package securitytest

import (
	"sync"

	"github.com/flemzord/toolgate/internal/security"
)

// NewTestRedactor creates a Redactor with no patterns, so test fixtures
// that look like secrets pass through unchanged.
func NewTestRedactor() *security.Redactor {
	return &security.Redactor{}
}

// Recorder collects audit events for inspection.
type Recorder struct {
	mu     sync.Mutex
	events []security.AuditEvent
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []security.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]security.AuditEvent, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events with the given type.
func (r *Recorder) OfType(t security.EventType) []security.AuditEvent {
	var out []security.AuditEvent
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// NewTestAuditLogger creates an AuditLogger that records into the returned
// Recorder instead of writing anywhere.
func NewTestAuditLogger() (*security.AuditLogger, *Recorder) {
	rec := &Recorder{}
	logger := security.NewAuditLogger(security.AuditLoggerConfig{
		OnEvent: func(e security.AuditEvent) {
			rec.mu.Lock()
			rec.events = append(rec.events, e)
			rec.mu.Unlock()
		},
	})
	return logger, rec
}
