// Package sessiontest provides test doubles for the session package.
package sessiontest

import (
	"context"
	"slices"
	"sync"

	"github.com/flemzord/toolgate/internal/session"
)

// MemoryPersister keeps records in a map.
type MemoryPersister struct {
	mu      sync.Mutex
	records map[string]session.Record

	// SaveErr, when set, is returned by SaveSessions.
	SaveErr error

	Saves   int
	Deletes int
}

// NewMemoryPersister creates a persister seeded with records.
func NewMemoryPersister(records ...session.Record) *MemoryPersister {
	p := &MemoryPersister{records: make(map[string]session.Record)}
	for _, r := range records {
		p.records[r.Key] = r
	}
	return p
}

// SaveSessions implements session.Persister.
func (p *MemoryPersister) SaveSessions(_ context.Context, records []session.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SaveErr != nil {
		return p.SaveErr
	}
	p.Saves++
	for _, r := range records {
		r.Messages = slices.Clone(r.Messages)
		p.records[r.Key] = r
	}
	return nil
}

// DeleteSessions implements session.Persister.
func (p *MemoryPersister) DeleteSessions(_ context.Context, keys []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Deletes++
	for _, k := range keys {
		delete(p.records, k)
	}
	return nil
}

// LoadSessions implements session.Persister.
func (p *MemoryPersister) LoadSessions(context.Context) ([]session.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]session.Record, 0, len(p.records))
	for _, r := range p.records {
		out = append(out, r)
	}
	return out, nil
}

// Record returns the stored record for key.
func (p *MemoryPersister) Record(key string) (session.Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.records[key]
	return r, ok
}

var _ session.Persister = (*MemoryPersister)(nil)
