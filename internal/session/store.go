package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flemzord/toolgate/internal/security"
	"github.com/flemzord/toolgate/internal/tool"
)

// Record is the persisted form of a session. Approval state is never
// persisted: a grant does not survive a restart.
type Record struct {
	Key          string    `json:"key"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	CookieExpiry time.Time `json:"cookie_expiry"`
	Messages     []Message `json:"messages"`
}

// Persister stores session records across restarts.
type Persister interface {
	SaveSessions(ctx context.Context, records []Record) error
	DeleteSessions(ctx context.Context, keys []string) error
	LoadSessions(ctx context.Context) ([]Record, error)
}

// Config configures a Store.
type Config struct {
	// MaxSessions caps live sessions. Zero means unlimited.
	MaxSessions int

	// CookieMaxAge is how long a session stays valid after its last
	// activity. Zero means sessions never expire.
	CookieMaxAge time.Duration

	Persister   Persister
	Audit       *security.AuditLogger
	RateLimiter *security.RateLimiter
	Logger      *slog.Logger

	// Now overrides time.Now for testing.
	Now func() time.Time

	// NewKey overrides key generation for testing.
	NewKey func() string
}

// Store is the process-wide session table. A single mutex guards the table
// and every session's fields; no filesystem or persister I/O happens while
// it is held.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
	removed  map[string]struct{}

	maxSessions  int
	cookieMaxAge time.Duration
	persister    Persister
	audit        *security.AuditLogger
	limiter      *security.RateLimiter
	logger       *slog.Logger
	now          func() time.Time
	newKey       func() string
}

// Compile-time interface checks.
var (
	_ tool.Ledger  = (*Store)(nil)
	_ tool.Journal = (*Store)(nil)
)

// NewStore creates an empty store.
func NewStore(cfg Config) *Store {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newKey := cfg.NewKey
	if newKey == nil {
		newKey = uuid.NewString
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		sessions:     make(map[string]*entry),
		removed:      make(map[string]struct{}),
		maxSessions:  cfg.MaxSessions,
		cookieMaxAge: cfg.CookieMaxAge,
		persister:    cfg.Persister,
		audit:        cfg.Audit,
		limiter:      cfg.RateLimiter,
		logger:       logger.With("component", "session.store"),
		now:          now,
		newKey:       newKey,
	}
}

// Resolve returns the live session for key, minting a new one when key is
// empty, unknown or expired. Client-chosen keys are never adopted: an
// unknown key always yields a freshly generated one. created reports
// whether a session was minted.
func (s *Store) Resolve(key string) (sess Session, created bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.sessions[key]; ok && key != "" {
		if !s.expired(e, now) {
			s.touch(e, now)
			return e.snapshot(), false, nil
		}
		delete(s.sessions, key)
	}

	if s.maxSessions > 0 && len(s.sessions) >= s.maxSessions {
		return Session{}, false, ErrTooManySessions
	}
	if err := s.limiter.Allow(security.KindSessionCreate, ""); err != nil {
		return Session{}, false, fmt.Errorf("creating session: %w", err)
	}

	e := &entry{
		key:          s.newKey(),
		createdAt:    now,
		lastActiveAt: now,
		version:      1,
	}
	if s.cookieMaxAge > 0 {
		e.cookieExpiry = now.Add(s.cookieMaxAge)
	}
	s.sessions[e.key] = e

	s.audit.Log(security.AuditEvent{Type: security.EventSessionCreate, SessionID: e.key})
	return e.snapshot(), true, nil
}

// Get returns a copy of the session for key.
func (s *Store) Get(key string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return Session{}, false
	}
	return e.snapshot(), true
}

// State returns the approval state of the session.
func (s *Store) State(key string) (ApprovalState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return StateUnrequested, ErrSessionNotFound
	}
	return e.snapshot().State(), nil
}

// SetApproval records the human's answer for the session's pending call.
// An answer with no pending call is rejected with ErrNoPendingApproval
// rather than stored, so it cannot authorize a later, different call.
func (s *Store) SetApproval(key string, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return ErrSessionNotFound
	}
	if e.pending == nil {
		return ErrNoPendingApproval
	}
	e.approval = &approved
	s.touch(e, s.now())

	s.audit.Log(security.AuditEvent{
		Type:      security.EventApproval,
		SessionID: key,
		ToolName:  e.pending.Tool,
		Detail:    fmt.Sprintf("answered: approved=%v", approved),
	})
	return nil
}

// Authorize implements tool.Ledger. A recorded answer is honored only for
// the call that was pending when it was given, and only once:
//
//   - no pending call, or a different one: call becomes pending, any
//     unconsumed answer is discarded -> VerdictPending
//   - same call, unanswered -> VerdictPending
//   - same call, approved -> ledger cleared -> VerdictApproved
//   - same call, denied -> ledger cleared -> VerdictDenied
func (s *Store) Authorize(key string, call tool.Call) (tool.Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return tool.VerdictPending, fmt.Errorf("%w: %s", ErrSessionNotFound, key)
	}
	s.touch(e, s.now())

	fp := call.Fingerprint()
	if e.pending == nil || e.pendingFP != fp {
		c := call
		e.pending = &c
		e.pendingFP = fp
		e.approval = nil
		return tool.VerdictPending, nil
	}
	if e.approval == nil {
		return tool.VerdictPending, nil
	}

	approved := *e.approval
	e.clearApproval()
	if approved {
		return tool.VerdictApproved, nil
	}
	return tool.VerdictDenied, nil
}

// ToggleIncognito flips the session's incognito flag and returns the new
// value. A session turned incognito is removed from persistent storage at
// the next flush and never saved again while incognito.
func (s *Store) ToggleIncognito(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return false, ErrSessionNotFound
	}
	e.incognito = !e.incognito
	e.version++
	if e.incognito {
		s.removed[key] = struct{}{}
	} else {
		delete(s.removed, key)
	}
	s.touch(e, s.now())

	s.audit.Log(security.AuditEvent{
		Type:      security.EventIncognito,
		SessionID: key,
		Detail:    fmt.Sprintf("incognito=%v", e.incognito),
	})
	return e.incognito, nil
}

// AppendMessage adds a message and returns its id. It implements
// tool.Journal so executed calls land in the session log.
func (s *Store) AppendMessage(key, role, content string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return "", ErrSessionNotFound
	}
	now := s.now()
	id := MessageID(len(e.messages))
	e.messages = append(e.messages, Message{ID: id, Role: role, Content: content, CreatedAt: now})
	e.version++
	s.touch(e, now)
	return id, nil
}

// DeleteMessage hides the message with the given id. The slot is kept, so
// the ids of later messages are unchanged and the id is never reused.
func (s *Store) DeleteMessage(key, id string) error {
	idx, err := ParseMessageID(id)
	if err != nil {
		return fmt.Errorf("%w: %q", err, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return ErrSessionNotFound
	}
	if idx >= len(e.messages) || e.messages[idx].Deleted {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	e.messages[idx].Deleted = true
	e.messages[idx].Content = ""
	e.version++
	s.touch(e, s.now())

	s.audit.Log(security.AuditEvent{Type: security.EventMessageDelete, SessionID: key, Detail: id})
	return nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Prune removes expired sessions and returns how many were removed.
func (s *Store) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	pruned := 0
	for key, e := range s.sessions {
		if s.expired(e, now) {
			delete(s.sessions, key)
			pruned++
		}
	}
	return pruned
}

// Flush saves every changed non-incognito session and deletes the stored
// copies of sessions that went incognito. The snapshot is taken under the
// lock; persister I/O happens after it is released.
func (s *Store) Flush(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	s.mu.Lock()
	var records []Record
	type flushedEntry struct {
		e       *entry
		version uint64
	}
	var flushed []flushedEntry
	for _, e := range s.sessions {
		if e.incognito || e.version == e.saved {
			continue
		}
		records = append(records, Record{
			Key:          e.key,
			CreatedAt:    e.createdAt,
			LastActiveAt: e.lastActiveAt,
			CookieExpiry: e.cookieExpiry,
			Messages:     e.snapshot().Messages,
		})
		flushed = append(flushed, flushedEntry{e: e, version: e.version})
	}
	removed := make([]string, 0, len(s.removed))
	for key := range s.removed {
		removed = append(removed, key)
	}
	s.mu.Unlock()

	var errs []error
	if len(removed) > 0 {
		if err := s.persister.DeleteSessions(ctx, removed); err != nil {
			errs = append(errs, fmt.Errorf("deleting incognito sessions: %w", err))
		} else {
			s.mu.Lock()
			for _, key := range removed {
				if e, ok := s.sessions[key]; !ok || e.incognito {
					delete(s.removed, key)
				}
			}
			s.mu.Unlock()
		}
	}
	if len(records) > 0 {
		if err := s.persister.SaveSessions(ctx, records); err != nil {
			errs = append(errs, fmt.Errorf("saving sessions: %w", err))
		} else {
			s.mu.Lock()
			for _, f := range flushed {
				if f.version > f.e.saved {
					f.e.saved = f.version
				}
			}
			s.mu.Unlock()
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Debug("sessions flushed", "saved", len(records), "deleted", len(removed))
	return nil
}

// Load restores persisted sessions. Expired records are skipped. Sessions
// already live in the store are left untouched.
func (s *Store) Load(ctx context.Context) (int, error) {
	if s.persister == nil {
		return 0, nil
	}
	records, err := s.persister.LoadSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading sessions: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	loaded := 0
	for _, r := range records {
		if r.Key == "" {
			continue
		}
		if _, exists := s.sessions[r.Key]; exists {
			continue
		}
		messages := slices.Clone(r.Messages)
		for i := range messages {
			messages[i].ID = MessageID(i)
		}
		e := &entry{
			key:          r.Key,
			createdAt:    r.CreatedAt,
			lastActiveAt: r.LastActiveAt,
			cookieExpiry: r.CookieExpiry,
			messages:     messages,
		}
		if s.expired(e, now) {
			continue
		}
		s.sessions[r.Key] = e
		loaded++
	}
	return loaded, nil
}

// live returns the unexpired entry for key. Callers hold s.mu.
func (s *Store) live(key string) (*entry, bool) {
	e, ok := s.sessions[key]
	if !ok || s.expired(e, s.now()) {
		return nil, false
	}
	return e, true
}

func (s *Store) expired(e *entry, now time.Time) bool {
	return !e.cookieExpiry.IsZero() && now.After(e.cookieExpiry)
}

// touch records activity and slides the cookie expiry. Callers hold s.mu.
func (s *Store) touch(e *entry, now time.Time) {
	e.lastActiveAt = now
	if s.cookieMaxAge > 0 {
		e.cookieExpiry = now.Add(s.cookieMaxAge)
	}
}
