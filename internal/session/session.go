// Package session keeps per-client conversation state: the message log,
// the incognito flag, and the approval ledger the tool gate consults before
// running a call that needs human confirmation.
//
// The store does not authenticate keys. Any holder of a known key acts as
// that session; binding keys to identities is the transport's job.
package session

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/flemzord/toolgate/internal/tool"
)

// ApprovalState is where a session's approval ledger stands.
type ApprovalState int

// ApprovalState values. The ledger moves
// Unrequested -> Pending -> Approved|Denied -> Unrequested, the last step
// happening when the answer is consumed by the matching dispatch.
const (
	StateUnrequested ApprovalState = iota
	StatePending
	StateApproved
	StateDenied
)

func (s ApprovalState) String() string {
	switch s {
	case StateUnrequested:
		return "unrequested"
	case StatePending:
		return "pending"
	case StateApproved:
		return "approved"
	case StateDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Message is one entry of a session's log. Deleted messages keep their
// slot so ids never shift.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Deleted   bool      `json:"deleted,omitempty"`
}

// Session is a copy of one session's state. Mutating it does not affect
// the store.
type Session struct {
	Key          string
	Incognito    bool
	CreatedAt    time.Time
	LastActiveAt time.Time
	CookieExpiry time.Time
	Messages     []Message

	// Pending is the call waiting for approval, if any.
	Pending *tool.Call

	// Approval is the recorded answer for Pending, nil until answered.
	Approval *bool
}

// State derives the approval state.
func (s Session) State() ApprovalState {
	switch {
	case s.Pending == nil:
		return StateUnrequested
	case s.Approval == nil:
		return StatePending
	case *s.Approval:
		return StateApproved
	default:
		return StateDenied
	}
}

// Visible returns the messages that have not been deleted.
func (s Session) Visible() []Message {
	out := make([]Message, 0, len(s.Messages))
	for _, m := range s.Messages {
		if !m.Deleted {
			out = append(out, m)
		}
	}
	return out
}

// entry is the store's mutable record.
type entry struct {
	key          string
	incognito    bool
	createdAt    time.Time
	lastActiveAt time.Time
	cookieExpiry time.Time
	messages     []Message
	pending      *tool.Call
	pendingFP    uint64
	approval     *bool

	// version counts changes worth persisting; saved is the last version
	// written by Flush.
	version uint64
	saved   uint64
}

func (e *entry) snapshot() Session {
	s := Session{
		Key:          e.key,
		Incognito:    e.incognito,
		CreatedAt:    e.createdAt,
		LastActiveAt: e.lastActiveAt,
		CookieExpiry: e.cookieExpiry,
		Messages:     slices.Clone(e.messages),
	}
	if e.pending != nil {
		p := *e.pending
		p.Args = slices.Clone(p.Args)
		s.Pending = &p
	}
	if e.approval != nil {
		a := *e.approval
		s.Approval = &a
	}
	return s
}

// clearApproval resets the ledger to Unrequested.
func (e *entry) clearApproval() {
	e.pending = nil
	e.pendingFP = 0
	e.approval = nil
}

// MessageID formats the id of the message at index.
func MessageID(index int) string {
	return "d" + strconv.Itoa(index)
}

// ParseMessageID returns the index encoded in id. Only the canonical form
// produced by MessageID is accepted: no sign, no leading zeros.
func ParseMessageID(id string) (int, error) {
	digits, ok := strings.CutPrefix(id, "d")
	if !ok || digits == "" {
		return 0, ErrInvalidMessageID
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, ErrInvalidMessageID
		}
	}
	idx, err := strconv.Atoi(digits)
	if err != nil || strconv.Itoa(idx) != digits {
		return 0, ErrInvalidMessageID
	}
	return idx, nil
}
