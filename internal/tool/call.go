package tool

import (
	"bytes"
	"encoding/json"

	"github.com/cespare/xxhash/v2"
)

// Verdict is the ledger's decision on a call that needs approval.
type Verdict int

// Verdict values.
const (
	// VerdictPending means the call was recorded and is waiting for a human.
	VerdictPending Verdict = iota
	// VerdictApproved means a grant for exactly this call was consumed.
	VerdictApproved
	// VerdictDenied means a denial for exactly this call was consumed.
	VerdictDenied
)

func (v Verdict) String() string {
	switch v {
	case VerdictPending:
		return "pending"
	case VerdictApproved:
		return "approved"
	case VerdictDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Call identifies one requested tool invocation.
type Call struct {
	Tool    string
	Args    json.RawMessage
	Message string
}

// NewCall builds a Call, canonicalizing args so that semantically equal
// argument objects fingerprint the same.
func NewCall(name string, args json.RawMessage, message string) Call {
	return Call{Tool: name, Args: canonicalArgs(args), Message: message}
}

// Fingerprint hashes the tool name and canonical arguments. A grant is only
// honored for a call with the same fingerprint as the one that was pending.
func (c Call) Fingerprint() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(c.Tool)
	_, _ = d.Write([]byte{0})
	_, _ = d.Write(canonicalArgs(c.Args))
	return d.Sum64()
}

// canonicalArgs re-encodes args with sorted keys and no insignificant
// whitespace. Args that fail to decode are returned trimmed as-is.
func canonicalArgs(args json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 {
		return json.RawMessage(`{}`)
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return trimmed
	}
	out, err := json.Marshal(v)
	if err != nil {
		return trimmed
	}
	return out
}

// Ledger records calls awaiting approval and consumes grants. Authorize must
// be atomic per session: two concurrent dispatches of an approved call must
// not both observe VerdictApproved.
type Ledger interface {
	Authorize(sessionKey string, call Call) (Verdict, error)
}

// Journal receives a record of every executed call.
type Journal interface {
	AppendMessage(sessionKey, role, content string) (string, error)
}
