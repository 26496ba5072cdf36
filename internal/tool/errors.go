package tool

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTool is returned when a tool is not found in the registry.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments is returned when a call's arguments are not valid
	// JSON or do not satisfy the tool's schema.
	ErrInvalidArguments = errors.New("invalid arguments")

	// ErrInvalidSchema is returned when registering a tool whose schema
	// cannot be compiled.
	ErrInvalidSchema = errors.New("invalid tool schema")

	// ErrDenied is returned when a call is blocked by policy or rejected by
	// the session's human.
	ErrDenied = errors.New("tool execution denied")

	// ErrApprovalRequired is matched by *ApprovalRequiredError.
	ErrApprovalRequired = errors.New("approval required")

	// ErrNoScopes is returned when a tool declares no scopes.
	ErrNoScopes = errors.New("tool must declare at least one scope")

	// ErrEmptyToolName is returned when a tool name is empty.
	ErrEmptyToolName = errors.New("tool name must not be empty")

	// ErrDuplicateTool is returned when registering a tool with a name that
	// already exists in the registry.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrToolInMultipleLists is returned when a tool appears in conflicting
	// policy lists (e.g., both allow and deny).
	ErrToolInMultipleLists = errors.New("tool appears in conflicting policy lists")

	// ErrShuttingDown is returned by Dispatch once Shutdown has begun.
	ErrShuttingDown = errors.New("gate is shutting down")

	// ErrNoLedger is returned when a call needs approval but the gate has
	// no session ledger to record it in.
	ErrNoLedger = errors.New("no approval ledger configured")
)

// ApprovalRequiredError is returned by Dispatch when the call must be
// confirmed by a human before it can run. The call has been recorded as
// pending on the session; dispatching the same call again after approval
// runs it.
type ApprovalRequiredError struct {
	Tool    string
	Message string
}

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("%s: %s", ErrApprovalRequired, e.Tool)
}

// Is makes errors.Is(err, ErrApprovalRequired) match.
func (e *ApprovalRequiredError) Is(target error) bool {
	return target == ErrApprovalRequired
}

// AsApprovalRequired extracts the approval message from err.
func AsApprovalRequired(err error) (*ApprovalRequiredError, bool) {
	var are *ApprovalRequiredError
	if errors.As(err, &are) {
		return are, true
	}
	return nil, false
}
