package tool

import (
	"errors"
	"fmt"
)

// ResultText renders a Dispatch outcome as the string shown to the model.
// Pending approvals render as their prompt so the caller can surface it.
func ResultText(out string, err error) string {
	if err == nil {
		return out
	}
	if are, ok := AsApprovalRequired(err); ok {
		return are.Message
	}
	if errors.Is(err, ErrDenied) {
		return fmt.Sprintf("Tool call rejected: %v", err)
	}
	return fmt.Sprintf("Error: %v", err)
}
