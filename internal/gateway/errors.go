package gateway

import (
	"errors"
	"net/http"

	"github.com/flemzord/toolgate/internal/sandbox"
	"github.com/flemzord/toolgate/internal/security"
	"github.com/flemzord/toolgate/internal/session"
	"github.com/flemzord/toolgate/internal/tool"
	"github.com/flemzord/toolgate/internal/tool/fstools"
)

// statusFor maps a dispatch or session error to an HTTP status.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, tool.ErrApprovalRequired):
		return http.StatusAccepted
	case errors.Is(err, tool.ErrUnknownTool),
		errors.Is(err, sandbox.ErrNotFound),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, tool.ErrInvalidArguments),
		errors.Is(err, session.ErrInvalidMessageID),
		errors.Is(err, sandbox.ErrUnresolvable),
		errors.Is(err, fstools.ErrNotDirectory),
		errors.Is(err, fstools.ErrNotRegular),
		errors.Is(err, fstools.ErrNotText):
		return http.StatusBadRequest
	case errors.Is(err, tool.ErrDenied),
		errors.Is(err, sandbox.ErrOutsideSandbox),
		errors.Is(err, security.ErrRestrictedPath):
		return http.StatusForbidden
	case errors.Is(err, fstools.ErrAlreadyExists),
		errors.Is(err, session.ErrNoPendingApproval):
		return http.StatusConflict
	case errors.Is(err, fstools.ErrNoMatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, fstools.ErrArchiveTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, security.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, tool.ErrShuttingDown),
		errors.Is(err, session.ErrTooManySessions):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
