package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/toolgate/internal/session"
	"github.com/flemzord/toolgate/internal/tool"
)

// handleTools serves the catalogue in function-calling shape.
func (g *Gateway) handleTools() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, tool.FunctionSpecs(g.gate.Registry().Catalogue()))
	}
}

// handleCall dispatches the tool named in the path with the request body
// as arguments. A pending approval answers 202 with the prompt as the body;
// the client re-posts the same call once the human has answered.
func (g *Gateway) handleCall() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		args, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.config.MaxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "reading request body", http.StatusBadRequest)
			return
		}
		if len(args) == 0 {
			args = []byte("{}")
		}

		key := sessionKey(r.Context())
		name := chi.URLParam(r, "name")
		out, err := g.gate.Dispatch(r.Context(), tool.Request{
			SessionKey: key,
			Tool:       name,
			Args:       args,
			Info:       r.URL.Query().Get("info"),
		})
		if err != nil && !errors.Is(err, tool.ErrApprovalRequired) {
			g.logger.Debug("tool call failed", "tool", name, "error", err)
		}
		writeText(w, statusFor(err), tool.ResultText(out, err))
	}
}

// ApprovalResponse reports the session's approval state after an answer.
type ApprovalResponse struct {
	State string `json:"state"`
	Tool  string `json:"tool,omitempty"`
}

// handleApprovalQuery records an answer given as ?approval=true|false.
func (g *Gateway) handleApprovalQuery() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		approved, err := strconv.ParseBool(r.URL.Query().Get("approval"))
		if err != nil {
			http.Error(w, "approval must be true or false", http.StatusBadRequest)
			return
		}
		g.answer(w, r, approved)
	}
}

// handleApprovalBody records an answer given as {"approved": bool}.
func (g *Gateway) handleApprovalBody() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Approved *bool `json:"approved"`
		}
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, g.config.MaxBodyBytes))
		if err := dec.Decode(&body); err != nil || body.Approved == nil {
			http.Error(w, `body must be {"approved": true|false}`, http.StatusBadRequest)
			return
		}
		g.answer(w, r, *body.Approved)
	}
}

func (g *Gateway) answer(w http.ResponseWriter, r *http.Request, approved bool) {
	key := sessionKey(r.Context())
	if err := g.sessions.SetApproval(key, approved); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	resp := ApprovalResponse{State: session.StateUnrequested.String()}
	if sess, ok := g.sessions.Get(key); ok {
		resp.State = sess.State().String()
		if sess.Pending != nil {
			resp.Tool = sess.Pending.Tool
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleIncognito toggles the session's incognito flag.
func (g *Gateway) handleIncognito() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		on, err := g.sessions.ToggleIncognito(sessionKey(r.Context()))
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"incognito": on})
	}
}

// handleDeleteMessage hides one message of the caller's session.
func (g *Gateway) handleDeleteMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := g.sessions.DeleteMessage(sessionKey(r.Context()), id); err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// SessionResponse is the JSON view of the caller's session.
type SessionResponse struct {
	Key            string            `json:"key"`
	Incognito      bool              `json:"incognito"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActiveAt   time.Time         `json:"last_active_at"`
	CookieExpiry   *time.Time        `json:"cookie_expiry,omitempty"`
	Approval       string            `json:"approval"`
	PendingTool    string            `json:"pending_tool,omitempty"`
	PendingMessage string            `json:"pending_message,omitempty"`
	Messages       []session.Message `json:"messages"`
}

// handleSession returns a snapshot of the caller's session. Deleted
// messages are omitted.
func (g *Gateway) handleSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := g.sessions.Get(sessionKey(r.Context()))
		if !ok {
			http.Error(w, session.ErrSessionNotFound.Error(), http.StatusNotFound)
			return
		}
		resp := SessionResponse{
			Key:          sess.Key,
			Incognito:    sess.Incognito,
			CreatedAt:    sess.CreatedAt,
			LastActiveAt: sess.LastActiveAt,
			Approval:     sess.State().String(),
			Messages:     sess.Visible(),
		}
		if !sess.CookieExpiry.IsZero() {
			exp := sess.CookieExpiry
			resp.CookieExpiry = &exp
		}
		if sess.Pending != nil {
			resp.PendingTool = sess.Pending.Tool
			resp.PendingMessage = sess.Pending.Message
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
