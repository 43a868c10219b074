package api

import (
	"net/http"

	"github.com/jacobsprake/munin-sub000/pkg/contracts"
)

type loginRequest struct {
	OperatorID string `json:"operator_id"`
	Passphrase string `json:"passphrase"`
}

type loginResponse struct {
	Token   string            `json:"token"`
	Session contracts.Session `json:"session"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.OperatorID == "" || req.Passphrase == "" {
		WriteBadRequest(w, "operator_id and passphrase are required")
		return
	}
	sess, token, err := s.sessions.Login(r.Context(), req.OperatorID, req.Passphrase, clientIP(r))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, Session: sess})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Logout(r.Context(), bearerToken(r)); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type revokeSessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// handleRevokeSession terminates one session by ID, or every session of
// a user when user_id is given instead.
func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePermission(w, r, "sessions", "revoke")
	if !ok {
		return
	}
	var req revokeSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var err error
	switch {
	case req.SessionID != "":
		err = s.sessions.Revoke(r.Context(), req.SessionID, p.User.ID)
	case req.UserID != "":
		err = s.sessions.RevokeAllForUser(r.Context(), req.UserID, p.User.ID)
	default:
		WriteBadRequest(w, "session_id or user_id is required")
		return
	}
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
