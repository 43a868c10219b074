package api

import (
	"net/http"

	"github.com/jacobsprake/munin-sub000/pkg/auth"
	"github.com/jacobsprake/munin-sub000/pkg/crypto"
	"github.com/jacobsprake/munin-sub000/pkg/keyreg"
)

type registerUserRequest struct {
	OperatorID     string `json:"operator_id"`
	Role           string `json:"role"`
	Passphrase     string `json:"passphrase"`
	PublicKey      string `json:"public_key,omitempty"`
	KeyID          string `json:"key_id,omitempty"`
	MinistryID     string `json:"ministry_id,omitempty"`
	ClearanceLevel string `json:"clearance_level,omitempty"`
}

func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePermission(w, r, "users", "create"); !ok {
		return
	}
	var req registerUserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var passphraseHash string
	if req.Passphrase != "" {
		var err error
		passphraseHash, err = crypto.HashPassword(req.Passphrase, s.argon)
		if err != nil {
			WriteInternal(w, err)
			return
		}
	}
	user, err := s.keys.RegisterUser(r.Context(), keyreg.NewUserParams{
		OperatorID:     req.OperatorID,
		Role:           req.Role,
		PassphraseHash: passphraseHash,
		PublicKey:      req.PublicKey,
		KeyID:          req.KeyID,
		MinistryID:     req.MinistryID,
		ClearanceLevel: req.ClearanceLevel,
	})
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePermission(w, r, "users", "view"); !ok {
		return
	}
	users, err := s.keys.ListUsers(r.Context())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	p, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteUnauthorized(w, "")
		return
	}
	id := r.PathValue("id")
	// Everyone may read their own record; others need the grant.
	if p.User.ID != id {
		if _, ok := requirePermission(w, r, "users", "view"); !ok {
			return
		}
	}
	user, err := s.keys.GetUser(r.Context(), id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type updateUserRequest struct {
	Role       string `json:"role,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePermission(w, r, "users", "update"); !ok {
		return
	}
	var req updateUserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var passphraseHash string
	if req.Passphrase != "" {
		var err error
		passphraseHash, err = crypto.HashPassword(req.Passphrase, s.argon)
		if err != nil {
			WriteInternal(w, err)
			return
		}
	}
	user, err := s.keys.UpdateUser(r.Context(), r.PathValue("id"), req.Role, passphraseHash)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleDisableUser soft-deletes: the account is disabled and its
// sessions destroyed, but identity and key history stay resolvable.
func (s *Server) handleDisableUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePermission(w, r, "users", "delete"); !ok {
		return
	}
	if err := s.keys.DisableUser(r.Context(), r.PathValue("id")); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rotateKeyRequest struct {
	PublicKey string `json:"public_key"`
	KeyID     string `json:"key_id"`
}

func (s *Server) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	p, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteUnauthorized(w, "")
		return
	}
	id := r.PathValue("id")
	// Operators rotate their own key; rotating someone else's requires
	// the user-management grant.
	if p.User.ID != id {
		if _, ok := requirePermission(w, r, "users", "update"); !ok {
			return
		}
	}
	var req rotateKeyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.keys.RotateKey(r.Context(), id, req.PublicKey, req.KeyID); err != nil {
		WriteDomainError(w, err)
		return
	}
	user, err := s.keys.GetUser(r.Context(), id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type revokeKeyRequest struct {
	KeyID string `json:"key_id"`
}

func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	p, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteUnauthorized(w, "")
		return
	}
	id := r.PathValue("id")
	if p.User.ID != id {
		if _, ok := requirePermission(w, r, "users", "update"); !ok {
			return
		}
	}
	var req revokeKeyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.keys.RevokeKey(r.Context(), id, req.KeyID); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
