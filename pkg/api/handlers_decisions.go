package api

import (
	"net/http"

	"github.com/jacobsprake/munin-sub000/pkg/contracts"
	"github.com/jacobsprake/munin-sub000/pkg/decision"
)

type createDecisionRequest struct {
	IncidentID           string           `json:"incident_id"`
	PlaybookID           string           `json:"playbook_id"`
	StepID               string           `json:"step_id,omitempty"`
	ActionType           string           `json:"action_type"`
	Scope                any              `json:"scope"`
	Policy               contracts.Policy `json:"policy"`
	PreviousDecisionHash string           `json:"previous_decision_hash,omitempty"`
}

func (s *Server) handleCreateDecision(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePermission(w, r, "decisions", "create"); !ok {
		return
	}
	var req createDecisionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	d, err := s.decisions.Create(r.Context(), decision.CreateParams{
		IncidentID:           req.IncidentID,
		PlaybookID:           req.PlaybookID,
		StepID:               req.StepID,
		ActionType:           req.ActionType,
		Scope:                req.Scope,
		Policy:               req.Policy,
		PreviousDecisionHash: req.PreviousDecisionHash,
	})
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePermission(w, r, "decisions", "view"); !ok {
		return
	}
	decisions, err := s.decisions.List(r.Context(), r.URL.Query().Get("incident_id"), queryInt(r, "limit", 100))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decisions)
}

type decisionResponse struct {
	contracts.Decision
	Signatures []contracts.DecisionSignature `json:"signatures"`
}

func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePermission(w, r, "decisions", "view"); !ok {
		return
	}
	d, sigs, err := s.decisions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decisionResponse{Decision: d, Signatures: sigs})
}

type submitSignatureRequest struct {
	KeyID     string `json:"key_id"`
	Signature string `json:"signature"`
}

// handleSubmitSignature records the caller's signature on the decision.
// The signer is always the authenticated principal; signing on behalf
// of another operator is not a thing this API can express.
func (s *Server) handleSubmitSignature(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePermission(w, r, "decisions", "sign")
	if !ok {
		return
	}
	var req submitSignatureRequest
	if !decodeBody(w, r, &req) {
		return
	}
	d, err := s.decisions.SubmitSignature(r.Context(), decision.SubmitParams{
		DecisionID: r.PathValue("id"),
		SignerID:   p.User.ID,
		KeyID:      req.KeyID,
		Signature:  req.Signature,
	})
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type rejectDecisionRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleRejectDecision(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePermission(w, r, "decisions", "reject")
	if !ok {
		return
	}
	var req rejectDecisionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.decisions.Reject(r.Context(), r.PathValue("id"), p.User.ID, req.Reason); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
