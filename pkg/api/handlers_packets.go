package api

import (
	"net/http"
)

type issuePacketRequest struct {
	DecisionID string `json:"decision_id"`
	Namespace  string `json:"namespace,omitempty"`
	Body       any    `json:"body"`
}

func (s *Server) handleIssuePacket(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePermission(w, r, "packets", "authorize"); !ok {
		return
	}
	var req issuePacketRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.DecisionID == "" {
		WriteBadRequest(w, "decision_id is required")
		return
	}
	p, err := s.issuer.Issue(r.Context(), req.DecisionID, req.Namespace, req.Body)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListPackets(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePermission(w, r, "packets", "view"); !ok {
		return
	}
	packets, err := s.issuer.List(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, packets)
}

func (s *Server) handleGetPacket(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePermission(w, r, "packets", "view"); !ok {
		return
	}
	p, err := s.issuer.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type sovereignHashResponse struct {
	SovereignHash string `json:"sovereign_hash"`
	PacketCount   int    `json:"packet_count"`
}

func (s *Server) handleSovereignHash(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePermission(w, r, "packets", "view"); !ok {
		return
	}
	root, n, err := s.issuer.SovereignHash(r.Context())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sovereignHashResponse{SovereignHash: root, PacketCount: n})
}
