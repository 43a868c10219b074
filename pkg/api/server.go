package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jacobsprake/munin-sub000/pkg/audit"
	"github.com/jacobsprake/munin-sub000/pkg/auth"
	"github.com/jacobsprake/munin-sub000/pkg/crypto"
	"github.com/jacobsprake/munin-sub000/pkg/decision"
	"github.com/jacobsprake/munin-sub000/pkg/keyreg"
	"github.com/jacobsprake/munin-sub000/pkg/packet"
	"github.com/jacobsprake/munin-sub000/pkg/session"
)

// Server wires the core components behind the REST surface.
type Server struct {
	keys      *keyreg.Registry
	sessions  *session.Manager
	decisions *decision.Engine
	issuer    *packet.Issuer
	ledger    *audit.Ledger
	attestor  *audit.Attestor
	limiter   *auth.ActorLimiter
	argon     crypto.Argon2Params
	log       *slog.Logger
}

func NewServer(
	keys *keyreg.Registry,
	sessions *session.Manager,
	decisions *decision.Engine,
	issuer *packet.Issuer,
	ledger *audit.Ledger,
	attestor *audit.Attestor,
	argon crypto.Argon2Params,
	log *slog.Logger,
) *Server {
	return &Server{
		keys:      keys,
		sessions:  sessions,
		decisions: decisions,
		issuer:    issuer,
		ledger:    ledger,
		attestor:  attestor,
		limiter:   auth.NewActorLimiter(20, 40),
		argon:     argon,
		log:       log.With("component", "api"),
	}
}

// Handler builds the full route table. Everything under /api except
// login requires a valid bearer session.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /api/login", s.handleLogin)

	authed := func(h http.HandlerFunc) http.Handler { return s.requireSession(h) }

	mux.Handle("POST /api/logout", authed(s.handleLogout))
	mux.Handle("POST /api/sessions/revoke", authed(s.handleRevokeSession))

	mux.Handle("POST /api/users", authed(s.handleRegisterUser))
	mux.Handle("GET /api/users", authed(s.handleListUsers))
	mux.Handle("GET /api/users/{id}", authed(s.handleGetUser))
	mux.Handle("PATCH /api/users/{id}", authed(s.handleUpdateUser))
	mux.Handle("DELETE /api/users/{id}", authed(s.handleDisableUser))
	mux.Handle("POST /api/users/{id}/keys/rotate", authed(s.handleRotateKey))
	mux.Handle("POST /api/users/{id}/keys/revoke", authed(s.handleRevokeKey))

	mux.Handle("POST /api/decisions", authed(s.handleCreateDecision))
	mux.Handle("GET /api/decisions", authed(s.handleListDecisions))
	mux.Handle("GET /api/decisions/{id}", authed(s.handleGetDecision))
	mux.Handle("POST /api/decisions/{id}/sign", authed(s.handleSubmitSignature))
	mux.Handle("POST /api/decisions/{id}/reject", authed(s.handleRejectDecision))

	mux.Handle("POST /api/packets", authed(s.handleIssuePacket))
	mux.Handle("GET /api/packets", authed(s.handleListPackets))
	mux.Handle("GET /api/packets/{id}", authed(s.handleGetPacket))
	mux.Handle("GET /api/packets/sovereign-hash", authed(s.handleSovereignHash))

	mux.Handle("GET /api/audit", authed(s.handleListAudit))
	mux.Handle("POST /api/audit/verify", authed(s.handleVerifyAudit))
	mux.Handle("POST /api/audit/checkpoint", authed(s.handleExportCheckpoint))
	mux.Handle("GET /api/audit/checkpoints", authed(s.handleListCheckpoints))

	return auth.RequestIDMiddleware(s.logRequests(s.rateLimit(mux)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody decodes a JSON request body with a 1 MiB cap.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return false
	}
	return true
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func sinceMs(start time.Time) int64 { return time.Since(start).Milliseconds() }
