package api

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jacobsprake/munin-sub000/pkg/auth"
	"github.com/jacobsprake/munin-sub000/pkg/contracts"
	"github.com/jacobsprake/munin-sub000/pkg/rbac"
	"github.com/jacobsprake/munin-sub000/pkg/session"
)

// requireSession authenticates the bearer token and injects the
// Principal. Missing, malformed, expired and revoked tokens all yield
// 401; a disabled account yields 403.
func (s *Server) requireSession(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			WriteUnauthorized(w, "Missing bearer token")
			return
		}
		user, sess, err := s.sessions.Validate(r.Context(), token)
		if err != nil {
			switch contracts.KindOf(err) {
			case contracts.KindSessionInvalid:
				WriteUnauthorizedReason(w, session.InvalidReason(err), "Invalid session")
			case contracts.KindDisabled:
				WriteForbidden(w, "Account disabled")
			default:
				WriteInternal(w, err)
			}
			return
		}
		ctx := auth.WithPrincipal(r.Context(), auth.Principal{User: user, Session: sess})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken accepts "Bearer <token>" and, for air-gapped tooling that
// cannot set schemes, a bare token.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	if rest, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(rest)
	}
	if strings.ContainsRune(h, ' ') {
		// Some other scheme; not ours.
		return ""
	}
	return h
}

// requirePermission enforces the role matrix for the authenticated
// principal.
func requirePermission(w http.ResponseWriter, r *http.Request, resource, action string) (auth.Principal, bool) {
	p, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteUnauthorized(w, "")
		return auth.Principal{}, false
	}
	if err := rbac.Require(p.User.Role, resource, action); err != nil {
		WriteForbidden(w, err.Error())
		return auth.Principal{}, false
	}
	return p, true
}

// rateLimit throttles per remote source. It runs ahead of session
// validation, so the key is always the client IP.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientIP(r)) {
			WriteTooManyRequests(w, 5)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = strings.Trim(r.RemoteAddr, "[]")
	}
	return ip
}

// logRequests emits one structured line per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", sinceMs(start),
			"request_id", auth.GetRequestID(r.Context()),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
