package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"sqlident/cmd/identity"
	"sqlident/cmd/internal/auth/session"
)

// Policy is the identity decision engine the adapter drives.
// *session.Service implements it.
type Policy interface {
	Resolve(ctx context.Context, presented string, client session.Client) (userID string, ok bool, err error)
	Remember(ctx context.Context, userID string, client session.Client) (string, error)
	Forget(ctx context.Context, presented string) error
}

// Handler wires HTTP requests to the identity policy.
type Handler struct {
	log    *slog.Logger
	cfg    Config
	policy Policy
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, policy Policy, cfg Config) (*Handler, error) {
	if policy == nil {
		return nil, errors.New("auth: nil policy")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, cfg: cfg.normalized(), policy: policy}, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.Handle("/me", h.Middleware(http.HandlerFunc(h.handleMe)))
	mux.Handle("/auth/logout", h.Middleware(http.HandlerFunc(h.handleLogout)))
	if h.cfg.DemoLogin {
		mux.HandleFunc("/auth/login", h.handleLogin)
	}
}

// HeaderName is the response header tokens are written into.
func (h *Handler) HeaderName() string { return h.cfg.HeaderName }

// Middleware resolves the bearer token, if any, and makes the user id
// available through UserID. Requests without a valid token pass through
// anonymously; a store outage answers 503 instead.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, done := identityFrom(r.Context()); done {
			next.ServeHTTP(w, r)
			return
		}

		presented := presentedToken(r)
		if presented == "" {
			next.ServeHTTP(w, r)
			return
		}

		userID, ok, err := h.policy.Resolve(r.Context(), presented, h.client(r))
		if err != nil {
			h.log.ErrorContext(r.Context(), "auth.resolve.fail", "err", err)
			writeStoreUnavailable(w)
			return
		}
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), userID, presented)))
	})
}

// Remember opens a session for userID and writes the token into the
// configured response header. Call it before the body is written.
func (h *Handler) Remember(w http.ResponseWriter, r *http.Request, userID string) (string, error) {
	client := h.client(r)
	tok, err := h.policy.Remember(r.Context(), userID, client)
	if err != nil {
		return "", err
	}
	w.Header().Set(h.cfg.HeaderName, tok)
	w.Header().Set("Cache-Control", "no-store")
	h.auditRemember(r.Context(), userID, client.IP, client.UserAgent)
	return tok, nil
}

// Forget ends the session behind the request's bearer token. A request
// without one is a no-op.
func (h *Handler) Forget(w http.ResponseWriter, r *http.Request) error {
	presented := presentedToken(r)
	if id, ok := identityFrom(r.Context()); ok {
		presented = id.token
	}
	if presented == "" {
		return nil
	}
	if err := h.policy.Forget(r.Context(), presented); err != nil {
		return err
	}
	userID, _ := UserID(r.Context())
	client := h.client(r)
	h.auditForget(r.Context(), userID, client.IP, client.UserAgent)
	return nil
}

// ---- handlers ----

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID, ok := UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
		return
	}
	writeJSON(w, http.StatusOK, meResponse{UserID: userID})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := UserID(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
		return
	}

	if err := h.Forget(w, r); err != nil {
		h.log.ErrorContext(r.Context(), "auth.logout.fail", "err", err)
		writeStoreUnavailable(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	userID := strings.TrimSpace(req.UserID)

	if _, err := h.Remember(w, r, userID); err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidUserID):
			writeError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, "invalid_request", "user_id is not acceptable")
		case identity.IsConnection(err):
			h.log.ErrorContext(r.Context(), "auth.login.fail", "err", err)
			writeStoreUnavailable(w)
		default:
			h.log.ErrorContext(r.Context(), "auth.login.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{UserID: userID, HeaderName: h.cfg.HeaderName})
}

// ---- helpers ----

func (h *Handler) client(r *http.Request) session.Client {
	var ip string
	if addr := clientIP(r, h.cfg.TrustProxy); addr != nil {
		ip = addr.String()
	}
	return session.Client{IP: ip, UserAgent: strings.TrimSpace(r.UserAgent())}
}

// presentedToken returns the credential of an "Authorization: <scheme> <token>"
// header. Any scheme is accepted; the token itself decides.
func presentedToken(r *http.Request) string {
	fields := strings.Fields(r.Header.Get("Authorization"))
	if len(fields) != 2 {
		return ""
	}
	return fields[1]
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for _, p := range parts {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
