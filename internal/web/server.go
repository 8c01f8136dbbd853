package web

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kypseli/hive/internal/bus"
	"github.com/kypseli/hive/internal/config"
	"github.com/kypseli/hive/internal/orchestrator"
	"golang.org/x/crypto/argon2"
)

const (
	sessionCookieName = "session"
	sessionMaxAge     = 30 * 24 * time.Hour // 30 days
)

// Server exposes the orchestrator over a JSON REST API plus a WebSocket
// event stream bridged from the bus.
type Server struct {
	orch      *orchestrator.Orchestrator
	nats      *bus.Client
	hub       *Hub
	cfg       config.WebConfig
	version   string
	startedAt time.Time

	// Auth digest derived from the configured password at startup;
	// login attempts derive the same way and compare in constant time.
	authDigest []byte

	sessionMu sync.Mutex
	sessions  map[string]time.Time // token → expiry
}

func NewServer(orch *orchestrator.Orchestrator, natsClient *bus.Client, cfg config.WebConfig, version string) *Server {
	s := &Server{
		orch:      orch,
		nats:      natsClient,
		hub:       NewHub(),
		cfg:       cfg,
		version:   version,
		startedAt: time.Now(),
		sessions:  make(map[string]time.Time),
	}
	if cfg.Auth != "" {
		s.authDigest = deriveDigest(cfg.Auth)
	}
	return s
}

// deriveDigest stretches the password with Argon2id. The salt is
// deterministic (SHA-256 of the password), so the digest is stable across
// restarts without storing anything beside the config value.
func deriveDigest(password string) []byte {
	salt := sha256.Sum256([]byte(password))
	return argon2.IDKey([]byte(password), salt[:16], 1, 64*1024, 4, 32)
}

func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	// Bridge bus events to WebSocket clients
	s.subscribeEvents()

	mux := http.NewServeMux()

	// Auth endpoints (public)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/check", s.handleAuthCheck)

	// API routes
	s.registerAPI(mux)

	// WebSocket
	mux.HandleFunc("/api/ws", s.handleWebSocket)

	handler := s.withMiddleware(mux)
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{Addr: addr, Handler: handler}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	slog.Info("web server listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Public endpoints
		if r.URL.Path == "/api/login" || r.URL.Path == "/api/auth/check" {
			next.ServeHTTP(w, r)
			return
		}

		if s.authDigest != nil && strings.HasPrefix(r.URL.Path, "/api/") {
			if !s.validSession(r) {
				jsonError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.authDigest == nil {
		writeJSON(w, map[string]bool{"ok": true})
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}

	attempt := deriveDigest(req.Password)
	if subtle.ConstantTimeCompare(attempt, s.authDigest) != 1 {
		jsonError(w, "invalid password", http.StatusUnauthorized)
		return
	}

	token, err := newSessionToken()
	if err != nil {
		jsonError(w, "session error", http.StatusInternalServerError)
		return
	}

	s.sessionMu.Lock()
	s.sessions[token] = time.Now().Add(sessionMaxAge)
	s.sessionMu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(sessionMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookieName); err == nil {
		s.sessionMu.Lock()
		delete(s.sessions, c.Value)
		s.sessionMu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{
		Name:   sessionCookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]bool{
		"auth_required": s.authDigest != nil,
		"authenticated": s.authDigest == nil || s.validSession(r),
	})
}

func (s *Server) validSession(r *http.Request) bool {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		return false
	}

	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	expiry, ok := s.sessions[c.Value]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(s.sessions, c.Value)
		return false
	}
	return true
}

func newSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write json failed", "error", err)
	}
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
