package bridge

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/imsgguard/imsg-guard/internal/contacts"
)

// Forwarder is the backend surface the HTTP server needs. Satisfied by
// Manager; tests substitute a fake.
type Forwarder interface {
	Send(ctx context.Context, raw []byte) ([]byte, error)
	Notifications() []json.RawMessage
	Alive() bool
}

// Server exposes the bridge over HTTP. All endpoints except /health require
// the bearer token. Real handles never appear in any response body: contact
// listings show aliases only.
type Server struct {
	logger    *slog.Logger
	token     string
	dir       *contacts.Directory
	forwarder Forwarder
	mux       *http.ServeMux
}

// NewServer creates the bridge HTTP server.
func NewServer(logger *slog.Logger, token string, dir *contacts.Directory, fwd Forwarder) *Server {
	s := &Server{
		logger:    logger,
		token:     token,
		dir:       dir,
		forwarder: fwd,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /rpc", s.withAuth(s.handleRPC))
	mux.HandleFunc("GET /notifications", s.withAuth(s.handleNotifications))
	mux.HandleFunc("GET /contacts", s.withAuth(s.handleContacts))
	s.mux = mux

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the server and shuts it down when ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	s.logger.Info("bridge listening", "listen", addr)
	return srv.ListenAndServe()
}

// withAuth wraps a handler with bearer token authentication. The comparison
// is constant time and happens before any request state is touched.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			s.logger.Warn("unauthorized request",
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
			)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"backend_alive": s.forwarder.Alive(),
		"contacts":      s.dir.Aliases(),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request"})
		return
	}
	// Only a single JSON-RPC object is accepted: a batch array would carry
	// requests the per-object send policy never sees.
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		return
	}
	if !s.forwarder.Alive() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "backend not running"})
		return
	}

	resp, err := s.forwarder.Send(r.Context(), body)
	if err != nil {
		s.logger.Error("forwarding rpc", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "backend write failed"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if resp == nil {
		// Notifications and blocked notifications have no response body.
		w.Write([]byte("{}"))
		return
	}
	w.Write(resp)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": s.forwarder.Notifications(),
	})
}

func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"contacts": s.dir.Aliases(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
