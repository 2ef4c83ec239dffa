package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ecash-console/go-client/internal/backend"
	"ecash-console/go-client/internal/signer"
	"ecash-console/go-client/internal/signer/bunker"
	"ecash-console/go-client/internal/tasks"
	"ecash-console/go-client/internal/vault"
)

const DefaultListenAddr = "127.0.0.1:8989"

// Server exposes the console service on a loopback HTTP listener. Dashboard
// frontends talk JSON to it; /metrics serves the Prometheus registry.
type Server struct {
	httpServer *http.Server
	service    *Service
	token      string
	logger     *slog.Logger
}

func NewServer(addr string, svc *Service, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if addr == "" {
		addr = DefaultListenAddr
	}
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		service: svc,
		token:   strings.TrimSpace(os.Getenv("ECASH_API_TOKEN")),
		logger:  logger,
	}
	if s.token == "" {
		logger.Warn("ECASH_API_TOKEN is not set; local API auth disabled")
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/auth/login/localkey", s.withAuth(s.handleLoginLocalKey))
	mux.HandleFunc("POST /v1/auth/login/extension", s.withAuth(s.handleLoginExtension))
	mux.HandleFunc("POST /v1/auth/login/bunker", s.withAuth(s.handleLoginBunker))
	mux.HandleFunc("POST /v1/auth/logout", s.withAuth(s.handleLogout))
	mux.HandleFunc("GET /v1/auth/whoami", s.withAuth(s.handleWhoami))
	mux.HandleFunc("POST /v1/tasks", s.withAuth(s.handleSubmitTask))
	mux.HandleFunc("GET /v1/tasks", s.withAuth(s.handleListTasks))
	mux.HandleFunc("GET /v1/tasks/stream", s.withAuth(s.handleTaskStream))
	mux.HandleFunc("POST /v1/tasks/{id}/cancel", s.withAuth(s.handleCancelTask))
	mux.HandleFunc("POST /v1/vault/records", s.withAuth(s.handleSaveRecord))
	mux.HandleFunc("GET /v1/vault/records", s.withAuth(s.handleListRecords))
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	default:
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.applyCORS(w, r) {
			return
		}
		if !s.authorize(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) authorize(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	token := strings.TrimSpace(r.Header.Get("X-Console-Token"))
	if token == "" {
		auth := strings.TrimSpace(r.Header.Get("Authorization"))
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			token = strings.TrimSpace(auth[len("bearer "):])
		}
	}
	return token == s.token
}

func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin != "" && !isLoopbackOrigin(origin) {
		writeError(w, http.StatusForbidden, "origin is not allowed")
		return false
	}
	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}
	w.Header().Set("Vary", "Origin")
	return true
}

func isLoopbackOrigin(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch strings.TrimSpace(u.Hostname()) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.applyCORS(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginLocalKeyRequest struct {
	Mnemonic string `json:"mnemonic"`
}

func (s *Server) handleLoginLocalKey(w http.ResponseWriter, r *http.Request) {
	var req loginLocalKeyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.service.LoginLocalKey(r.Context(), strings.TrimSpace(req.Mnemonic))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleLoginExtension(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.LoginExtension(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type loginBunkerRequest struct {
	URI string `json:"uri"`
}

func (s *Server) handleLoginBunker(w http.ResponseWriter, r *http.Request) {
	var req loginBunkerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.service.LoginBunker(r.Context(), strings.TrimSpace(req.URI))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Logout(r.Context()); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleWhoami(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.service.Whoami()
	if !ok {
		writeError(w, http.StatusUnauthorized, "no active session")
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

type submitTaskRequest struct {
	Query   string `json:"query"`
	GroupID string `json:"group_id"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	task, err := s.service.SubmitTask(r.Context(), req.Query, req.GroupID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ActiveTasks(r.Context()))
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelTask(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleTaskStream pushes registry changes as server-sent events.
func (s *Server) handleTaskStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming is not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id, events := s.service.SubscribeTasks(64)
	defer s.service.UnsubscribeTasks(id)

	heartbeat := time.NewTicker(20 * time.Second)
	defer heartbeat.Stop()

	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev tasks.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %d\n", ev.Seq); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", string(data))
	return err
}

type saveRecordRequest struct {
	GroupID  string `json:"group_id"`
	Query    string `json:"query"`
	Response string `json:"response"`
}

func (s *Server) handleSaveRecord(w http.ResponseWriter, r *http.Request) {
	var req saveRecordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rec := vault.SearchRecord{Query: req.Query, Response: req.Response}
	if err := s.service.SaveRecord(r.Context(), req.GroupID, rec); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"ok": true})
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.SavedRecords(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, signer.ErrSignerUnavailable):
		writeError(w, http.StatusUnauthorized, "no active signer")
	case errors.Is(err, ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	case errors.Is(err, bunker.ErrInvalidURI):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, bunker.ErrHandshakeFailed):
		writeError(w, http.StatusBadGateway, "remote signer handshake failed")
	case errors.Is(err, tasks.ErrUnknownTask), errors.Is(err, backend.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, vault.ErrDecryptionFailed):
		writeError(w, http.StatusConflict, "record cannot be decrypted under the active identity")
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusBadGateway, "backend request failed")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
