package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"relay/internal/chat"
	"relay/internal/store"
)

// RunWeb serves the HTTP surface: thread CRUD, the SSE turn stream,
// approval decisions and the direct tool endpoints.
func (r *Runner) RunWeb(ctx context.Context, addr string) error {
	clean := strings.TrimSpace(addr)
	if clean == "" {
		clean = "127.0.0.1:3737"
	}
	server := &webServer{
		runner: r,
		addr:   clean,
		logger: r.logger,
	}
	return server.run(ctx)
}

type webServer struct {
	runner *Runner
	addr   string
	logger *log.Logger
}

func (s *webServer) run(ctx context.Context) error {
	if s.logger == nil {
		s.logger = log.Default()
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/threads", s.handleThreadList)
	mux.HandleFunc("POST /api/threads", s.handleThreadCreate)
	mux.HandleFunc("GET /api/threads/{id}", s.handleThreadGet)
	mux.HandleFunc("PATCH /api/threads/{id}", s.handleThreadRename)
	mux.HandleFunc("DELETE /api/threads/{id}", s.handleThreadDelete)
	mux.HandleFunc("GET /api/threads/{id}/messages", s.handleMessagesGet)
	mux.HandleFunc("POST /api/threads/{id}/messages", s.handleMessagePost)
	mux.HandleFunc("POST /api/threads/{id}/cancel", s.handleCancel)
	mux.HandleFunc("PATCH /api/messages/{id}", s.handleMessageUpdate)
	mux.HandleFunc("DELETE /api/messages/{id}", s.handleMessageDelete)
	mux.HandleFunc("POST /api/approvals", s.handleApproval)
	mux.HandleFunc("POST /api/tools/{name}", s.handleToolCall)

	server := &http.Server{
		Addr:    listener.Addr().String(),
		Handler: s.logRequests(mux),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Printf("relay listening on http://%s", listener.Addr())
	err = server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *webServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Printf("[%s] %s %s (%s)", r.RemoteAddr, r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}

func (s *webServer) respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.logger.Printf("[WEB] error status=%d method=%s path=%s remote=%s: %s",
		status, r.Method, r.URL.Path, r.RemoteAddr, message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": message})
}

func (s *webServer) writeJSON(w http.ResponseWriter, r *http.Request, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("[WEB] encode response for %s: %v", r.URL.Path, err)
	}
}

// requestOwner identifies the caller. Authentication proper is an outer
// concern; the header just scopes threads per user.
func requestOwner(r *http.Request) string {
	if owner := strings.TrimSpace(r.Header.Get("X-Relay-User")); owner != "" {
		return owner
	}
	return "local"
}

// ownedThread loads a thread and enforces that the caller owns it.
func (s *webServer) ownedThread(w http.ResponseWriter, r *http.Request, id string) (store.Thread, bool) {
	thread, err := s.runner.store.GetThread(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.respondError(w, r, http.StatusNotFound, "thread not found")
		return store.Thread{}, false
	}
	if err != nil {
		s.respondError(w, r, http.StatusInternalServerError, err.Error())
		return store.Thread{}, false
	}
	if thread.Owner != requestOwner(r) {
		s.respondError(w, r, http.StatusForbidden, "thread belongs to another user")
		return store.Thread{}, false
	}
	return thread, true
}

func (s *webServer) handleThreadList(w http.ResponseWriter, r *http.Request) {
	threads, err := s.runner.store.ListThreads(r.Context(), requestOwner(r))
	if err != nil {
		s.respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if threads == nil {
		threads = []store.Thread{}
	}
	s.writeJSON(w, r, map[string]any{"threads": threads})
}

func (s *webServer) handleThreadCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid payload")
		return
	}
	thread, err := s.runner.store.CreateThread(r.Context(), uuid.NewString(), requestOwner(r), strings.TrimSpace(req.Title))
	if err != nil {
		s.respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusCreated)
	s.writeJSON(w, r, thread)
}

func (s *webServer) handleThreadGet(w http.ResponseWriter, r *http.Request) {
	thread, ok := s.ownedThread(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	s.writeJSON(w, r, thread)
}

func (s *webServer) handleThreadRename(w http.ResponseWriter, r *http.Request) {
	thread, ok := s.ownedThread(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		s.respondError(w, r, http.StatusBadRequest, "title is required")
		return
	}
	if err := s.runner.store.RenameThread(r.Context(), thread.ID, strings.TrimSpace(req.Title)); err != nil {
		s.respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, r, map[string]any{"success": true})
}

func (s *webServer) handleThreadDelete(w http.ResponseWriter, r *http.Request) {
	thread, ok := s.ownedThread(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	s.runner.sessions.Destroy(thread.ID)
	if err := s.runner.store.DeleteThread(r.Context(), thread.ID); err != nil {
		s.respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, r, map[string]any{"success": true})
}

func (s *webServer) handleMessagesGet(w http.ResponseWriter, r *http.Request) {
	thread, ok := s.ownedThread(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	view, err := s.runner.MergedView(r.Context(), thread.ID)
	if err != nil {
		s.respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if view == nil {
		view = []chat.UIMessage{}
	}
	s.writeJSON(w, r, map[string]any{"messages": view})
}

// handleMessagePost starts one agent request and streams its events back
// as SSE until the loop stops or the client disconnects.
func (s *webServer) handleMessagePost(w http.ResponseWriter, r *http.Request) {
	thread, ok := s.ownedThread(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid payload")
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		s.respondError(w, r, http.StatusBadRequest, "content is required")
		return
	}
	if session := s.runner.sessions.Get(thread.ID); session != nil && session.TurnActive() {
		s.respondError(w, r, http.StatusConflict, chat.ErrTurnActive.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok2 := w.(http.Flusher)
	if !ok2 {
		s.respondError(w, r, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sendEvent := func(eventType string, data any) error {
		payload, err := json.Marshal(map[string]any{"type": eventType, "data": data})
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if _, err := s.runner.RunRequest(r.Context(), thread.ID, content, sendEvent); err != nil {
		_ = sendEvent("error", map[string]string{"message": err.Error()})
		return
	}
	_ = sendEvent("complete", map[string]string{"status": "done"})
}

func (s *webServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	thread, ok := s.ownedThread(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	cancelled := false
	if session := s.runner.sessions.Get(thread.ID); session != nil {
		cancelled = session.CancelTurn()
	}
	s.writeJSON(w, r, map[string]any{"success": true, "cancelled": cancelled})
}

func (s *webServer) handleMessageUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		s.respondError(w, r, http.StatusBadRequest, "content is required")
		return
	}
	err := s.runner.store.UpdateMessageContent(r.Context(), r.PathValue("id"), req.Content)
	if errors.Is(err, store.ErrNotFound) {
		s.respondError(w, r, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		s.respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, r, map[string]any{"success": true})
}

func (s *webServer) handleMessageDelete(w http.ResponseWriter, r *http.Request) {
	err := s.runner.store.DeleteMessage(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		s.respondError(w, r, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		s.respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, r, map[string]any{"success": true})
}

// handleApproval records the user's decision for a pending tool call.
// Replaying an identical decision is fine; a conflicting one is rejected.
func (s *webServer) handleApproval(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CallID   string `json:"call_id"`
		Approved bool   `json:"approved"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CallID == "" {
		s.respondError(w, r, http.StatusBadRequest, "call_id is required")
		return
	}
	if err := s.runner.broker.Resolve(req.CallID, chat.Decision{Approved: req.Approved, Reason: req.Reason}); err != nil {
		s.respondError(w, r, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, r, map[string]any{"success": true})
}

// handleToolCall executes one tool directly: 200 with a structured result
// whether or not execution succeeded, 400 on schema validation failure,
// 500 (still structured) on an unanticipated failure.
func (s *webServer) handleToolCall(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	tool, ok := s.runner.registry.Lookup(name)
	if !ok {
		s.respondError(w, r, http.StatusNotFound, fmt.Sprintf("unknown tool: %s", name))
		return
	}

	var args map[string]any
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "body must be a JSON object")
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.respondError(w, r, http.StatusInternalServerError, fmt.Sprintf("tool %s panicked: %v", name, rec))
		}
	}()

	res, err := tool.Call(r.Context(), args)
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, r, res)
}
