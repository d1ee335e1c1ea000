package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"companychat/internal/chat"
	"companychat/internal/feedback"
	"companychat/internal/registry"
	"companychat/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	Engine         *chat.Engine
	Registry       *registry.Registry
	Feedback       *feedback.Tracker
	MaxUploadBytes int64
}

// Server exposes the HTTP API.
type Server struct {
	engine         *chat.Engine
	registry       *registry.Registry
	feedback       *feedback.Tracker
	maxUploadBytes int64
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 50 << 20
	}
	s := &Server{
		engine:         cfg.Engine,
		registry:       cfg.Registry,
		feedback:       cfg.Feedback,
		maxUploadBytes: maxUpload,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/conversations", s.handleConversations)
	s.mux.HandleFunc("/api/conversations/", s.handleConversationByID)
	s.mux.HandleFunc("/api/sources", s.handleSources)
	s.mux.HandleFunc("/api/sources/", s.handleSourceByID)
	s.mux.HandleFunc("/api/stats", s.handleStats)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type postMessageRequest struct {
	Content        string `json:"content"`
	UseCompanyData bool   `json:"useCompanyData"`
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		limit := parseIntQuery(r, "limit", 50)
		convs, err := s.engine.ListConversations(limit)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, convs)
	case http.MethodPost:
		var req postMessageRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		// A body without content starts an empty conversation.
		if strings.TrimSpace(req.Content) == "" {
			conv, err := s.engine.CreateConversation(req.UseCompanyData)
			if err != nil {
				writeAppError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, conv)
			return
		}
		res, err := s.engine.PostMessage(r.Context(), "", req.Content, req.UseCompanyData)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleConversationByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if len(parts) == 2 && parts[1] == "feedback" {
		s.handleFeedback(w, r, id)
		return
	}
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		conv, err := s.engine.GetConversation(id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	case http.MethodPost:
		var req postMessageRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		// useCompanyData is fixed at creation; the flag here is ignored.
		res, err := s.engine.PostMessage(r.Context(), id, req.Content, req.UseCompanyData)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	case http.MethodDelete:
		if err := s.engine.DeleteConversation(id); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

type feedbackRequest struct {
	MessageID string `json:"messageId"`
	Kind      string `json:"kind"`
	Rating    *int   `json:"rating,omitempty"`
	Comment   string `json:"comment,omitempty"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request, conversationID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req feedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	fb, err := s.feedback.Submit(feedback.Submission{
		ConversationID: conversationID,
		MessageID:      req.MessageID,
		Kind:           domain.FeedbackKind(req.Kind),
		Rating:         req.Rating,
		Comment:        req.Comment,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, fb)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sources, err := s.registry.List()
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sources)
	case http.MethodPost:
		s.handleUpload(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload")
		return
	}
	src, err := s.registry.Create(r.Context(), r.FormValue("name"), header.Filename, data)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, src)
}

type activateRequest struct {
	Active *bool `json:"active"`
}

func (s *Server) handleSourceByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sources/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if len(parts) == 2 && parts[1] == "activate" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		req := activateRequest{}
		if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		active := true
		if req.Active != nil {
			active = *req.Active
		}
		src, err := s.registry.SetActive(id, active)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, src)
		return
	}
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		src, err := s.registry.Get(id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, src)
	case http.MethodDelete:
		if err := s.registry.Delete(r.Context(), id); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := s.registry.Stats()
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func decodeJSON(r *http.Request, out any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(out)
}

func parseIntQuery(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeAppError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		writeError(w, http.StatusBadRequest, validationErr.Error())
		return
	}
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	var stateErr *domain.InvalidStateError
	if errors.As(err, &stateErr) {
		writeError(w, http.StatusConflict, stateErr.Error())
		return
	}
	var genErr *chat.GenerationError
	if errors.As(err, &genErr) {
		writeError(w, http.StatusBadGateway, genErr.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}
