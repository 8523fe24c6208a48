package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"layza/internal/chat"
	"layza/internal/ratelimit"
	"layza/internal/recorder"
	"layza/internal/store"
	"layza/internal/tutorclient"
	"layza/internal/util"
	"layza/pkg/domain"
	"layza/pkg/persona"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	Store *store.ChatStore
	Chat  *chat.Service
	API   *tutorclient.Client

	// RecordingLimit caps voice clips; the home payload advertises it so
	// clients stop the microphone in time. Zero means the default cap.
	RecordingLimit time.Duration

	// ChatLimiter throttles sends per client IP. Nil disables limiting.
	ChatLimiter *ratelimit.FixedWindowLimiter
}

// Server exposes the study client over HTTP: conversations, the send
// pipeline, uploads, exam papers, recommendations, feedback and the
// student profile.
type Server struct {
	store          *store.ChatStore
	chat           *chat.Service
	api            *tutorclient.Client
	mux            *http.ServeMux
	now            func() time.Time
	recordingLimit time.Duration
	chatLimiter    *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	recordingLimit := cfg.RecordingLimit
	if recordingLimit <= 0 {
		recordingLimit = recorder.DefaultLimit
	}
	s := &Server{
		store:          cfg.Store,
		chat:           cfg.Chat,
		api:            cfg.API,
		mux:            http.NewServeMux(),
		now:            time.Now,
		recordingLimit: recordingLimit,
		chatLimiter:    cfg.ChatLimiter,
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("layza", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.HandleFunc("/api/conversations", s.handleConversations)
	s.mux.HandleFunc("/api/conversations/", s.handleConversationByID)
	s.mux.HandleFunc("/api/chat", s.handleChat)
	s.mux.HandleFunc("/api/uploads/image", s.handleUploadImage)
	s.mux.HandleFunc("/api/uploads/audio", s.handleUploadAudio)
	s.mux.HandleFunc("/api/exam-papers", s.handleExamPapers)
	s.mux.HandleFunc("/api/recommendations", s.handleRecommendations)
	s.mux.HandleFunc("/api/feedback", s.handleFeedback)
	s.mux.HandleFunc("/api/profile", s.handleProfile)

	// Navigation surface. "/" doubles as the catch-all.
	s.mux.HandleFunc("/", s.handleNavigation)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		items := s.store.Conversations()
		active := ""
		if conv, ok := s.store.ActiveConversation(); ok {
			active = conv.ID
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items":                items,
			"count":                len(items),
			"activeConversationId": active,
		})
	case http.MethodPost:
		var req struct {
			Subject string `json:"subject"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		subject, ok := domain.ParseSubject(req.Subject)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid subject")
			return
		}
		conv, err := s.store.StartConversation(subject)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, conv)
	default:
		methodNotAllowed(w)
	}
}

// /api/conversations/{id} or /api/conversations/{id}/activate
func (s *Server) handleConversationByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}

	if len(parts) == 2 && parts[1] == "activate" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if _, ok := s.store.GetConversation(id); !ok {
			notFound(w, "conversation not found")
			return
		}
		s.store.SetActiveConversation(id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "activated"})
		return
	}
	if len(parts) == 2 {
		notFound(w, "not found")
		return
	}

	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	conv, ok := s.store.GetConversation(id)
	if !ok {
		notFound(w, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.chatLimiter.Allow(util.ClientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "too many messages, slow down")
		return
	}
	var req struct {
		Message     string              `json:"message"`
		Attachments []domain.Attachment `json:"attachments"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.chat.Send(req.Message, req.Attachments)
	switch {
	case errors.Is(err, chat.ErrNoActiveConversation):
		writeError(w, http.StatusBadRequest, "no active conversation")
		return
	case errors.Is(err, chat.ErrSendInFlight):
		writeError(w, http.StatusConflict, "a message is already being answered")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userMessage": res.UserMessage,
		"reply":       res.Reply,
		"answered":    res.Answered,
	})
}

func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: image)")
		return
	}
	defer file.Close()

	att, err := s.chat.UploadImage(header.Filename, header.Header.Get("Content-Type"), header.Size, file)
	switch {
	case errors.Is(err, chat.ErrImageTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	case errors.Is(err, chat.ErrUnsupportedFileType):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, chat.ErrUploadFailed):
		writeError(w, http.StatusBadGateway, "upload failed")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, att)
}

// handleUploadAudio receives a finished voice clip and runs it through
// the chat pipeline as an audio message.
func (s *Server) handleUploadAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.chatLimiter.Allow(util.ClientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "too many messages, slow down")
		return
	}
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, _, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: audio)")
		return
	}
	defer file.Close()
	clip, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid audio clip")
		return
	}

	res, err := s.chat.SendAudioClip(clip)
	switch {
	case errors.Is(err, chat.ErrEmptyClip):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, chat.ErrNoActiveConversation):
		writeError(w, http.StatusBadRequest, "no active conversation")
		return
	case errors.Is(err, chat.ErrSendInFlight):
		writeError(w, http.StatusConflict, "a message is already being answered")
		return
	case errors.Is(err, chat.ErrUploadFailed):
		writeError(w, http.StatusBadGateway, "upload failed")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userMessage": res.UserMessage,
		"reply":       res.Reply,
		"answered":    res.Answered,
	})
}

func (s *Server) handleExamPapers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	var (
		bySubject domain.Subject
		byYear    int
	)
	if raw := strings.TrimSpace(r.URL.Query().Get("subject")); raw != "" {
		subject, ok := domain.ParseSubject(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid subject")
			return
		}
		bySubject = subject
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("year")); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid year")
			return
		}
		byYear = year
	}

	res := s.api.GetExamPapers()
	papers := res.Papers
	if bySubject != "" || byYear != 0 {
		filtered := make([]domain.ExamPaper, 0, len(papers))
		for _, p := range papers {
			if bySubject != "" && !p.Covers(bySubject) {
				continue
			}
			if byYear != 0 && p.Year != byYear {
				continue
			}
			filtered = append(filtered, p)
		}
		papers = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":    papers,
		"count":    len(papers),
		"degraded": res.Degraded,
	})
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	res := s.api.GetYoutubeRecommendations(r.URL.Query().Get("query"))
	writeJSON(w, http.StatusOK, map[string]any{
		"items":    res.Items,
		"count":    len(res.Items),
		"degraded": res.Degraded,
	})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Rating         int    `json:"rating"`
		ConversationID string `json:"conversationId"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	out, err := s.chat.SubmitFeedback(req.Rating, req.ConversationID)
	if errors.Is(err, chat.ErrInvalidRating) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"submitted":       out.Submitted,
		"message":         out.Message,
		"acknowledgement": out.Acknowledgement,
	})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	type subjectProgress struct {
		Subject           domain.Subject `json:"subject"`
		Name              string         `json:"name"`
		Emoji             string         `json:"emoji"`
		QuestionsAnswered int            `json:"questionsAnswered"`
		LastActive        *time.Time     `json:"lastActive,omitempty"`
	}
	items := make([]subjectProgress, 0, len(domain.Subjects()))
	for _, subject := range domain.Subjects() {
		item := subjectProgress{
			Subject: subject,
			Name:    persona.SubjectName(subject),
			Emoji:   persona.SubjectEmoji(subject),
		}
		if record, ok := s.store.ProgressFor(subject); ok {
			item.QuestionsAnswered = record.QuestionsAnswered
			last := record.LastActive
			item.LastActive = &last
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"greeting": persona.Greeting(s.now()),
		"subjects": items,
	})
}

// Navigation mirrors the study app's routes. Unknown paths and invalid
// subject segments land back on the home screen.
func (s *Server) handleNavigation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	switch {
	case r.URL.Path == "/":
		writeJSON(w, http.StatusOK, map[string]any{
			"view":                  "home",
			"greeting":              persona.Greeting(s.now()),
			"subjects":              domain.Subjects(),
			"recordingLimitSeconds": int(s.recordingLimit / time.Second),
		})
	case r.URL.Path == "/exams":
		writeJSON(w, http.StatusOK, map[string]string{"view": "exams"})
	case r.URL.Path == "/profile":
		writeJSON(w, http.StatusOK, map[string]string{"view": "profile"})
	case strings.HasPrefix(r.URL.Path, "/chat/"):
		raw := strings.TrimPrefix(r.URL.Path, "/chat/")
		subject, ok := domain.ParseSubject(raw)
		if !ok {
			redirectHome(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"view":    "chat",
			"subject": subject,
			"welcome": persona.WelcomeText(subject, s.now()),
		})
	default:
		redirectHome(w, r)
	}
}

func redirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusFound)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}
