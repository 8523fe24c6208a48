package devbackend

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"layza/internal/objstore"
	"layza/internal/util"
	"layza/pkg/domain"
)

// Config wires required dependencies for the dev backend.
type Config struct {
	Store          objstore.ObjectStore
	UploadsDir     string // when set, serves stored files under /uploads/
	MaxUploadBytes int64
}

// Server is a stand-in tutor backend for local development. It answers
// every chat message with a canned Socratic reply in Layza's voice and
// stores uploads through the configured object store.
type Server struct {
	store          objstore.ObjectStore
	uploadsDir     string
	mux            *http.ServeMux
	maxUploadBytes int64
	pick           func(n int) int
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 * 1024 * 1024
	}
	s := &Server{
		store:          cfg.Store,
		uploadsDir:     cfg.UploadsDir,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
		pick:           rand.IntN,
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("devbackend", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/chat", s.handleChat)
	s.mux.HandleFunc("/api/upload-image", s.handleUploadImage)
	s.mux.HandleFunc("/api/upload-audio", s.handleUploadAudio)
	s.mux.HandleFunc("/api/exam-papers", s.handleExamPapers)
	s.mux.HandleFunc("/api/youtube-recommendations", s.handleRecommendations)
	s.mux.HandleFunc("/api/feedback", s.handleFeedback)
	if s.uploadsDir != "" {
		s.mux.Handle("/uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(s.uploadsDir))))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Canned tutor replies per subject. The tone mirrors the production
// tutor: never gives the answer away, always asks back.
var subjectReplies = map[domain.Subject][]string{
	domain.SubjectMath: {
		"Hmm, vamos pensar juntas nessa questão de matemática! 🤔 O que você já sabe sobre esse problema? Tente me dizer que informações você já identificou.",
		"Que legal essa questão de matemática! 😊 Vamos por partes... Você consegue identificar qual é a fórmula que precisamos usar aqui?",
		"Opa! Adoro problemas de matemática! 🧮 Me diz, qual parte está te deixando confusa? Vamos resolver isso juntas!",
		"NOSSA, que desafio interessante! 🌟 Antes de darmos a resposta, o que aconteceria se a gente isolasse essa variável? Tenta fazer isso!",
	},
	domain.SubjectScience: {
		"Hmm, interessante essa questão de ciências! 🧪 Você já parou pra pensar sobre qual conceito principal está sendo avaliado aqui?",
		"Adoro ciências! 😊 Vamos analisar esse problema... Você consegue identificar as variáveis envolvidas nesse experimento?",
		"Essa questão de ciências é SUPER legal! 🔬 Antes de resolvermos, o que você acha que esse fenômeno demonstra? Me conta!",
		"Vamos explorar esse problema científico juntas! ⚗️ Quais conceitos você acha que precisamos aplicar aqui?",
	},
	domain.SubjectPortuguese: {
		"Ótima questão de português! 📚 O que você entendeu do texto? Tenta me explicar com suas palavras!",
		"Vamos analisar esse texto juntas! 🔍 Qual é a ideia principal que você conseguiu identificar?",
		"Hmm, interessante! 😊 Você consegue identificar qual figura de linguagem está sendo usada nesse trecho?",
		"ADOREI essa questão de português! 💖 Antes de respondermos, pensa comigo: qual é a intenção do autor nesse parágrafo?",
	},
}

var defaultReplies = []string{
	"Oi! Tudo bem? 😊 Como posso te ajudar hoje?",
	"Que legal sua pergunta! Vamos explorar esse assunto juntas! 🌟",
	"Hmm, deixa eu pensar sobre isso... 🤔 Me conta mais detalhes!",
	"Opa! Estou aqui pra te ajudar! 💪 Vamos resolver isso juntas!",
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Message string `json:"message"`
		Subject string `json:"subject"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	replies := defaultReplies
	if subject, ok := domain.ParseSubject(req.Subject); ok {
		replies = subjectReplies[subject]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"response": replies[s.pick(len(replies))],
		"error":    false,
	})
}

func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, "image", "images")
}

func (s *Server) handleUploadAudio(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, "audio", "audio")
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, field, category string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("file is required (field: %s)", field))
		return
	}
	defer file.Close()

	key := category + "/" + uuid.NewString() + strings.ToLower(path.Ext(header.Filename))
	url, err := s.store.Put(r.Context(), key, file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		slog.Error("store upload", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":   url,
		"error": false,
	})
}

// ENEM papers from 2019 on: day 1 carries languages, day 2 carries math
// and natural sciences.
func examPapers() []domain.ExamPaper {
	years := []int{2019, 2020, 2021, 2022, 2023, 2024}
	papers := make([]domain.ExamPaper, 0, len(years)*2)
	for _, year := range years {
		papers = append(papers, domain.ExamPaper{
			ID:         fmt.Sprintf("%d-1-azul", year),
			Year:       year,
			Day:        1,
			Color:      "azul",
			Subjects:   []domain.Subject{domain.SubjectPortuguese},
			FileURL:    "#",
			AnswersURL: "#",
		}, domain.ExamPaper{
			ID:         fmt.Sprintf("%d-2-azul", year),
			Year:       year,
			Day:        2,
			Color:      "azul",
			Subjects:   []domain.Subject{domain.SubjectMath, domain.SubjectScience},
			FileURL:    "#",
			AnswersURL: "#",
		})
	}
	return papers
}

func (s *Server) handleExamPapers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	papers := examPapers()
	if raw := strings.TrimSpace(r.URL.Query().Get("subject")); raw != "" {
		subject, ok := domain.ParseSubject(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid subject")
			return
		}
		filtered := papers[:0]
		for _, p := range papers {
			if p.Covers(subject) {
				filtered = append(filtered, p)
			}
		}
		papers = filtered
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("year")); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid year")
			return
		}
		filtered := papers[:0]
		for _, p := range papers {
			if p.Year == year {
				filtered = append(filtered, p)
			}
		}
		papers = filtered
	}
	writeJSON(w, http.StatusOK, papers)
}

var videoPool = []domain.YoutubeRecommendation{
	{
		ID:           "1",
		Title:        "Função Exponencial - Aula Completa para o ENEM",
		URL:          "https://www.youtube.com/watch?v=example1",
		ThumbnailURL: "https://via.placeholder.com/320x180.png?text=Funcao+Exponencial",
	},
	{
		ID:           "2",
		Title:        "Equações do 2° Grau - Professor Ferretto",
		URL:          "https://www.youtube.com/watch?v=example2",
		ThumbnailURL: "https://via.placeholder.com/320x180.png?text=Equacoes+2+Grau",
	},
	{
		ID:           "3",
		Title:        "5 Dicas Incríveis para Redação ENEM 2024",
		URL:          "https://www.youtube.com/watch?v=example3",
		ThumbnailURL: "https://via.placeholder.com/320x180.png?text=Dicas+Redacao",
	},
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	// 1 to 3 videos, most recent first within the pool.
	n := 1 + s.pick(len(videoPool))
	writeJSON(w, http.StatusOK, videoPool[:n])
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
	slog.Info("feedback received", "rating", req.Rating, "conversation_id", req.ConversationID)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Feedback recebido com sucesso!",
	})
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
