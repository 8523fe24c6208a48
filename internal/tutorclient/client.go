// Package tutorclient calls the tutor backend over HTTP. Every method is a
// total function: transport failures never escape as errors, they come back
// as typed fallback values the UI can render directly.
package tutorclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"layza/pkg/domain"
)

const (
	chatFallbackText     = "Ops, parece que estou tendo dificuldades para me conectar agora. 😅 Você pode tentar novamente daqui a pouco?"
	imageFallbackText    = "Falha ao enviar imagem. Por favor, tente novamente."
	audioFallbackText    = "Falha ao enviar áudio. Por favor, tente novamente."
	feedbackFallbackText = "Falha ao enviar feedback. Por favor, tente novamente."
)

// ChatReply is the outcome of a chat send. Degraded marks the fixed
// fallback text returned when the backend was unreachable.
type ChatReply struct {
	Response string
	Degraded bool
}

// UploadResult is the outcome of an image or audio upload.
type UploadResult struct {
	URL      string
	Message  string
	Degraded bool
}

// ExamPapersResult lists exam papers; Degraded separates "service down"
// from a confirmed empty list.
type ExamPapersResult struct {
	Papers   []domain.ExamPaper
	Degraded bool
}

// RecommendationsResult lists study videos; on failure Items holds a fixed
// placeholder set and Degraded is true.
type RecommendationsResult struct {
	Items    []domain.YoutubeRecommendation
	Degraded bool
}

// FeedbackResult is the outcome of a feedback submission.
type FeedbackResult struct {
	Success  bool
	Message  string
	Degraded bool
}

// Client calls the tutor backend /api surface.
type Client struct {
	baseURL    string
	httpClient *http.Client
	papers     singleflight.Group
}

// NewClient constructs a tutor backend client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SendMessage posts the student's text for a subject and returns the
// assistant reply, or the fixed apology on any transport failure.
func (c *Client) SendMessage(text string, subject domain.Subject) ChatReply {
	payload := map[string]string{
		"message": text,
		"subject": string(subject),
	}
	var out struct {
		Response string `json:"response"`
	}
	if err := c.postJSON("/chat", payload, &out); err != nil {
		slog.Warn("chat send failed, using fallback", "err", err)
		return ChatReply{Response: chatFallbackText, Degraded: true}
	}
	return ChatReply{Response: out.Response}
}

// UploadImage sends an image as multipart form data. Size and MIME-type
// pre-flight checks are the caller's job; the gateway does not revalidate.
func (c *Client) UploadImage(filename string, r io.Reader) UploadResult {
	return c.upload("/upload-image", "image", filename, r, imageFallbackText)
}

// UploadAudio sends a recorded clip as multipart form data.
func (c *Client) UploadAudio(r io.Reader) UploadResult {
	return c.upload("/upload-audio", "audio", "audio.mp3", r, audioFallbackText)
}

func (c *Client) upload(path, field, filename string, r io.Reader, fallback string) UploadResult {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, filename)
	if err == nil {
		_, err = io.Copy(part, r)
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		slog.Warn("upload failed, using fallback", "path", path, "err", err)
		return UploadResult{Message: fallback, Degraded: true}
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return UploadResult{Message: fallback, Degraded: true}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		URL string `json:"url"`
	}
	if err := c.do(req, &out); err != nil {
		slog.Warn("upload failed, using fallback", "path", path, "err", err)
		return UploadResult{Message: fallback, Degraded: true}
	}
	return UploadResult{URL: out.URL}
}

// GetExamPapers fetches the exam paper catalog. Failures yield an empty,
// degraded list so callers render it like the zero-results case. Concurrent
// fetches are collapsed into one backend request.
func (c *Client) GetExamPapers() ExamPapersResult {
	v, err, _ := c.papers.Do("exam-papers", func() (any, error) {
		var papers []domain.ExamPaper
		if err := c.getJSON("/exam-papers", nil, &papers); err != nil {
			return nil, err
		}
		return papers, nil
	})
	if err != nil {
		slog.Warn("exam papers fetch failed, using fallback", "err", err)
		return ExamPapersResult{Papers: []domain.ExamPaper{}, Degraded: true}
	}
	papers := v.([]domain.ExamPaper)
	if papers == nil {
		papers = []domain.ExamPaper{}
	}
	return ExamPapersResult{Papers: papers}
}

// GetYoutubeRecommendations fetches study video suggestions for a query.
// On failure it returns a small fixed placeholder set, never an empty list.
func (c *Client) GetYoutubeRecommendations(query string) RecommendationsResult {
	var items []domain.YoutubeRecommendation
	if err := c.getJSON("/youtube-recommendations", url.Values{"query": {query}}, &items); err != nil {
		slog.Warn("recommendations fetch failed, using fallback", "err", err)
		return RecommendationsResult{Items: placeholderRecommendations(), Degraded: true}
	}
	if items == nil {
		items = []domain.YoutubeRecommendation{}
	}
	return RecommendationsResult{Items: items}
}

// SendFeedback posts a star rating for a conversation.
func (c *Client) SendFeedback(rating int, conversationID string) FeedbackResult {
	payload := map[string]any{
		"rating":         rating,
		"conversationId": conversationID,
	}
	var out struct {
		Success bool `json:"success"`
	}
	if err := c.postJSON("/feedback", payload, &out); err != nil {
		slog.Warn("feedback send failed, using fallback", "err", err)
		return FeedbackResult{Success: false, Message: feedbackFallbackText, Degraded: true}
	}
	return FeedbackResult{Success: out.Success}
}

func (c *Client) postJSON(path string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("backend responded %d: %s", resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func placeholderRecommendations() []domain.YoutubeRecommendation {
	return []domain.YoutubeRecommendation{
		{
			ID:           "1",
			Title:        "Dica de Matemática para o ENEM - Professor Ferretto",
			URL:          "https://www.youtube.com/watch?v=example1",
			ThumbnailURL: "https://via.placeholder.com/320x180.png?text=Aula+de+Matematica",
		},
		{
			ID:           "2",
			Title:        "Português para o ENEM - Brasil Escola",
			URL:          "https://www.youtube.com/watch?v=example2",
			ThumbnailURL: "https://via.placeholder.com/320x180.png?text=Aula+de+Portugues",
		},
	}
}
