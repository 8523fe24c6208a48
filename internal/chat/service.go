// Package chat drives the send pipeline: optimistic store updates, the
// loading placeholder, reconciliation with the backend reply, and progress
// accounting. It also owns upload pre-flight checks and feedback capture.
package chat

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"layza/internal/recorder"
	"layza/internal/store"
	"layza/internal/tutorclient"
	"layza/pkg/domain"
	"layza/pkg/persona"
)

const (
	// DefaultMaxImageBytes caps image uploads at 5MB, checked before any
	// network call is made.
	DefaultMaxImageBytes int64 = 5 * 1024 * 1024

	// DefaultFeedbackThreshold is the message count after which a
	// conversation may be offered the star-rating prompt.
	DefaultFeedbackThreshold = 6

	audioMessageText    = "🎤 Áudio enviado"
	emptyReplyText      = "Desculpe, não consegui processar sua mensagem."
	audioAttachmentName = "gravacao.mp3"
)

var (
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrSendInFlight         = errors.New("a send is already in flight for this conversation")
	ErrImageTooLarge        = errors.New("image exceeds the 5MB limit")
	ErrUnsupportedFileType  = errors.New("only image files are accepted")
	ErrUploadFailed         = errors.New("upload failed")
	ErrInvalidRating        = errors.New("rating must be between 1 and 5")
	ErrEmptyClip            = errors.New("recorded clip is empty")
)

// SendResult reports one completed exchange.
type SendResult struct {
	UserMessage domain.Message
	Reply       domain.Message
	Answered    bool // false when the reply is the connectivity apology
}

// FeedbackOutcome reports a feedback submission plus Layza's thank-you line.
type FeedbackOutcome struct {
	Submitted       bool
	Message         string
	Acknowledgement string
}

// Service coordinates the store and the tutor backend for one client.
type Service struct {
	store *store.ChatStore
	api   *tutorclient.Client

	maxImageBytes     int64
	feedbackThreshold int

	mu       sync.Mutex
	inflight map[string]bool
}

// Option customizes a Service.
type Option func(*Service)

// WithMaxImageBytes overrides the image upload size cap.
func WithMaxImageBytes(n int64) Option {
	return func(s *Service) {
		s.maxImageBytes = n
	}
}

// WithFeedbackThreshold overrides the message count that unlocks the
// feedback prompt.
func WithFeedbackThreshold(n int) Option {
	return func(s *Service) {
		s.feedbackThreshold = n
	}
}

// NewService wires the chat pipeline.
func NewService(st *store.ChatStore, api *tutorclient.Client, options ...Option) *Service {
	s := &Service{
		store:             st,
		api:               api,
		maxImageBytes:     DefaultMaxImageBytes,
		feedbackThreshold: DefaultFeedbackThreshold,
		inflight:          make(map[string]bool),
	}
	for _, option := range options {
		if option != nil {
			option(s)
		}
	}
	return s
}

// Send runs one exchange on the active conversation: commit the user
// message, append a loading placeholder, ask the backend, then resolve the
// placeholder in place. A second send on the same conversation while one is
// outstanding is rejected rather than racing two placeholders.
func (s *Service) Send(text string, attachments []domain.Attachment) (SendResult, error) {
	conv, ok := s.store.ActiveConversation()
	if !ok {
		return SendResult{}, ErrNoActiveConversation
	}
	if !s.beginSend(conv.ID) {
		return SendResult{}, ErrSendInFlight
	}
	defer s.endSend(conv.ID)

	userMsg, ok := s.store.AddMessage(store.MessageDraft{
		Role:        domain.RoleUser,
		Content:     text,
		Attachments: attachments,
	})
	if !ok {
		return SendResult{}, ErrNoActiveConversation
	}
	placeholder, _ := s.store.AddMessage(store.MessageDraft{
		Role:      domain.RoleAssistant,
		Content:   persona.RandomLoadingMessage(),
		IsLoading: true,
	})

	reply := s.api.SendMessage(text, conv.Subject)
	content := reply.Response
	if strings.TrimSpace(content) == "" {
		content = emptyReplyText
	}
	loading := false
	s.store.UpdateMessage(placeholder.ID, store.MessageUpdate{
		Content:   &content,
		IsLoading: &loading,
	})

	answered := !reply.Degraded
	if answered {
		s.store.UpdateProgress(conv.Subject)
	}

	resolved, _ := s.messageByID(conv.ID, placeholder.ID)
	return SendResult{UserMessage: userMsg, Reply: resolved, Answered: answered}, nil
}

// UploadImage validates the file client-side, then forwards it. Oversized
// or non-image files are rejected before any network call.
func (s *Service) UploadImage(filename, contentType string, size int64, r io.Reader) (domain.Attachment, error) {
	if size > s.maxImageBytes {
		return domain.Attachment{}, ErrImageTooLarge
	}
	if !strings.HasPrefix(contentType, "image/") {
		return domain.Attachment{}, ErrUnsupportedFileType
	}
	res := s.api.UploadImage(filename, r)
	if res.Degraded {
		return domain.Attachment{}, ErrUploadFailed
	}
	return domain.Attachment{
		ID:       uuid.NewString(),
		Type:     domain.AttachmentImage,
		URL:      res.URL,
		Filename: filename,
	}, nil
}

// SendAudioClip uploads a recorded clip and sends the audio message
// through the normal pipeline.
func (s *Service) SendAudioClip(clip []byte) (SendResult, error) {
	if len(clip) == 0 {
		return SendResult{}, ErrEmptyClip
	}
	res := s.api.UploadAudio(bytes.NewReader(clip))
	if res.Degraded {
		return SendResult{}, ErrUploadFailed
	}
	return s.Send(audioMessageText, []domain.Attachment{{
		ID:       uuid.NewString(),
		Type:     domain.AttachmentAudio,
		URL:      res.URL,
		Filename: audioAttachmentName,
	}})
}

// CaptureAndSend records from the device until manual stop or the time
// limit, then uploads and sends the clip. The device is released on every
// exit path, including failed uploads.
func (s *Service) CaptureAndSend(device recorder.Device, limit time.Duration) (SendResult, error) {
	session := recorder.Start(device, limit)
	clip, err := session.Wait()
	if err != nil {
		return SendResult{}, err
	}
	return s.SendAudioClip(clip)
}

// ShouldOfferFeedback reports whether the conversation has crossed the
// message threshold and was not rated yet.
func (s *Service) ShouldOfferFeedback(conversationID string) bool {
	conv, ok := s.store.GetConversation(conversationID)
	if !ok {
		return false
	}
	return len(conv.Messages) >= s.feedbackThreshold && !s.store.FeedbackGiven(conversationID)
}

// SubmitFeedback sends a star rating and records the conversation as rated
// when the backend accepts it.
func (s *Service) SubmitFeedback(rating int, conversationID string) (FeedbackOutcome, error) {
	if rating < 1 || rating > 5 {
		return FeedbackOutcome{}, ErrInvalidRating
	}
	res := s.api.SendFeedback(rating, conversationID)
	if res.Success {
		s.store.MarkFeedbackGiven(conversationID)
	}
	return FeedbackOutcome{
		Submitted:       res.Success,
		Message:         res.Message,
		Acknowledgement: persona.StarFeedbackMessage(rating),
	}, nil
}

func (s *Service) beginSend(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[conversationID] {
		return false
	}
	s.inflight[conversationID] = true
	return true
}

func (s *Service) endSend(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, conversationID)
}

func (s *Service) messageByID(conversationID, messageID string) (domain.Message, bool) {
	conv, ok := s.store.GetConversation(conversationID)
	if !ok {
		return domain.Message{}, false
	}
	for _, msg := range conv.Messages {
		if msg.ID == messageID {
			return msg, true
		}
	}
	return domain.Message{}, false
}
