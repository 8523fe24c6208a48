package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"layza/internal/store"
	"layza/internal/tutorclient"
	"layza/pkg/domain"
)

// fakeBackend is a scripted tutor backend that counts calls per endpoint.
type fakeBackend struct {
	srv *httptest.Server

	mu          sync.Mutex
	chatCalls   int
	imageCalls  int
	audioCalls  int
	feedback    int
	chatFail    bool
	chatReply   string
	releaseChat chan struct{}
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{chatReply: "A resposta é 4"}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat":
			b.mu.Lock()
			b.chatCalls++
			fail := b.chatFail
			reply := b.chatReply
			release := b.releaseChat
			b.mu.Unlock()
			if release != nil {
				<-release
			}
			if fail {
				http.Error(w, `{"error":"down"}`, http.StatusBadGateway)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"response": reply})
		case "/upload-image":
			b.mu.Lock()
			b.imageCalls++
			b.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{"url": "https://files.example/img.png"})
		case "/upload-audio":
			b.mu.Lock()
			b.audioCalls++
			b.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{"url": "https://files.example/clip.mp3"})
		case "/feedback":
			b.mu.Lock()
			b.feedback++
			b.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) counts() (chat, image, audio, feedback int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chatCalls, b.imageCalls, b.audioCalls, b.feedback
}

func newTestService(t *testing.T, backend *fakeBackend, options ...Option) (*Service, *store.ChatStore) {
	t.Helper()
	st, err := store.New(nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return NewService(st, tutorclient.NewClient(backend.srv.URL), options...), st
}

func TestSendResolvesPlaceholderAndBumpsProgress(t *testing.T) {
	backend := newFakeBackend(t)
	svc, st := newTestService(t, backend)

	conv, err := st.StartConversation(domain.SubjectMath)
	if err != nil {
		t.Fatalf("start conversation: %v", err)
	}
	if len(conv.Messages) != 1 || conv.Messages[0].Role != domain.RoleAssistant {
		t.Fatalf("new conversation should open with one assistant welcome message")
	}

	res, err := svc.Send("2+2=?", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !res.Answered {
		t.Fatalf("successful exchange should count as answered")
	}
	if res.Reply.Content != "A resposta é 4" || res.Reply.IsLoading {
		t.Fatalf("placeholder not resolved: %+v", res.Reply)
	}

	got, _ := st.ActiveConversation()
	if len(got.Messages) != 3 {
		t.Fatalf("message count = %d, want 3 (welcome, user, reply)", len(got.Messages))
	}
	if got.Messages[1].Role != domain.RoleUser || got.Messages[1].Content != "2+2=?" {
		t.Fatalf("user message wrong: %+v", got.Messages[1])
	}
	record, ok := st.ProgressFor(domain.SubjectMath)
	if !ok || record.QuestionsAnswered != 1 {
		t.Fatalf("math progress = %+v, want 1 answered", record)
	}
}

func TestSendFailureUsesApologyAndSkipsProgress(t *testing.T) {
	backend := newFakeBackend(t)
	backend.chatFail = true
	svc, st := newTestService(t, backend)
	st.StartConversation(domain.SubjectScience)

	res, err := svc.Send("o que é célula?", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Answered {
		t.Fatalf("failed exchange must not count as answered")
	}
	if res.Reply.IsLoading {
		t.Fatalf("placeholder must be resolved even on failure")
	}
	if !strings.Contains(res.Reply.Content, "dificuldades para me conectar") {
		t.Fatalf("expected apology text, got %q", res.Reply.Content)
	}
	if _, ok := st.ProgressFor(domain.SubjectScience); ok {
		t.Fatalf("progress must not move on failure")
	}
}

func TestSendWithoutActiveConversation(t *testing.T) {
	backend := newFakeBackend(t)
	svc, _ := newTestService(t, backend)
	if _, err := svc.Send("oi", nil); err != ErrNoActiveConversation {
		t.Fatalf("expected ErrNoActiveConversation, got %v", err)
	}
	chat, _, _, _ := backend.counts()
	if chat != 0 {
		t.Fatalf("no backend call should be made without a conversation")
	}
}

func TestSecondSendWhileInFlightIsRejected(t *testing.T) {
	backend := newFakeBackend(t)
	backend.releaseChat = make(chan struct{})
	svc, st := newTestService(t, backend)
	st.StartConversation(domain.SubjectMath)

	firstDone := make(chan error, 1)
	go func() {
		_, err := svc.Send("primeira", nil)
		firstDone <- err
	}()

	// Wait for the first send to reach the backend.
	deadline := time.After(2 * time.Second)
	for {
		chat, _, _, _ := backend.counts()
		if chat == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("first send never reached the backend")
		case <-time.After(time.Millisecond):
		}
	}

	if _, err := svc.Send("segunda", nil); err != ErrSendInFlight {
		t.Fatalf("expected ErrSendInFlight, got %v", err)
	}

	close(backend.releaseChat)
	if err := <-firstDone; err != nil {
		t.Fatalf("first send: %v", err)
	}

	// Once resolved, the conversation accepts new sends again.
	backend.mu.Lock()
	backend.releaseChat = nil
	backend.mu.Unlock()
	if _, err := svc.Send("terceira", nil); err != nil {
		t.Fatalf("send after resolution: %v", err)
	}
}

func TestUploadImagePreflight(t *testing.T) {
	backend := newFakeBackend(t)
	svc, _ := newTestService(t, backend)

	if _, err := svc.UploadImage("grande.png", "image/png", 6*1024*1024, strings.NewReader("x")); err != ErrImageTooLarge {
		t.Fatalf("6MB file: err = %v, want ErrImageTooLarge", err)
	}
	if _, err := svc.UploadImage("nota.txt", "text/plain", 1024, strings.NewReader("x")); err != ErrUnsupportedFileType {
		t.Fatalf("text file: err = %v, want ErrUnsupportedFileType", err)
	}
	_, image, _, _ := backend.counts()
	if image != 0 {
		t.Fatalf("rejected files must never reach the upload endpoint, got %d calls", image)
	}

	att, err := svc.UploadImage("foto.png", "image/png", 1024*1024, strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatalf("valid upload: %v", err)
	}
	if att.Type != domain.AttachmentImage || att.URL == "" || att.Filename != "foto.png" {
		t.Fatalf("attachment = %+v", att)
	}
	_, image, _, _ = backend.counts()
	if image != 1 {
		t.Fatalf("valid file should trigger exactly one upload, got %d", image)
	}
}

func TestCaptureAndSendUploadsOnceOnTimeout(t *testing.T) {
	backend := newFakeBackend(t)
	svc, st := newTestService(t, backend)
	st.StartConversation(domain.SubjectPortuguese)

	device := newBlockedDevice([]byte("clip-bytes"))
	res, err := svc.CaptureAndSend(device, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("capture and send: %v", err)
	}
	_, _, audio, _ := backend.counts()
	if audio != 1 {
		t.Fatalf("expected exactly one audio upload, got %d", audio)
	}
	if n := atomic.LoadInt32(&device.closeCount); n != 1 {
		t.Fatalf("capture device closed %d times, want exactly 1", n)
	}
	if res.UserMessage.Content != "🎤 Áudio enviado" {
		t.Fatalf("audio message content = %q", res.UserMessage.Content)
	}
	if len(res.UserMessage.Attachments) != 1 || res.UserMessage.Attachments[0].Type != domain.AttachmentAudio {
		t.Fatalf("audio attachment missing: %+v", res.UserMessage.Attachments)
	}
}

func TestFeedbackThresholdAndSubmission(t *testing.T) {
	backend := newFakeBackend(t)
	svc, st := newTestService(t, backend, WithFeedbackThreshold(3))
	conv, _ := st.StartConversation(domain.SubjectMath)

	if svc.ShouldOfferFeedback(conv.ID) {
		t.Fatalf("feedback offered before threshold")
	}
	svc.Send("uma", nil) // welcome + user + reply = 3 messages
	if !svc.ShouldOfferFeedback(conv.ID) {
		t.Fatalf("feedback should be offered at threshold")
	}

	out, err := svc.SubmitFeedback(5, conv.ID)
	if err != nil {
		t.Fatalf("submit feedback: %v", err)
	}
	if !out.Submitted || !strings.Contains(out.Acknowledgement, "5 ESTRELAS") {
		t.Fatalf("feedback outcome = %+v", out)
	}
	if svc.ShouldOfferFeedback(conv.ID) {
		t.Fatalf("rated conversation must not be re-prompted")
	}

	if _, err := svc.SubmitFeedback(9, conv.ID); err != ErrInvalidRating {
		t.Fatalf("rating 9: err = %v, want ErrInvalidRating", err)
	}
}

var errMicClosed = errors.New("microphone closed")

// blockedDevice serves one chunk then blocks until closed.
type blockedDevice struct {
	mu         sync.Mutex
	chunk      []byte
	closed     chan struct{}
	closeCount int32
}

func newBlockedDevice(chunk []byte) *blockedDevice {
	return &blockedDevice{chunk: chunk, closed: make(chan struct{})}
}

func (d *blockedDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	if len(d.chunk) > 0 {
		n := copy(p, d.chunk)
		d.chunk = nil
		d.mu.Unlock()
		return n, nil
	}
	d.mu.Unlock()
	<-d.closed
	return 0, errMicClosed
}

func (d *blockedDevice) Close() error {
	if atomic.AddInt32(&d.closeCount, 1) == 1 {
		close(d.closed)
	}
	return nil
}
