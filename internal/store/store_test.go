package store

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"layza/pkg/domain"
)

func newTestStore(t *testing.T, options ...Option) *ChatStore {
	t.Helper()
	s, err := New(nil, options...)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestStartConversationInsertsWelcomeMessage(t *testing.T) {
	s := newTestStore(t)
	conv, err := s.StartConversation(domain.SubjectMath)
	if err != nil {
		t.Fatalf("start conversation: %v", err)
	}
	if len(conv.Messages) != 1 {
		t.Fatalf("expected exactly one welcome message, got %d", len(conv.Messages))
	}
	welcome := conv.Messages[0]
	if welcome.Role != domain.RoleAssistant {
		t.Fatalf("welcome role = %q, want assistant", welcome.Role)
	}
	if !strings.Contains(welcome.Content, "Matemática") {
		t.Fatalf("welcome content missing subject name: %q", welcome.Content)
	}
	active, ok := s.ActiveConversation()
	if !ok || active.ID != conv.ID {
		t.Fatalf("new conversation should be active")
	}
}

func TestStartConversationRejectsInvalidSubject(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.StartConversation(domain.Subject("history")); err != ErrInvalidSubject {
		t.Fatalf("expected ErrInvalidSubject, got %v", err)
	}
	if got := len(s.Conversations()); got != 0 {
		t.Fatalf("rejected start should not create conversations, got %d", got)
	}
}

func TestStartConversationOrdersMostRecentFirst(t *testing.T) {
	s := newTestStore(t)
	first, _ := s.StartConversation(domain.SubjectMath)
	second, _ := s.StartConversation(domain.SubjectScience)
	list := s.Conversations()
	if len(list) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("conversations not ordered most-recent-first")
	}
}

func TestAddMessageAppendOnlyOrdering(t *testing.T) {
	now := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	s := newTestStore(t, WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	conv, _ := s.StartConversation(domain.SubjectMath)

	var wantOrder []string
	prevUpdated := conv.UpdatedAt
	for i := 0; i < 5; i++ {
		msg, ok := s.AddMessage(MessageDraft{Role: domain.RoleUser, Content: fmt.Sprintf("pergunta %d", i)})
		if !ok {
			t.Fatalf("add message %d failed", i)
		}
		wantOrder = append(wantOrder, msg.ID)
		got, _ := s.ActiveConversation()
		if got.UpdatedAt.Before(prevUpdated) {
			t.Fatalf("updatedAt went backwards: %v < %v", got.UpdatedAt, prevUpdated)
		}
		prevUpdated = got.UpdatedAt
	}

	got, _ := s.ActiveConversation()
	gotOrder := make([]string, 0, len(got.Messages)-1)
	for _, msg := range got.Messages[1:] { // skip welcome
		gotOrder = append(gotOrder, msg.ID)
	}
	if !reflect.DeepEqual(gotOrder, wantOrder) {
		t.Fatalf("message order %v, want call order %v", gotOrder, wantOrder)
	}
}

func TestUpdateMessageResolvesPlaceholderOnly(t *testing.T) {
	s := newTestStore(t)
	s.StartConversation(domain.SubjectMath)
	userMsg, _ := s.AddMessage(MessageDraft{Role: domain.RoleUser, Content: "2+2=?"})
	placeholder, _ := s.AddMessage(MessageDraft{
		Role:      domain.RoleAssistant,
		Content:   "Estou pensando... ⏳",
		IsLoading: true,
	})

	content := "A resposta é 4"
	loading := false
	if !s.UpdateMessage(placeholder.ID, MessageUpdate{Content: &content, IsLoading: &loading}) {
		t.Fatalf("update should find the placeholder")
	}

	conv, _ := s.ActiveConversation()
	for _, msg := range conv.Messages {
		switch msg.ID {
		case placeholder.ID:
			if msg.Content != content || msg.IsLoading {
				t.Fatalf("placeholder not resolved: %+v", msg)
			}
			if msg.Role != domain.RoleAssistant || !msg.Timestamp.Equal(placeholder.Timestamp) {
				t.Fatalf("update must not touch role or timestamp")
			}
		case userMsg.ID:
			if msg.Content != "2+2=?" {
				t.Fatalf("sibling message was altered: %+v", msg)
			}
		}
	}
}

func TestMutationsAreNoOpsWithoutTarget(t *testing.T) {
	s := newTestStore(t)
	s.StartConversation(domain.SubjectScience)

	before := s.Conversations()
	content := "x"
	if s.UpdateMessage("missing-id", MessageUpdate{Content: &content}) {
		t.Fatalf("update of unknown message should report false")
	}
	if !reflect.DeepEqual(before, s.Conversations()) {
		t.Fatalf("failed update must leave state unchanged")
	}

	s.SetActiveConversation("")
	if _, ok := s.AddMessage(MessageDraft{Role: domain.RoleUser, Content: "oi"}); ok {
		t.Fatalf("add without active conversation should report false")
	}
	if !reflect.DeepEqual(before, s.Conversations()) {
		t.Fatalf("no-op add must leave state unchanged")
	}

	// A dangling active id behaves like no active conversation.
	s.SetActiveConversation("does-not-exist")
	if _, ok := s.ActiveConversation(); ok {
		t.Fatalf("dangling active id should not resolve")
	}
	if _, ok := s.AddMessage(MessageDraft{Role: domain.RoleUser, Content: "oi"}); ok {
		t.Fatalf("add with dangling active id should report false")
	}
}

func TestProgressMonotonicityAndOverride(t *testing.T) {
	s := newTestStore(t)
	for i := 1; i <= 3; i++ {
		record := s.UpdateProgress(domain.SubjectMath)
		if record.QuestionsAnswered != i {
			t.Fatalf("after %d increments counter = %d", i, record.QuestionsAnswered)
		}
	}
	if record := s.SetProgress(domain.SubjectMath, 42); record.QuestionsAnswered != 42 {
		t.Fatalf("explicit set = %d, want 42", record.QuestionsAnswered)
	}
	if record := s.UpdateProgress(domain.SubjectMath); record.QuestionsAnswered != 43 {
		t.Fatalf("increment after set = %d, want 43", record.QuestionsAnswered)
	}

	// First touch of a new subject creates the record at 1.
	if record := s.UpdateProgress(domain.SubjectScience); record.QuestionsAnswered != 1 {
		t.Fatalf("fresh record = %d, want 1", record.QuestionsAnswered)
	}
	if got := len(s.Progress()); got != 2 {
		t.Fatalf("expected one record per subject, got %d", got)
	}
}

func TestFeedbackGivenSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	snap, err := NewFileSnapshotter(path)
	if err != nil {
		t.Fatalf("new snapshotter: %v", err)
	}
	s, err := New(snap)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	conv, _ := s.StartConversation(domain.SubjectPortuguese)
	s.MarkFeedbackGiven(conv.ID)

	reopened, err := New(snap)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	if !reopened.FeedbackGiven(conv.ID) {
		t.Fatalf("feedback marker should survive rehydration")
	}
}

func TestSnapshotRoundTripRehydratesState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	snap, err := NewFileSnapshotter(path)
	if err != nil {
		t.Fatalf("new snapshotter: %v", err)
	}
	s, err := New(snap)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	conv, _ := s.StartConversation(domain.SubjectMath)
	s.AddMessage(MessageDraft{Role: domain.RoleUser, Content: "oi"})
	s.UpdateProgress(domain.SubjectMath)

	reopened, err := New(snap)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	got, ok := reopened.ActiveConversation()
	if !ok || got.ID != conv.ID {
		t.Fatalf("active conversation lost across restart")
	}
	if len(got.Messages) != 2 {
		t.Fatalf("expected 2 messages after restart, got %d", len(got.Messages))
	}
	record, ok := reopened.ProgressFor(domain.SubjectMath)
	if !ok || record.QuestionsAnswered != 1 {
		t.Fatalf("progress lost across restart: %+v", record)
	}
}

func TestDecodeSnapshotMigratesUnversionedPayload(t *testing.T) {
	legacy := []byte(`{
		"conversations": [{"id":"c1","subject":"math","title":"Nova conversa - 10/03/2025","messages":[],"createdAt":"2025-03-10T10:00:00Z","updatedAt":"2025-03-10T10:00:00Z"}],
		"activeConversationId": "c1",
		"studentProgress": [{"subject":"math","questionsAnswered":3,"lastActive":"2025-03-10T10:00:00Z"}]
	}`)
	snap, err := DecodeSnapshot(legacy)
	if err != nil {
		t.Fatalf("decode legacy snapshot: %v", err)
	}
	if snap.Version != SnapshotVersion {
		t.Fatalf("migrated version = %d, want %d", snap.Version, SnapshotVersion)
	}
	if snap.ActiveConversationID != "c1" || len(snap.Conversations) != 1 {
		t.Fatalf("legacy fields lost in migration: %+v", snap)
	}
}

func TestDecodeSnapshotRejectsNewerVersion(t *testing.T) {
	if _, err := DecodeSnapshot([]byte(`{"version": 99}`)); err == nil {
		t.Fatalf("expected error for snapshot from a newer schema")
	}
}

func TestFileSnapshotterMissingFileMeansEmpty(t *testing.T) {
	snap, err := NewFileSnapshotter(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("new snapshotter: %v", err)
	}
	_, found, err := snap.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if found {
		t.Fatalf("missing file should report not found")
	}
}

func TestFileSnapshotterWritesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	snap, err := NewFileSnapshotter(path)
	if err != nil {
		t.Fatalf("new snapshotter: %v", err)
	}
	if err := snap.Save(Snapshot{ActiveConversationID: "c1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file should not linger after save")
	}
}
