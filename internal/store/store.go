// Package store holds the authoritative chat state: every conversation,
// the active-conversation pointer, and per-subject progress. All mutation
// goes through ChatStore methods; each one is a single atomic transition
// followed by a durable snapshot write.
package store

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"layza/internal/util"
	"layza/pkg/domain"
	"layza/pkg/persona"
)

// ErrInvalidSubject is returned when a conversation is started with a
// subject outside the closed set.
var ErrInvalidSubject = errors.New("invalid subject")

// MessageDraft is the caller-supplied part of a new message. ID and
// timestamp are assigned by the store.
type MessageDraft struct {
	Role        domain.MessageRole
	Content     string
	Attachments []domain.Attachment
	IsLoading   bool
}

// MessageUpdate merges into an existing message. Nil fields are left
// untouched; a non-nil Attachments replaces the attachment list.
type MessageUpdate struct {
	Content     *string
	IsLoading   *bool
	Attachments []domain.Attachment
}

// ChatStore is the persisted state container. Lookups that miss degrade to
// no-ops; the bool results let callers tell "applied" from "ignored".
type ChatStore struct {
	mu            sync.RWMutex
	conversations []domain.Conversation
	activeID      string
	progress      []domain.StudentProgress
	feedbackGiven map[string]bool

	snap Snapshotter
	now  func() time.Time
}

// Option customizes a ChatStore.
type Option func(*ChatStore)

// WithClock overrides the time source (used by tests).
func WithClock(now func() time.Time) Option {
	return func(s *ChatStore) {
		s.now = now
	}
}

// New builds a ChatStore, rehydrating state from the snapshotter.
func New(snap Snapshotter, options ...Option) (*ChatStore, error) {
	s := &ChatStore{
		snap:          snap,
		now:           func() time.Time { return time.Now().UTC() },
		feedbackGiven: make(map[string]bool),
	}
	for _, option := range options {
		if option != nil {
			option(s)
		}
	}
	if snap != nil {
		loaded, found, err := snap.Load()
		if err != nil {
			return nil, err
		}
		if found {
			s.conversations = loaded.Conversations
			s.activeID = loaded.ActiveConversationID
			s.progress = loaded.StudentProgress
			for _, id := range loaded.FeedbackGiven {
				s.feedbackGiven[id] = true
			}
		}
	}
	return s, nil
}

// StartConversation creates a conversation opened by a subject-appropriate
// welcome message, makes it active, and puts it first in the list.
func (s *ChatStore) StartConversation(subject domain.Subject) (domain.Conversation, error) {
	if !subject.Valid() {
		return domain.Conversation{}, ErrInvalidSubject
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	conv := domain.Conversation{
		ID:      util.NewID(),
		Subject: subject,
		Title:   persona.ConversationTitle(now),
		Messages: []domain.Message{{
			ID:        util.NewID(),
			Role:      domain.RoleAssistant,
			Content:   persona.WelcomeText(subject, now),
			Timestamp: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations = append([]domain.Conversation{conv}, s.conversations...)
	s.activeID = conv.ID
	s.persistLocked()
	return cloneConversation(conv), nil
}

// SetActiveConversation reassigns the active pointer without checking that
// the id resolves; "" clears it. Callers own referential integrity.
func (s *ChatStore) SetActiveConversation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeID = id
	s.persistLocked()
}

// ActiveConversation resolves the active pointer.
func (s *ChatStore) ActiveConversation() (domain.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeID == "" {
		return domain.Conversation{}, false
	}
	if conv := s.findLocked(s.activeID); conv != nil {
		return cloneConversation(*conv), true
	}
	return domain.Conversation{}, false
}

// GetConversation returns a conversation by id.
func (s *ChatStore) GetConversation(id string) (domain.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if conv := s.findLocked(id); conv != nil {
		return cloneConversation(*conv), true
	}
	return domain.Conversation{}, false
}

// Conversations lists all conversations, most recently started first.
func (s *ChatStore) Conversations() []domain.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, cloneConversation(conv))
	}
	return out
}

// AddMessage assigns id and timestamp to the draft and appends it to the
// active conversation. It reports false (and changes nothing) when no
// active conversation resolves.
func (s *ChatStore) AddMessage(draft MessageDraft) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.findLocked(s.activeID)
	if s.activeID == "" || conv == nil {
		return domain.Message{}, false
	}
	now := s.now()
	msg := domain.Message{
		ID:          util.NewID(),
		Role:        draft.Role,
		Content:     draft.Content,
		Timestamp:   now,
		Attachments: append([]domain.Attachment(nil), draft.Attachments...),
		IsLoading:   draft.IsLoading,
	}
	conv.Messages = append(conv.Messages, msg)
	if now.After(conv.UpdatedAt) {
		conv.UpdatedAt = now
	}
	s.persistLocked()
	return cloneMessage(msg), true
}

// UpdateMessage merges updates into the message with the given id inside
// the active conversation. Only content, attachments, and the loading flag
// can change; id, role, and timestamp are fixed for the message's lifetime.
// Reports false when the active conversation has no such message.
func (s *ChatStore) UpdateMessage(id string, upd MessageUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.findLocked(s.activeID)
	if s.activeID == "" || conv == nil {
		return false
	}
	for i := range conv.Messages {
		if conv.Messages[i].ID != id {
			continue
		}
		if upd.Content != nil {
			conv.Messages[i].Content = *upd.Content
		}
		if upd.IsLoading != nil {
			conv.Messages[i].IsLoading = *upd.IsLoading
		}
		if upd.Attachments != nil {
			conv.Messages[i].Attachments = append([]domain.Attachment(nil), upd.Attachments...)
		}
		s.persistLocked()
		return true
	}
	return false
}

// UpdateProgress bumps the subject's answered-questions counter by one,
// creating the record when absent.
func (s *ChatStore) UpdateProgress(subject domain.Subject) domain.StudentProgress {
	return s.applyProgress(subject, nil)
}

// SetProgress overrides the subject's counter with an explicit value.
func (s *ChatStore) SetProgress(subject domain.Subject, questionsAnswered int) domain.StudentProgress {
	return s.applyProgress(subject, &questionsAnswered)
}

func (s *ChatStore) applyProgress(subject domain.Subject, explicit *int) domain.StudentProgress {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for i := range s.progress {
		if s.progress[i].Subject != subject {
			continue
		}
		if explicit != nil {
			s.progress[i].QuestionsAnswered = *explicit
		} else {
			s.progress[i].QuestionsAnswered++
		}
		s.progress[i].LastActive = now
		s.persistLocked()
		return s.progress[i]
	}
	record := domain.StudentProgress{
		Subject:           subject,
		QuestionsAnswered: 1,
		LastActive:        now,
	}
	if explicit != nil {
		record.QuestionsAnswered = *explicit
	}
	s.progress = append(s.progress, record)
	s.persistLocked()
	return record
}

// Progress returns every per-subject progress record.
func (s *ChatStore) Progress() []domain.StudentProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.StudentProgress(nil), s.progress...)
}

// ProgressFor returns the record for one subject.
func (s *ChatStore) ProgressFor(subject domain.Subject) (domain.StudentProgress, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.progress {
		if p.Subject == subject {
			return p, true
		}
	}
	return domain.StudentProgress{}, false
}

// MarkFeedbackGiven records that a conversation was rated, so a restart
// does not re-prompt for feedback.
func (s *ChatStore) MarkFeedbackGiven(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedbackGiven[conversationID] = true
	s.persistLocked()
}

// FeedbackGiven reports whether a conversation was already rated.
func (s *ChatStore) FeedbackGiven(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feedbackGiven[conversationID]
}

func (s *ChatStore) findLocked(id string) *domain.Conversation {
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			return &s.conversations[i]
		}
	}
	return nil
}

// persistLocked snapshots the whole state. Persistence failures are logged,
// not raised: the in-memory state stays authoritative for this process.
func (s *ChatStore) persistLocked() {
	if s.snap == nil {
		return
	}
	given := make([]string, 0, len(s.feedbackGiven))
	for id := range s.feedbackGiven {
		given = append(given, id)
	}
	sort.Strings(given)
	snap := Snapshot{
		Version:              SnapshotVersion,
		Conversations:        s.conversations,
		ActiveConversationID: s.activeID,
		StudentProgress:      s.progress,
		FeedbackGiven:        given,
	}
	if err := s.snap.Save(snap); err != nil {
		slog.Warn("chat state snapshot failed", "err", err)
	}
}

func cloneConversation(conv domain.Conversation) domain.Conversation {
	out := conv
	out.Messages = make([]domain.Message, len(conv.Messages))
	for i, msg := range conv.Messages {
		out.Messages[i] = cloneMessage(msg)
	}
	return out
}

func cloneMessage(msg domain.Message) domain.Message {
	out := msg
	if msg.Attachments != nil {
		out.Attachments = append([]domain.Attachment(nil), msg.Attachments...)
	}
	return out
}
