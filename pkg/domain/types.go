package domain

import "time"

// Subject is one of the three academic areas Layza tutors.
type Subject string

const (
	SubjectMath       Subject = "math"
	SubjectScience    Subject = "science"
	SubjectPortuguese Subject = "portuguese"
)

// Subjects lists every valid subject.
func Subjects() []Subject {
	return []Subject{SubjectMath, SubjectScience, SubjectPortuguese}
}

// Valid reports whether the subject belongs to the closed set.
func (s Subject) Valid() bool {
	switch s {
	case SubjectMath, SubjectScience, SubjectPortuguese:
		return true
	}
	return false
}

// ParseSubject validates a raw subject tag.
func ParseSubject(raw string) (Subject, bool) {
	s := Subject(raw)
	return s, s.Valid()
}

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentAudio AttachmentType = "audio"
)

// Attachment is an uploaded resource linked to a message.
// Immutable once attached.
type Attachment struct {
	ID       string         `json:"id"`
	Type     AttachmentType `json:"type"`
	URL      string         `json:"url"`
	Filename string         `json:"filename"`
}

// Message is one entry in a conversation. ID, role, and timestamp never
// change after creation; content, attachments, and the loading flag may be
// rewritten in place while a placeholder waits for the real reply.
type Message struct {
	ID          string       `json:"id"`
	Role        MessageRole  `json:"role"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	Attachments []Attachment `json:"attachments,omitempty"`
	IsLoading   bool         `json:"isLoading,omitempty"`
}

// Conversation is an ordered, append-only thread of messages scoped to one
// subject. UpdatedAt tracks the most recent append and never decreases.
type Conversation struct {
	ID        string    `json:"id"`
	Subject   Subject   `json:"subject"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StudentProgress counts answered questions per subject.
type StudentProgress struct {
	Subject           Subject   `json:"subject"`
	QuestionsAnswered int       `json:"questionsAnswered"`
	LastActive        time.Time `json:"lastActive"`
}

// ExamPaper is a past ENEM paper. Read-only, externally sourced.
type ExamPaper struct {
	ID         string    `json:"id"`
	Year       int       `json:"year"`
	Day        int       `json:"day"`
	Color      string    `json:"color"`
	Subjects   []Subject `json:"subjects"`
	FileURL    string    `json:"fileUrl"`
	AnswersURL string    `json:"answersUrl"`
}

// Covers reports whether the paper includes the given subject.
func (p ExamPaper) Covers(subject Subject) bool {
	for _, s := range p.Subjects {
		if s == subject {
			return true
		}
	}
	return false
}

// YoutubeRecommendation is a suggested study video.
type YoutubeRecommendation struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

// FeedbackRating is a one-shot star rating for a conversation.
type FeedbackRating struct {
	Rating         int       `json:"rating"`
	Message        string    `json:"message"`
	ConversationID string    `json:"conversationId"`
	Timestamp      time.Time `json:"timestamp"`
}
