package store

import (
	"context"
	"errors"
	"strings"
)

// ErrSequenceTaken is returned when a message is added with a sequence the
// chat already holds.
var ErrSequenceTaken = errors.New("message sequence already taken")

type Chat struct {
	ID        string
	Title     string
	CreatedAt string
	UpdatedAt string
}

type ChatSummary struct {
	ID           string
	Title        string
	CreatedAt    string
	UpdatedAt    string
	MessageCount int64
}

type Message struct {
	ID        string
	ChatID    string
	Role      string
	Content   string
	Sequence  int64
	CreatedAt string
	Metadata  map[string]any
}

// Source is a URL surfaced during a chat turn. A chat holds each URL once.
type Source struct {
	ChatID    string
	URL       string
	Favicon   string
	CreatedAt string
}

type ChatEvent struct {
	ChatID    string
	Seq       int64
	Type      string
	Timestamp string
	Source    string
	TraceID   string
	Payload   map[string]any
}

const (
	ReportPending   = "pending"
	ReportRunning   = "running"
	ReportCompleted = "completed"
	ReportFailed    = "failed"
	ReportCancelled = "cancelled"
)

type ResearchReport struct {
	ID          string
	Query       string
	Profile     string
	Status      string
	URLs        []string
	FetchedURLs []string
	Error       string
	CreatedAt   string
	UpdatedAt   string
}

type Store interface {
	CreateChat(ctx context.Context, chat Chat) error
	GetChat(ctx context.Context, chatID string) (*Chat, error)
	ListChats(ctx context.Context) ([]ChatSummary, error)
	DeleteChat(ctx context.Context, chatID string) error
	// AddMessage stores msg and returns its sequence. A zero sequence is
	// assigned as one past the chat's highest.
	AddMessage(ctx context.Context, msg Message) (int64, error)
	ListMessages(ctx context.Context, chatID string) ([]Message, error)
	AddSources(ctx context.Context, sources []Source) error
	ListSources(ctx context.Context, chatID string) ([]Source, error)
	AppendEvent(ctx context.Context, event ChatEvent) error
	ListEvents(ctx context.Context, chatID string, afterSeq int64) ([]ChatEvent, error)
	NextSeq(ctx context.Context, chatID string) (int64, error)
	CreateResearchReport(ctx context.Context, report ResearchReport) error
	UpdateResearchReport(ctx context.Context, report ResearchReport) error
	GetResearchReport(ctx context.Context, reportID string) (*ResearchReport, error)
}

// TitleFrom derives a short chat title from the first user message.
func TitleFrom(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	runes := []rune(title)
	if len(runes) > 80 {
		return strings.TrimSpace(string(runes[:80])) + "..."
	}
	return title
}
