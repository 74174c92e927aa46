package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Keyring-Network/keyring-helix/internal/store"
)

type MemoryStore struct {
	mu       sync.RWMutex
	chats    map[string]store.Chat
	messages map[string][]store.Message
	sources  map[string][]store.Source
	events   map[string][]store.ChatEvent
	seq      map[string]int64
	reports  map[string]store.ResearchReport
}

func New() *MemoryStore {
	return &MemoryStore{
		chats:    map[string]store.Chat{},
		messages: map[string][]store.Message{},
		sources:  map[string][]store.Source{},
		events:   map[string][]store.ChatEvent{},
		seq:      map[string]int64{},
		reports:  map[string]store.ResearchReport{},
	}
}

func (m *MemoryStore) CreateChat(ctx context.Context, chat store.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.chats[chat.ID]; exists {
		return fmt.Errorf("chat %s already exists", chat.ID)
	}
	m.chats[chat.ID] = chat
	return nil
}

func (m *MemoryStore) GetChat(ctx context.Context, chatID string) (*store.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chat, ok := m.chats[chatID]
	if !ok {
		return nil, nil
	}
	return &chat, nil
}

func (m *MemoryStore) ListChats(ctx context.Context) ([]store.ChatSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	summaries := make([]store.ChatSummary, 0, len(m.chats))
	for _, chat := range m.chats {
		summaries = append(summaries, store.ChatSummary{
			ID:           chat.ID,
			Title:        chat.Title,
			CreatedAt:    chat.CreatedAt,
			UpdatedAt:    chat.UpdatedAt,
			MessageCount: int64(len(m.messages[chat.ID])),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		left := parseTimestamp(summaries[i].UpdatedAt)
		right := parseTimestamp(summaries[j].UpdatedAt)
		if left.Equal(right) {
			return summaries[i].ID < summaries[j].ID
		}
		return left.After(right)
	})
	return summaries, nil
}

func (m *MemoryStore) DeleteChat(ctx context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chats, chatID)
	delete(m.messages, chatID)
	delete(m.sources, chatID)
	delete(m.events, chatID)
	delete(m.seq, chatID)
	return nil
}

// AddMessage also bumps the chat's UpdatedAt and, for the first user message,
// fills in an empty title.
func (m *MemoryStore) AddMessage(ctx context.Context, msg store.Message) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}
	var last int64
	for _, existing := range m.messages[msg.ChatID] {
		if msg.Sequence > 0 && existing.Sequence == msg.Sequence {
			return 0, fmt.Errorf("chat %s sequence %d: %w", msg.ChatID, msg.Sequence, store.ErrSequenceTaken)
		}
		last = max(last, existing.Sequence)
	}
	if msg.Sequence <= 0 {
		msg.Sequence = last + 1
	}
	m.messages[msg.ChatID] = append(m.messages[msg.ChatID], msg)
	if chat, ok := m.chats[msg.ChatID]; ok {
		if msg.CreatedAt != "" {
			chat.UpdatedAt = msg.CreatedAt
		}
		if strings.TrimSpace(chat.Title) == "" && msg.Role == "user" {
			chat.Title = store.TitleFrom(msg.Content)
		}
		m.chats[msg.ChatID] = chat
	}
	return msg.Sequence, nil
}

func (m *MemoryStore) ListMessages(ctx context.Context, chatID string) ([]store.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	messages := append([]store.Message{}, m.messages[chatID]...)
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Sequence < messages[j].Sequence
	})
	return messages, nil
}

func (m *MemoryStore) AddSources(ctx context.Context, sources []store.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, source := range sources {
		if strings.TrimSpace(source.URL) == "" {
			continue
		}
		if m.hasSourceLocked(source.ChatID, source.URL) {
			continue
		}
		m.sources[source.ChatID] = append(m.sources[source.ChatID], source)
	}
	return nil
}

func (m *MemoryStore) hasSourceLocked(chatID, url string) bool {
	for _, existing := range m.sources[chatID] {
		if existing.URL == url {
			return true
		}
	}
	return false
}

func (m *MemoryStore) ListSources(ctx context.Context, chatID string) ([]store.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]store.Source{}, m.sources[chatID]...), nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, event store.ChatEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Type = strings.TrimSpace(strings.ToLower(event.Type))
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	m.events[event.ChatID] = append(m.events[event.ChatID], event)
	return nil
}

func (m *MemoryStore) ListEvents(ctx context.Context, chatID string, afterSeq int64) ([]store.ChatEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := m.events[chatID]
	if afterSeq <= 0 {
		return append([]store.ChatEvent{}, events...), nil
	}
	filtered := []store.ChatEvent{}
	for _, event := range events {
		if event.Seq > afterSeq {
			filtered = append(filtered, event)
		}
	}
	return filtered, nil
}

func (m *MemoryStore) NextSeq(ctx context.Context, chatID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[chatID] += 1
	return m.seq[chatID], nil
}

func (m *MemoryStore) CreateResearchReport(ctx context.Context, report store.ResearchReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.reports[report.ID]; exists {
		return fmt.Errorf("research report %s already exists", report.ID)
	}
	m.reports[report.ID] = cloneReport(report)
	return nil
}

func (m *MemoryStore) UpdateResearchReport(ctx context.Context, report store.ResearchReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.reports[report.ID]
	if !ok {
		return fmt.Errorf("research report %s not found", report.ID)
	}
	report.CreatedAt = existing.CreatedAt
	if report.Query == "" {
		report.Query = existing.Query
	}
	if report.Profile == "" {
		report.Profile = existing.Profile
	}
	m.reports[report.ID] = cloneReport(report)
	return nil
}

func (m *MemoryStore) GetResearchReport(ctx context.Context, reportID string) (*store.ResearchReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	report, ok := m.reports[reportID]
	if !ok {
		return nil, nil
	}
	copy := cloneReport(report)
	return &copy, nil
}

func cloneReport(report store.ResearchReport) store.ResearchReport {
	report.URLs = append([]string(nil), report.URLs...)
	report.FetchedURLs = append([]string(nil), report.FetchedURLs...)
	return report
}

func parseTimestamp(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}
	}
	return parsed
}
