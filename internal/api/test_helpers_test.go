package api

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/Keyring-Network/keyring-helix/internal/chat"
	"github.com/Keyring-Network/keyring-helix/internal/config"
	"github.com/Keyring-Network/keyring-helix/internal/events"
	"github.com/Keyring-Network/keyring-helix/internal/store"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateChat(ctx context.Context, c store.Chat) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockStore) GetChat(ctx context.Context, chatID string) (*store.Chat, error) {
	args := m.Called(ctx, chatID)
	if value := args.Get(0); value != nil {
		return value.(*store.Chat), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) ListChats(ctx context.Context) ([]store.ChatSummary, error) {
	args := m.Called(ctx)
	var result []store.ChatSummary
	if value := args.Get(0); value != nil {
		result = value.([]store.ChatSummary)
	}
	return result, args.Error(1)
}

func (m *MockStore) DeleteChat(ctx context.Context, chatID string) error {
	args := m.Called(ctx, chatID)
	return args.Error(0)
}

func (m *MockStore) AddMessage(ctx context.Context, msg store.Message) (int64, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) ListMessages(ctx context.Context, chatID string) ([]store.Message, error) {
	args := m.Called(ctx, chatID)
	var result []store.Message
	if value := args.Get(0); value != nil {
		result = value.([]store.Message)
	}
	return result, args.Error(1)
}

func (m *MockStore) AddSources(ctx context.Context, sources []store.Source) error {
	args := m.Called(ctx, sources)
	return args.Error(0)
}

func (m *MockStore) ListSources(ctx context.Context, chatID string) ([]store.Source, error) {
	args := m.Called(ctx, chatID)
	var result []store.Source
	if value := args.Get(0); value != nil {
		result = value.([]store.Source)
	}
	return result, args.Error(1)
}

func (m *MockStore) AppendEvent(ctx context.Context, event store.ChatEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockStore) ListEvents(ctx context.Context, chatID string, afterSeq int64) ([]store.ChatEvent, error) {
	args := m.Called(ctx, chatID, afterSeq)
	var result []store.ChatEvent
	if value := args.Get(0); value != nil {
		result = value.([]store.ChatEvent)
	}
	return result, args.Error(1)
}

func (m *MockStore) NextSeq(ctx context.Context, chatID string) (int64, error) {
	args := m.Called(ctx, chatID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) CreateResearchReport(ctx context.Context, report store.ResearchReport) error {
	args := m.Called(ctx, report)
	return args.Error(0)
}

func (m *MockStore) UpdateResearchReport(ctx context.Context, report store.ResearchReport) error {
	args := m.Called(ctx, report)
	return args.Error(0)
}

func (m *MockStore) GetResearchReport(ctx context.Context, reportID string) (*store.ResearchReport, error) {
	args := m.Called(ctx, reportID)
	if value := args.Get(0); value != nil {
		return value.(*store.ResearchReport), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Publish(event events.ChatEvent) {
	m.Called(event)
}

func (m *MockBroker) Subscribe(ctx context.Context, chatID string) <-chan events.ChatEvent {
	args := m.Called(ctx, chatID)
	if value := args.Get(0); value != nil {
		if ch, ok := value.(chan events.ChatEvent); ok {
			return ch
		}
		if ch, ok := value.(<-chan events.ChatEvent); ok {
			return ch
		}
	}
	return nil
}

type MockResearchService struct {
	mock.Mock
}

func (m *MockResearchService) StartResearch(ctx context.Context, reportID string, query string, enhanced bool) error {
	args := m.Called(ctx, reportID, query, enhanced)
	return args.Error(0)
}

func (m *MockResearchService) CancelResearch(ctx context.Context, reportID string) error {
	args := m.Called(ctx, reportID)
	return args.Error(0)
}

type MockChatService struct {
	mock.Mock
}

func (m *MockChatService) Chat(ctx context.Context, req chat.Request) (*chat.Turn, error) {
	args := m.Called(ctx, req)
	if value := args.Get(0); value != nil {
		return value.(*chat.Turn), args.Error(1)
	}
	return nil, args.Error(1)
}

func newTestServer(t *testing.T, st store.Store, broker Broker, chatService ChatService, research ResearchService, cfg config.Config) *httptest.Server {
	t.Helper()
	server := NewServer(st, broker, chatService, research, cfg, nil)
	return httptest.NewServer(server.Router())
}
