package events

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	TypeActivityChanged = "activity.changed"
	TypeSourceAdded     = "source.added"
	TypeMessageAdded    = "message.added"
	TypeChatCompleted   = "chat.completed"
	TypeChatFailed      = "chat.failed"
)

type ChatEvent struct {
	ChatID  string         `json:"chat_id"`
	Seq     int64          `json:"seq"`
	Type    string         `json:"type"`
	Ts      string         `json:"ts"`
	Source  string         `json:"source"`
	TraceID string         `json:"trace_id,omitempty"`
	Payload map[string]any `json:"payload"`
}

// New builds an event stamped with the current UTC time. Seq is assigned by
// the store when the event is appended.
func New(chatID, eventType, traceID string, payload map[string]any) ChatEvent {
	if payload == nil {
		payload = map[string]any{}
	}
	return ChatEvent{
		ChatID:  chatID,
		Type:    NormalizeType(eventType),
		Ts:      time.Now().UTC().Format(time.RFC3339Nano),
		Source:  "helix",
		TraceID: traceID,
		Payload: payload,
	}
}

type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan ChatEvent]struct{}
}

func NormalizeType(eventType string) string {
	return strings.TrimSpace(strings.ToLower(eventType))
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: map[string]map[chan ChatEvent]struct{}{},
	}
}

// Subscribe returns a channel of live events for chatID. The channel is
// closed when ctx is done.
func (b *Broker) Subscribe(ctx context.Context, chatID string) <-chan ChatEvent {
	ch := make(chan ChatEvent, 16)

	b.mu.Lock()
	if b.subscribers[chatID] == nil {
		b.subscribers[chatID] = map[chan ChatEvent]struct{}{}
	}
	b.subscribers[chatID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if b.subscribers[chatID] != nil {
			delete(b.subscribers[chatID], ch)
			if len(b.subscribers[chatID]) == 0 {
				delete(b.subscribers, chatID)
			}
		}
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Publish never blocks: slow subscribers miss events and must replay them
// from the store.
func (b *Broker) Publish(event ChatEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers[event.ChatID] {
		select {
		case ch <- event:
		default:
		}
	}
}

func (b *Broker) SubscriberCount(chatID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[chatID])
}
