package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-helix/internal/chat"
	"github.com/Keyring-Network/keyring-helix/internal/events"
	"github.com/Keyring-Network/keyring-helix/internal/store"
)

type chatResponse struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	MessageCount int64  `json:"message_count"`
}

type messageResponse struct {
	ID        string         `json:"id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Sequence  int64          `json:"sequence"`
	CreatedAt string         `json:"created_at"`
	Metadata  map[string]any `json:"metadata"`
}

type createChatRequest struct {
	Title string `json:"title"`
}

func (s *Server) createChat(w http.ResponseWriter, r *http.Request) {
	req := createChatRequest{}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	created := store.Chat{
		ID:        uuid.New().String(),
		Title:     strings.TrimSpace(req.Title),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateChat(r.Context(), created); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSONStatus(w, chatResponse{
		ID:        created.ID,
		Title:     created.Title,
		CreatedAt: created.CreatedAt,
		UpdatedAt: created.UpdatedAt,
	}, http.StatusCreated)
}

func (s *Server) listChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.store.ListChats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	results := make([]chatResponse, 0, len(chats))
	for _, summary := range chats {
		results = append(results, chatResponse{
			ID:           summary.ID,
			Title:        summary.Title,
			CreatedAt:    summary.CreatedAt,
			UpdatedAt:    summary.UpdatedAt,
			MessageCount: summary.MessageCount,
		})
	}
	writeJSON(w, map[string]any{"chats": results})
}

func (s *Server) getChat(w http.ResponseWriter, r *http.Request) {
	found, ok := s.lookupChat(w, r)
	if !ok {
		return
	}
	writeJSON(w, chatResponse{
		ID:        found.ID,
		Title:     found.Title,
		CreatedAt: found.CreatedAt,
		UpdatedAt: found.UpdatedAt,
	})
}

func (s *Server) deleteChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")
	if err := s.store.DeleteChat(r.Context(), chatID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.lookupChat(w, r); !ok {
		return
	}
	messages, err := s.store.ListMessages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	results := make([]messageResponse, 0, len(messages))
	for _, msg := range messages {
		results = append(results, messageResponse{
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			Sequence:  msg.Sequence,
			CreatedAt: msg.CreatedAt,
			Metadata:  msg.Metadata,
		})
	}
	writeJSON(w, map[string]any{"messages": results})
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.lookupChat(w, r); !ok {
		return
	}
	sources, err := s.store.ListSources(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	results := make([]chat.SourceURL, 0, len(sources))
	for _, source := range sources {
		results = append(results, chat.SourceURL{URL: source.URL, Favicon: source.Favicon})
	}
	writeJSON(w, map[string]any{"sources": results})
}

func (s *Server) lookupChat(w http.ResponseWriter, r *http.Request) (*store.Chat, bool) {
	found, err := s.store.GetChat(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	if found == nil {
		http.Error(w, "chat not found", http.StatusNotFound)
		return nil, false
	}
	return found, true
}

type postMessageRequest struct {
	Content         string `json:"content"`
	DeepResearch    bool   `json:"deep_research"`
	Thinking        bool   `json:"thinking"`
	DocumentContext string `json:"document_context"`
}

// postMessage stores the user turn, runs the pipeline over the whole history
// and streams the answer as text/plain. Activity and sources go out on the
// chat's event stream while the body is being written.
func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")
	if _, ok := s.lookupChat(w, r); !ok {
		return
	}
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		http.Error(w, chat.ErrEmptyMessage.Error(), http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	persistCtx := context.WithoutCancel(ctx)
	traceID := uuid.New().String()
	logger := s.logger.With(zap.String("chat_id", chatID), zap.String("trace_id", traceID))

	stored, err := s.store.ListMessages(ctx, chatID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	userMsg := store.Message{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		Role:      chat.RoleUser,
		Content:   req.Content,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Metadata:  map[string]any{"deep_research": req.DeepResearch, "thinking": req.Thinking},
	}
	userMsg.Sequence, err = s.store.AddMessage(ctx, userMsg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.recordEvent(persistCtx, chatID, events.TypeMessageAdded, traceID, messagePayload(userMsg))

	history := make([]chat.Message, 0, len(stored)+1)
	for _, msg := range append(stored, userMsg) {
		history = append(history, chat.Message{Role: msg.Role, Content: msg.Content})
	}

	turn, err := s.chat.Chat(ctx, chat.Request{
		History:              history,
		EnableThinkingBudget: req.Thinking,
		DeepResearch:         req.DeepResearch,
		DocumentContext:      req.DocumentContext,
		Observer:             &eventObserver{server: s, ctx: persistCtx, chatID: chatID, traceID: traceID},
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, chat.ErrEmptyHistory) || errors.Is(err, chat.ErrEmptyMessage) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	defer turn.Stream.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Chat-Intent", string(turn.Decision.Kind))
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var output strings.Builder
	streamErr := copyStream(w, flusher, turn.Stream, &output)
	if streamErr != nil {
		logger.Warn("chat turn failed", zap.Error(streamErr), zap.Int("partial_bytes", output.Len()))
		s.recordEvent(persistCtx, chatID, events.TypeChatFailed, traceID, map[string]any{
			"error":   streamErr.Error(),
			"partial": output.String(),
		})
		return
	}

	sources := turn.State().Sources()
	sourceURLs := make([]string, 0, len(sources))
	for _, source := range sources {
		sourceURLs = append(sourceURLs, source.URL)
	}
	modelMsg := store.Message{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		Role:      chat.RoleModel,
		Content:   output.String(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Metadata: map[string]any{
			"intent":  string(turn.Decision.Kind),
			"sources": sourceURLs,
		},
	}
	modelMsg.Sequence, err = s.store.AddMessage(persistCtx, modelMsg)
	if err != nil {
		logger.Error("persist model message", zap.Error(err))
		s.recordEvent(persistCtx, chatID, events.TypeChatFailed, traceID, map[string]any{"error": err.Error()})
		return
	}
	s.recordEvent(persistCtx, chatID, events.TypeMessageAdded, traceID, messagePayload(modelMsg))
	s.recordEvent(persistCtx, chatID, events.TypeChatCompleted, traceID, map[string]any{
		"message_id": modelMsg.ID,
		"intent":     string(turn.Decision.Kind),
		"sources":    len(sources),
	})
}

// copyStream forwards the turn body chunk by chunk, flushing after each write.
// It returns nil only when the stream ended cleanly.
func copyStream(w io.Writer, flusher http.Flusher, stream io.Reader, output *strings.Builder) error {
	buf := make([]byte, 4096)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			output.Write(buf[:n])
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write response: %w", werr)
			}
			flusher.Flush()
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func messagePayload(msg store.Message) map[string]any {
	return map[string]any{
		"message_id": msg.ID,
		"role":       msg.Role,
		"content":    msg.Content,
		"sequence":   msg.Sequence,
	}
}

type eventObserver struct {
	server  *Server
	ctx     context.Context
	chatID  string
	traceID string
}

func (o *eventObserver) OnActivity(state chat.ActivityState) {
	o.server.recordEvent(o.ctx, o.chatID, events.TypeActivityChanged, o.traceID, map[string]any{"state": state.String()})
}

func (o *eventObserver) OnSource(source chat.SourceURL) {
	err := o.server.store.AddSources(o.ctx, []store.Source{{
		ChatID:    o.chatID,
		URL:       source.URL,
		Favicon:   source.Favicon,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}})
	if err != nil {
		o.server.logger.Warn("persist source", zap.String("chat_id", o.chatID), zap.String("url", source.URL), zap.Error(err))
	}
	o.server.recordEvent(o.ctx, o.chatID, events.TypeSourceAdded, o.traceID, map[string]any{
		"url":     source.URL,
		"favicon": source.Favicon,
	})
}

// recordEvent persists and publishes one event. Failures are logged; the
// event stream is best effort and never fails a turn.
func (s *Server) recordEvent(ctx context.Context, chatID string, eventType string, traceID string, payload map[string]any) {
	event := events.New(chatID, eventType, traceID, payload)
	seq, err := s.store.NextSeq(ctx, chatID)
	if err != nil {
		s.logger.Warn("next event seq", zap.String("chat_id", chatID), zap.String("type", eventType), zap.Error(err))
		return
	}
	event.Seq = seq
	if err := s.store.AppendEvent(ctx, fromEvent(event)); err != nil {
		s.logger.Warn("append event", zap.String("chat_id", chatID), zap.String("type", eventType), zap.Error(err))
	}
	s.broker.Publish(event)
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	// Subscribe before the replay so nothing published in between is lost.
	eventsChan := s.broker.Subscribe(ctx, chatID)
	afterSeq := parseAfterSeq(chatID, r)
	stored, err := s.store.ListEvents(ctx, chatID, afterSeq)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for _, event := range stored {
		sendSSE(w, toEvent(event))
		if event.Seq > afterSeq {
			afterSeq = event.Seq
		}
	}
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-eventsChan:
			if !ok {
				return
			}
			if event.Seq <= afterSeq {
				continue
			}
			afterSeq = event.Seq
			sendSSE(w, event)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func sendSSE(w http.ResponseWriter, event events.ChatEvent) {
	payload, _ := json.Marshal(event)
	fmt.Fprintf(w, "id: %s:%d\n", event.ChatID, event.Seq)
	fmt.Fprintf(w, "event: %s\n", event.Type)
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func toEvent(event store.ChatEvent) events.ChatEvent {
	return events.ChatEvent{
		ChatID:  event.ChatID,
		Seq:     event.Seq,
		Type:    events.NormalizeType(event.Type),
		Ts:      event.Timestamp,
		Source:  event.Source,
		TraceID: event.TraceID,
		Payload: event.Payload,
	}
}

func fromEvent(event events.ChatEvent) store.ChatEvent {
	return store.ChatEvent{
		ChatID:    event.ChatID,
		Seq:       event.Seq,
		Type:      event.Type,
		Timestamp: event.Ts,
		Source:    event.Source,
		TraceID:   event.TraceID,
		Payload:   event.Payload,
	}
}

func parseAfterSeq(chatID string, r *http.Request) int64 {
	afterParam := strings.TrimSpace(r.URL.Query().Get("after_seq"))
	if afterParam != "" {
		if parsed, err := strconv.ParseInt(afterParam, 10, 64); err == nil {
			return parsed
		}
	}
	lastEventID := r.Header.Get("Last-Event-ID")
	if lastEventID == "" {
		return 0
	}
	parts := strings.Split(lastEventID, ":")
	if len(parts) != 2 || parts[0] != chatID {
		return 0
	}
	seq, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0
	}
	return seq
}
