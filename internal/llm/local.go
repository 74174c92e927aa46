package llm

import (
	"context"
	"strings"
)

// LocalProvider echoes the latest user message word by word. It needs no
// network access and is used for offline runs.
type LocalProvider struct{}

func (LocalProvider) Stream(ctx context.Context, req StreamRequest) (<-chan StreamEvent, error) {
	reply := "I have no model configured."
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if !IsModelRole(req.Messages[i].Role) {
			reply = "You said: " + strings.TrimSpace(req.Messages[i].Content)
			break
		}
	}
	events := make(chan StreamEvent, 4)
	go func() {
		defer close(events)
		words := strings.SplitAfter(reply, " ")
		for _, word := range words {
			if word == "" {
				continue
			}
			if !send(ctx, events, StreamEvent{Delta: word}) {
				return
			}
		}
	}()
	return events, nil
}
