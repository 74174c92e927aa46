package chat

import (
	"fmt"
	"strings"

	"github.com/Keyring-Network/keyring-helix/internal/llm"
	"github.com/Keyring-Network/keyring-helix/internal/reader"
)

const (
	acknowledgment  = "Understood. I will follow these instructions in every answer."
	webContentIntro = "I found web content relevant to your question:"
)

// Assemble builds the model conversation: the system prompt as a user turn,
// a canned acknowledgment, then the history. Fetched content is injected as a
// model turn right before the final user turn.
func Assemble(history []Message, systemPrompt string, batch reader.Batch) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+3)
	messages = append(messages,
		llm.Message{Role: llm.RoleUser, Content: systemPrompt},
		llm.Message{Role: llm.RoleModel, Content: acknowledgment},
	)

	last := len(history) - 1
	inject := batch.Len() > 0 && last >= 0 && !llm.IsModelRole(history[last].Role)
	for i, message := range history {
		if inject && i == last {
			messages = append(messages, llm.Message{Role: llm.RoleModel, Content: WebContentTurn(batch)})
		}
		messages = append(messages, llm.Message{Role: normalizeRole(message.Role), Content: message.Content})
	}
	return messages
}

// WebContentTurn renders fetched pages for the injected model turn.
func WebContentTurn(batch reader.Batch) string {
	var b strings.Builder
	b.WriteString(webContentIntro)
	for i, markdown := range batch.Markdowns {
		fmt.Fprintf(&b, "\n\n### Source %d: %s\n\n%s", i+1, batch.URLs[i], strings.TrimSpace(markdown))
	}
	return b.String()
}

func normalizeRole(role string) string {
	if llm.IsModelRole(role) {
		return llm.RoleModel
	}
	return llm.RoleUser
}
