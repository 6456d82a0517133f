package compose

import (
	"context"
	"fmt"
)

// Generator produces answer text from a question and serialized context.
type Generator interface {
	Generate(ctx context.Context, question, contextText string) (string, error)
}

// Chatter is a chat-completion client. *ollama.Client and
// *openaicompat.Client implement it.
type Chatter interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

// SystemPrompt instructs the model to stay within the retrieved context.
const SystemPrompt = `You are Tethys, an assistant for ARGO ocean float data.
Answer the question using ONLY the records and summaries in the context.
Refer to floats by their WMO number (for example "float 2902746") and quote
values with their units. If the context does not answer the question, say so
plainly instead of guessing.`

// ChatGenerator adapts a Chatter to Generator.
type ChatGenerator struct {
	chat   Chatter
	system string
}

// NewChatGenerator wraps chat with the default system prompt.
func NewChatGenerator(chat Chatter) *ChatGenerator {
	return &ChatGenerator{chat: chat, system: SystemPrompt}
}

// Generate implements Generator.
func (g *ChatGenerator) Generate(ctx context.Context, question, contextText string) (string, error) {
	return g.chat.Chat(ctx, g.system, UserPrompt(question, contextText))
}

// UserPrompt lays out the context block and the question.
func UserPrompt(question, contextText string) string {
	return fmt.Sprintf("Context (ARGO records, best match first):\n%s\nQuestion: %s\nAnswer:", contextText, question)
}
