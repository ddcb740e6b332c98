// Package chat relays conversations to an OpenAI-compatible Chat Completions
// backend and streams the reply back as text deltas.
package chat

// Roles accepted in a conversation.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultSystemPrompt opens every conversation unless configured otherwise.
const DefaultSystemPrompt = "You are a helpful AI assistant. Provide clear, accurate, and helpful responses."

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chunk is one piece of a streamed reply. The last value on a stream that
// failed carries Err and no Delta.
type Chunk struct {
	Delta string
	Err   error
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

// completionChunk is the subset of a streamed chat.completion.chunk we read.
type completionChunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}
