package domain

// ChatMessage is the provider-agnostic chat message shape used by the
// extraction usecase and the completion integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CompletionOptions carries the sampling knobs forwarded to the completion
// service on every call.
type CompletionOptions struct {
	Temperature float64
	MaxTokens   int
}
