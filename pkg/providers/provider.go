package providers

import (
	"context"
)

// Message is a single turn in a chat completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer is the interface for chat completion providers.
type Completer interface {
	Complete(ctx context.Context, system string, history []Message, user string) (string, error)
	GetDefaultModel() string
}
