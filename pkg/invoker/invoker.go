// Package invoker sends model requests to a provider behind a retry
// controller. Transport errors are classified as transient or fatal; only
// transient failures are retried, with exponential backoff.
package invoker

import "context"

// Message roles on the provider wire.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation message sent to the model.
type Message struct {
	Role    string
	Content string
}

// Request describes a single model call.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the model's reply.
type Response struct {
	Content string
	Usage   Usage
}

// Provider is a model backend.
type Provider interface {
	Name() string
	Invoke(ctx context.Context, req Request) (*Response, error)
}
