package models

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleUser marks a message authored by the end user.
	RoleUser Role = "user"
	// RoleAssistant marks a message authored by a model.
	RoleAssistant Role = "assistant"
	// RoleSystem marks an injected system message.
	RoleSystem Role = "system"
)

// Valid returns true if the role is a known value.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// Message is one entry in an entity's conversational context.
type Message struct {
	// Role is the message author.
	Role Role `json:"role"`
	// Content is the message text.
	Content string `json:"content"`
	// Timestamp is when the message was added.
	Timestamp time.Time `json:"timestamp"`
	// Tokens is the computed token cost of the message.
	Tokens int `json:"tokens"`
	// Compressed indicates the content was reduced by an optimization pass.
	Compressed bool `json:"compressed,omitempty"`
}

// ModelConstraints bounds an entity's conversational context.
type ModelConstraints struct {
	// ContextWindow is the maximum token budget; must be positive.
	ContextWindow int `json:"context_window"`
	// MaxTokens is the maximum tokens per request.
	MaxTokens int `json:"max_tokens,omitempty"`
	// ResponseTokens is headroom reserved for the model response.
	ResponseTokens int `json:"response_tokens,omitempty"`
}
