// Package models defines the data structures shared across the relay.
package models

import "time"

// Role identifies the speaker of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationMessage is one entry of a session's conversation history.
type ConversationMessage struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentConfig is the read-only configuration of a voice agent, fixed for the
// lifetime of a session.
type AgentConfig struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	SystemPrompt string  `json:"system_prompt"`
	FirstMessage string  `json:"first_message"`
	VoiceID      string  `json:"voice_id"`
	Model        string  `json:"model"`
	Temperature  float32 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
}
