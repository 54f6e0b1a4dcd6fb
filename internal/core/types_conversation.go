package core

import (
	"strings"
	"time"
)

// Conversation is a persisted sequence of user questions and council rounds.
type Conversation struct {
	ID        string                `json:"id"`
	CreatedAt time.Time             `json:"created_at"`
	Title     string                `json:"title"`
	Messages  []ConversationMessage `json:"messages"`
}

// ConversationMessage is a user question or an assistant turn. Assistant
// turns carry the completed round instead of plain content.
type ConversationMessage struct {
	Role      string        `json:"role"`
	Content   string        `json:"content,omitempty"`
	Round     *CouncilRound `json:"round,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// ConversationMetadata is the list view of a conversation.
type ConversationMetadata struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
}

// Metadata returns the list view of c.
func (c *Conversation) Metadata() ConversationMetadata {
	return ConversationMetadata{
		ID:           c.ID,
		CreatedAt:    c.CreatedAt,
		Title:        c.Title,
		MessageCount: len(c.Messages),
	}
}

// Clone returns a copy of c whose message slice can be appended to freely.
// Rounds are shared; they are never mutated once complete.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Messages = make([]ConversationMessage, len(c.Messages))
	copy(clone.Messages, c.Messages)
	return &clone
}

// History rebuilds the model input for the next round. Assistant turns
// contribute the chairman's answer; failed rounds are left out.
func (c *Conversation) History() []Message {
	history := make([]Message, 0, len(c.Messages))
	for _, msg := range c.Messages {
		switch msg.Role {
		case RoleUser:
			if strings.TrimSpace(msg.Content) != "" {
				history = append(history, Message{Role: RoleUser, Content: msg.Content})
			}
		case RoleAssistant:
			if msg.Round != nil && msg.Round.Final.OK() {
				history = append(history, Message{Role: RoleAssistant, Content: msg.Round.Final.Content})
			} else if msg.Content != "" {
				history = append(history, Message{Role: RoleAssistant, Content: msg.Content})
			}
		}
	}
	return history
}
