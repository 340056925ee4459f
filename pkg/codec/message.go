package codec

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies a message.
type Kind string

const (
	KindText       Kind = "text"
	KindToolCall   Kind = "tool-call"
	KindToolResult Kind = "tool-result"
	KindError      Kind = "error"
	KindSystem     Kind = "system"
	KindUser       Kind = "user"
	KindAssistant  Kind = "assistant"
	KindDebug      Kind = "debug"
)

// Message is one typed event decoded from the agent CLI's output. Treat it
// as immutable once built; assemble with NewMessageBuilder.
type Message struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"type"`
	Subtype   string         `json:"subtype,omitempty"`
	Content   string         `json:"content,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"timestamp"`
}

// MessageBuilder assembles a Message.
type MessageBuilder struct {
	msg Message
}

// NewMessageBuilder returns a builder seeded with a fresh ID and timestamp.
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{msg: Message{
		ID:        uuid.New().String(),
		Kind:      KindText,
		CreatedAt: time.Now(),
	}}
}

func (b *MessageBuilder) ID(id string) *MessageBuilder {
	b.msg.ID = id
	return b
}

func (b *MessageBuilder) Kind(kind Kind) *MessageBuilder {
	b.msg.Kind = kind
	return b
}

func (b *MessageBuilder) Subtype(subtype string) *MessageBuilder {
	b.msg.Subtype = subtype
	return b
}

func (b *MessageBuilder) Content(content string) *MessageBuilder {
	b.msg.Content = content
	return b
}

func (b *MessageBuilder) Meta(key string, value any) *MessageBuilder {
	if b.msg.Meta == nil {
		b.msg.Meta = make(map[string]any)
	}
	b.msg.Meta[key] = value
	return b
}

func (b *MessageBuilder) CreatedAt(t time.Time) *MessageBuilder {
	b.msg.CreatedAt = t
	return b
}

// Build returns the assembled Message.
func (b *MessageBuilder) Build() Message {
	return b.msg
}
