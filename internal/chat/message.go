package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/docuchat/docuchat/internal/gemini"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
)

// Message is one turn in the transcript. The model's message is mutated
// incrementally while streaming and finalized when the stream ends.
type Message struct {
	ID        uuid.UUID
	Role      Role
	Text      string
	CreatedAt time.Time

	// Streaming is true while fragments are still arriving.
	Streaming bool

	// Citations are the grounding references collected over the turn.
	Citations []gemini.Citation
}

// NewUserMessage creates a completed user message.
func NewUserMessage(text string) *Message {
	return &Message{
		ID:        uuid.New(),
		Role:      RoleUser,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

// NewModelMessage creates an empty, streaming model message.
func NewModelMessage() *Message {
	return &Message{
		ID:        uuid.New(),
		Role:      RoleModel,
		CreatedAt: time.Now(),
		Streaming: true,
	}
}

// Append adds a streamed fragment and any citations that arrived with it.
// Citations are deduplicated by URI; grounding metadata tends to repeat
// on the final fragments of a turn.
func (m *Message) Append(text string, citations []gemini.Citation) {
	m.Text += text
	for _, c := range citations {
		if !m.hasCitation(c.URI) {
			m.Citations = append(m.Citations, c)
		}
	}
}

// Finalize clears the streaming flag. Called when the stream ends or
// errors; partial text already appended stays intact.
func (m *Message) Finalize() {
	m.Streaming = false
}

func (m *Message) hasCitation(uri string) bool {
	for _, c := range m.Citations {
		if c.URI == uri {
			return true
		}
	}
	return false
}
