package agentloop

import (
	"github.com/martinemde/gitpilot/unifiedllm"
)

// Message is a single transcript entry.
type Message struct {
	Role    unifiedllm.Role `json:"role"`
	Content string          `json:"content"`

	// reviewed marks entries the compactor has already decided on.
	reviewed bool
}

// Conversation is the ordered transcript replayed to the model on every call.
// Index 0 is always the system prompt. Entries are only appended; the
// compactor is the one writer allowed to replace content in place.
type Conversation struct {
	messages []Message
}

// NewConversation seeds a conversation with a system prompt followed by any
// example exchange.
func NewConversation(systemPrompt string, examples ...Message) *Conversation {
	c := &Conversation{
		messages: make([]Message, 0, len(examples)+16),
	}
	c.messages = append(c.messages, Message{Role: unifiedllm.RoleSystem, Content: systemPrompt})
	c.messages = append(c.messages, examples...)
	return c
}

// Append adds a message to the end of the conversation.
func (c *Conversation) Append(role unifiedllm.Role, content string) {
	c.messages = append(c.messages, Message{Role: role, Content: content})
}

// Len returns the number of messages.
func (c *Conversation) Len() int { return len(c.messages) }

// At returns the message at index i.
func (c *Conversation) At(i int) Message { return c.messages[i] }

// Last returns the final message.
func (c *Conversation) Last() Message { return c.messages[len(c.messages)-1] }

// Messages returns a copy of the transcript.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// ToLLMMessages converts the transcript into model request messages.
func (c *Conversation) ToLLMMessages() []unifiedllm.Message {
	out := make([]unifiedllm.Message, 0, len(c.messages))
	for _, m := range c.messages {
		out = append(out, unifiedllm.Message{
			Role:    m.Role,
			Content: []unifiedllm.ContentPart{unifiedllm.TextPart(m.Content)},
		})
	}
	return out
}

// rewrite replaces the content of entry i and marks it reviewed. The system
// prompt is never rewritten.
func (c *Conversation) rewrite(i int, content string) {
	if i <= 0 || i >= len(c.messages) {
		return
	}
	c.messages[i].Content = content
	c.messages[i].reviewed = true
}

func (c *Conversation) markReviewed(i int) {
	if i <= 0 || i >= len(c.messages) {
		return
	}
	c.messages[i].reviewed = true
}
