package llm

import (
	"context"
	"strings"
	"time"
)

type mockGenerator struct {
	reply string
}

// NewMockGenerator replies with reply, or echoes the latest user message
// when reply is empty.
func NewMockGenerator(reply string) Generator { return &mockGenerator{reply: reply} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	content := m.reply
	if content == "" {
		content = "[mock completion for " + strings.TrimSpace(lastUser(req.Messages)) + "]"
	}
	return consumer(Chunk{
		TurnID:  req.TurnID,
		Content: content,
		Partial: false,
		Latency: 20 * time.Millisecond,
	})
}

func lastUser(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
