// Package mock provides a scripted eino chat model for tests.
package mock

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ChatModel answers every call with Reply (or Err). Stream splits Reply
// into Chunks pieces of roughly equal size.
type ChatModel struct {
	mu sync.Mutex

	Reply  string
	Err    error
	Chunks int

	inputs [][]*schema.Message
}

var _ model.ChatModel = (*ChatModel)(nil)

// Generate returns Reply as one assistant message.
func (m *ChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.record(input)
	if m.Err != nil {
		return nil, m.Err
	}
	return schema.AssistantMessage(m.Reply, nil), nil
}

// Stream returns Reply split into chunks.
func (m *ChatModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.record(input)
	if m.Err != nil {
		return nil, m.Err
	}

	n := m.Chunks
	if n <= 0 {
		n = 1
	}
	size := (len(m.Reply) + n - 1) / n
	if size == 0 {
		size = 1
	}
	var parts []*schema.Message
	for start := 0; start < len(m.Reply); start += size {
		end := min(start+size, len(m.Reply))
		parts = append(parts, schema.AssistantMessage(m.Reply[start:end], nil))
	}
	return schema.StreamReaderFromArray(parts), nil
}

// BindTools is a no-op.
func (m *ChatModel) BindTools([]*schema.ToolInfo) error { return nil }

// Inputs returns the prompts the model received.
func (m *ChatModel) Inputs() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*schema.Message(nil), m.inputs...)
}

func (m *ChatModel) record(input []*schema.Message) {
	m.mu.Lock()
	m.inputs = append(m.inputs, input)
	m.mu.Unlock()
}
