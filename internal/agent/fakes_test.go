package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rahul/cortex/internal/goal"
	"github.com/rahul/cortex/internal/store"
	"github.com/rahul/cortex/internal/tools"
	"github.com/tmc/langchaingo/llms"
)

type scriptStep struct {
	resp ModelResponse
	err  error
	// before runs when the step is served
	before func()
}

// scriptedModel serves its steps in order, then repeats repeat (or answers
// "done" when repeat is nil).
type scriptedModel struct {
	mu     sync.Mutex
	steps  []scriptStep
	repeat *ModelResponse
	calls  []ModelRequest
}

func (m *scriptedModel) Call(ctx context.Context, req ModelRequest) (ModelResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := make([]llms.MessageContent, len(req.Messages))
	copy(msgs, req.Messages)
	req.Messages = msgs
	m.calls = append(m.calls, req)

	i := len(m.calls) - 1
	if i < len(m.steps) {
		s := m.steps[i]
		if s.before != nil {
			s.before()
		}
		return s.resp, s.err
	}
	if m.repeat != nil {
		return *m.repeat, nil
	}
	return ModelResponse{Content: "done"}, nil
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func text(content string) scriptStep {
	return scriptStep{resp: ModelResponse{Content: content}}
}

func toolCall(id, name, args string) llms.ToolCall {
	return llms.ToolCall{ID: id, Type: "function", FunctionCall: &llms.FunctionCall{Name: name, Arguments: args}}
}

func calls(tcs ...llms.ToolCall) scriptStep {
	return scriptStep{resp: ModelResponse{ToolCalls: tcs}}
}

// fakeTools answers every call with "<name> ok".
type fakeTools struct {
	mu       sync.Mutex
	batches  [][]llms.ToolCall
	contexts []tools.Context
	err      error
}

func (f *fakeTools) Definitions(tc tools.Context) []llms.Tool {
	return []llms.Tool{{Type: "function", Function: &llms.FunctionDefinition{Name: "web_search"}}}
}

func (f *fakeTools) ExecuteTools(ctx context.Context, tc tools.Context, batch []llms.ToolCall) ([]tools.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, batch)
	f.contexts = append(f.contexts, tc)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]tools.Result, len(batch))
	for i, c := range batch {
		out[i] = tools.Result{ToolCallID: c.ID, Name: c.FunctionCall.Name, Content: c.FunctionCall.Name + " ok"}
	}
	return out, nil
}

// memStore keeps conversation entries and the latest copy of every saved node.
type memStore struct {
	mu       sync.Mutex
	messages []store.Message
	nodes    map[string]goal.TaskNode
	saves    int
	addErr   error
}

func newMemStore() *memStore {
	return &memStore{nodes: make(map[string]goal.TaskNode)}
}

func (s *memStore) AddMessage(ctx context.Context, conversationID, role, content string, meta map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addErr != nil {
		return s.addErr
	}
	s.messages = append(s.messages, store.Message{
		ID:             int64(len(s.messages) + 1),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Meta:           meta,
	})
	return nil
}

func (s *memStore) GetConversation(ctx context.Context, conversationID string, limit int) ([]store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Message
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) SaveTree(ctx context.Context, chatID string, tree *goal.Tree) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	var walk func(n *goal.TaskNode)
	walk = func(n *goal.TaskNode) {
		s.nodes[n.ID] = n.Clone()
		for _, c := range n.Children {
			walk(c)
		}
	}
	if tree.Root != nil {
		walk(tree.Root)
	}
	return nil
}

func (s *memStore) conversation(id string) []store.Message {
	msgs, _ := s.GetConversation(context.Background(), id, 0)
	return msgs
}

func (s *memStore) tasks() []goal.TaskNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []goal.TaskNode
	for _, n := range s.nodes {
		if n.Type == goal.NodeTask {
			out = append(out, n)
		}
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func describe(msgs []store.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		kind, _ := m.Meta["kind"].(string)
		out[i] = fmt.Sprintf("%s/%s", m.Role, kind)
	}
	return out
}
