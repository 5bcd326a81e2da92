package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rahul/cortex/internal/goal"
	"github.com/rahul/cortex/internal/governance"
	"github.com/rahul/cortex/internal/memory"
	"github.com/rahul/cortex/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type echoTool struct {
	name string
	err  error
}

func (e *echoTool) Name() string               { return e.name }
func (e *echoTool) Description() string        { return "echoes its input" }
func (e *echoTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (e *echoTool) Execute(ctx context.Context, tc Context, input string) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	return e.name + ":" + input, nil
}

func call(id, name, args string) llms.ToolCall {
	return llms.ToolCall{
		ID:           id,
		Type:         "function",
		FunctionCall: &llms.FunctionCall{Name: name, Arguments: args},
	}
}

func newRegistry(ts ...Tool) *Registry {
	r := NewRegistry()
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

func TestRegistry_DefinitionsSortedAndFiltered(t *testing.T) {
	r := newRegistry(&echoTool{name: "web_search"}, &echoTool{name: "filesystem"}, &echoTool{name: "shell"})

	defs := r.Definitions(Context{})
	require.Len(t, defs, 3)
	assert.Equal(t, "filesystem", defs[0].Function.Name)
	assert.Equal(t, "web_search", defs[2].Function.Name)

	defs = r.Definitions(Context{Allowed: []string{"shell"}})
	require.Len(t, defs, 1)
	assert.Equal(t, "shell", defs[0].Function.Name)
}

func TestBatchExecutor_KeepsCallOrder(t *testing.T) {
	r := newRegistry(&echoTool{name: "a"}, &echoTool{name: "b"})
	exec := NewBatchExecutor(r, nil, nil, WithConcurrency(4))

	results, err := exec.ExecuteTools(context.Background(), Context{}, []llms.ToolCall{
		call("1", "b", "x"),
		call("2", "a", "y"),
		call("3", "b", "z"),
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, Result{ToolCallID: "1", Name: "b", Content: "b:x"}, results[0])
	assert.Equal(t, Result{ToolCallID: "2", Name: "a", Content: "a:y"}, results[1])
	assert.Equal(t, Result{ToolCallID: "3", Name: "b", Content: "b:z"}, results[2])
}

func TestBatchExecutor_FailuresBecomeResultText(t *testing.T) {
	r := newRegistry(&echoTool{name: "broken", err: fmt.Errorf("disk full")}, &echoTool{name: "hidden"})
	exec := NewBatchExecutor(r, nil, nil)

	results, err := exec.ExecuteTools(context.Background(), Context{Allowed: []string{"broken"}}, []llms.ToolCall{
		call("1", "broken", "{}"),
		call("2", "missing", "{}"),
		call("3", "hidden", "{}"),
		{ID: "4"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Error: disk full", results[0].Content)
	assert.Equal(t, "Error: Tool missing not found", results[1].Content)
	assert.Equal(t, "Error: Tool hidden not found", results[2].Content)
	assert.Contains(t, results[3].Content, "without a function")
}

func TestBatchExecutor_PolicyBlocks(t *testing.T) {
	policy := governance.NewDefaultPolicyEngine()
	policy.DenyTool("shell")
	r := newRegistry(&echoTool{name: "shell"})
	metrics := observability.NewMetrics(nil)
	exec := NewBatchExecutor(r, policy, nil, WithMetrics(metrics))

	results, err := exec.ExecuteTools(context.Background(), Context{}, []llms.ToolCall{call("1", "shell", `{"command":"rm -rf /"}`)})
	require.NoError(t, err)
	assert.Contains(t, results[0].Content, "Blocked by policy")
}

func TestBatchExecutor_CancelledContext(t *testing.T) {
	r := newRegistry(&echoTool{name: "a"})
	exec := NewBatchExecutor(r, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := exec.ExecuteTools(ctx, Context{}, []llms.ToolCall{call("1", "a", "")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWorkingMemoryTool(t *testing.T) {
	mem := memory.Initialize("likes window seats", nil)
	tool := NewWorkingMemoryTool()
	tc := Context{Memory: mem}

	out, err := tool.Execute(context.Background(), tc, `{"goals":[{"id":"g1","description":"book flight","status":"active"}]}`)
	require.NoError(t, err)
	assert.Equal(t, "Working memory updated: 1 goals, 1 memories.", out)
	assert.Equal(t, goal.StatusActive, mem.State().Goals[0].Status)

	out, err = tool.Execute(context.Background(), tc, `{"memories":[]}`)
	require.NoError(t, err)
	assert.Equal(t, "Working memory updated: 1 goals, 0 memories.", out)

	out, err = tool.Execute(context.Background(), tc, `{}`)
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to update")

	out, err = tool.Execute(context.Background(), Context{}, `{"memories":["x"]}`)
	require.NoError(t, err)
	assert.Contains(t, out, "no working memory")
}

type memSchedules struct {
	mu    sync.Mutex
	added []string
	clear int
}

func (m *memSchedules) AddSchedule(ctx context.Context, chatID, goal string, interval int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added = append(m.added, fmt.Sprintf("%s|%s|%d", chatID, goal, interval))
	return nil
}

func (m *memSchedules) ClearSchedules(ctx context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clear++
	return nil
}

func TestScheduleTool(t *testing.T) {
	store := &memSchedules{}
	tool := NewScheduleTool(store)
	tc := Context{ChatID: "telegram:42"}
	ctx := context.Background()

	out, err := tool.Execute(ctx, tc, `{"action":"schedule","goal":"check the news","interval_seconds":30}`)
	require.NoError(t, err)
	assert.Contains(t, out, "Minimum interval")
	assert.Empty(t, store.added)

	_, err = tool.Execute(ctx, tc, `{"action":"schedule","goal":"check the news","interval_seconds":3600}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"telegram:42|check the news|3600"}, store.added)

	_, err = tool.Execute(ctx, tc, `{"action":"clear"}`)
	require.NoError(t, err)
	assert.Equal(t, 1, store.clear)

	_, err = tool.Execute(ctx, Context{}, `{"action":"clear"}`)
	assert.Error(t, err)
}

func TestFilesystemTool(t *testing.T) {
	root := t.TempDir()
	fs := NewFilesystemTool(root)
	ctx := context.Background()

	_, err := fs.Execute(ctx, Context{}, `{"command":"write","filename":"notes/a.txt","content":"hello"}`)
	require.NoError(t, err)
	_, err = fs.Execute(ctx, Context{}, `{"command":"append","filename":"notes/a.txt","content":" world"}`)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "notes", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	out, err := fs.Execute(ctx, Context{}, `{"command":"list","filename":"notes"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "[file] a.txt")

	_, err = fs.Execute(ctx, Context{}, `{"command":"read","filename":"../../etc/passwd"}`)
	assert.ErrorContains(t, err, "unsafe path")
}

func TestShellTool(t *testing.T) {
	sh := NewShellTool(t.TempDir())
	out, err := sh.Execute(context.Background(), Context{}, `{"command":"echo hi"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "hi")
}

func TestShellTool_FailureIsOutput(t *testing.T) {
	sh := NewShellTool(t.TempDir())
	sh.MaxOutput = 10

	out, err := sh.Execute(context.Background(), Context{}, `{"command":"echo abcdefghijklmnop; exit 3"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "exited with code 3")
	assert.Contains(t, out, "truncated")

	out, err = sh.Execute(context.Background(), Context{}, `{"command":"  "}`)
	require.NoError(t, err)
	assert.Equal(t, "Error: empty command", out)
}

type countingSearcher struct {
	queries []string
	answer  string
	err     error
}

func (c *countingSearcher) Call(ctx context.Context, input string) (string, error) {
	c.queries = append(c.queries, input)
	return c.answer, c.err
}

func TestSearchTool_CachesAndFormats(t *testing.T) {
	client := &countingSearcher{answer: "Title: Go\nLink: https://go.dev"}
	s, err := newSearchTool(client)
	require.NoError(t, err)
	ctx := context.Background()

	out, err := s.Execute(ctx, Context{}, `{"query":"  go   release notes ","site":"https://go.dev/"}`)
	require.NoError(t, err)
	assert.Equal(t, "Results for \"site:go.dev go release notes\":\n\nTitle: Go\nLink: https://go.dev", out)

	again, err := s.Execute(ctx, Context{}, `{"query":"go release notes","site":"go.dev"}`)
	require.NoError(t, err)
	assert.Equal(t, out, again)
	assert.Equal(t, []string{"site:go.dev go release notes"}, client.queries)

	out, err = s.Execute(ctx, Context{}, `{"query":"   "}`)
	require.NoError(t, err)
	assert.Equal(t, "Error: query is required", out)
	assert.Len(t, client.queries, 1)
}

func TestSearchTool_EmptyAndFailingResults(t *testing.T) {
	client := &countingSearcher{answer: noResultsText}
	s, err := newSearchTool(client)
	require.NoError(t, err)

	out, err := s.Execute(context.Background(), Context{}, `{"query":"zzqx"}`)
	require.NoError(t, err)
	assert.Equal(t, `No results for "zzqx".`, out)

	client.err = errors.New("rate limited")
	_, err = s.Execute(context.Background(), Context{}, `{"query":"other"}`)
	assert.ErrorContains(t, err, "rate limited")
}
