package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rahul/cortex/internal/memory"
	"github.com/rahul/cortex/internal/observability"
	"github.com/rahul/cortex/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func newTestLoop(model ModelService, ft *fakeTools, st *memStore, opts ...LoopOption) *Loop {
	return NewLoop(model, ft, st, nil, opts...)
}

func runRequest(goal string) RunRequest {
	return RunRequest{
		ConversationID: "conv",
		ChatID:         "telegram:1",
		TaskID:         "t1",
		Role:           Role{Name: RoleWorker, Instructions: "You are a worker."},
		Goal:           goal,
	}
}

func TestLoop_FinishesWithoutTools(t *testing.T) {
	model := &scriptedModel{steps: []scriptStep{text("It is sunny.")}}
	st := newMemStore()
	loop := newTestLoop(model, &fakeTools{}, st)

	res, err := loop.Run(context.Background(), runRequest("what is the weather"))
	require.NoError(t, err)
	assert.Equal(t, RunResult{Completed: true, Result: "It is sunny.", Iterations: 1, State: StateDone}, res)
	assert.Equal(t, []string{"ai/final"}, describe(st.conversation("conv")))

	require.Equal(t, 1, model.callCount())
	first := model.calls[0]
	assert.Equal(t, llms.ChatMessageTypeSystem, first.Messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, first.Messages[1].Role)
	assert.Len(t, first.Tools, 1)
}

func TestLoop_SearchThenDone(t *testing.T) {
	model := &scriptedModel{steps: []scriptStep{
		calls(toolCall("c1", "web_search", `{"query":"flights"}`)),
		text("Done"),
	}}
	st := newMemStore()
	ft := &fakeTools{}
	loop := newTestLoop(model, ft, st)

	res, err := loop.Run(context.Background(), runRequest("find flights"))
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, "Done", res.Result)
	assert.Equal(t, 1, res.ToolCallsMade)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, StateDone, res.State)

	msgs := st.conversation("conv")
	assert.Equal(t, []string{"ai/tool_calls", "tool/", "ai/final"}, describe(msgs))
	assert.Equal(t, "c1", msgs[1].Meta["tool_call_id"])
	assert.Equal(t, "web_search ok", msgs[1].Content)

	// the second round sees the call and its result
	second := model.calls[1].Messages
	require.Len(t, second, 4)
	assert.Equal(t, llms.ChatMessageTypeAI, second[2].Role)
	assert.Equal(t, llms.ChatMessageTypeTool, second[3].Role)
	assert.Equal(t, "web_search ok", second[3].Parts[0].(llms.ToolCallResponse).Content)

	require.Len(t, ft.contexts, 1)
	assert.Equal(t, "t1", ft.contexts[0].TaskID)
	assert.Equal(t, RoleWorker, ft.contexts[0].Role)
}

func TestLoop_LogsResultsInCallOrder(t *testing.T) {
	model := &scriptedModel{steps: []scriptStep{
		calls(
			toolCall("a", "web_search", `{}`),
			toolCall("b", "scraper", `{}`),
			toolCall("c", "filesystem", `{}`),
		),
		text("ok"),
	}}
	st := newMemStore()
	loop := newTestLoop(model, &fakeTools{}, st)

	res, err := loop.Run(context.Background(), runRequest("do three things"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.ToolCallsMade)

	var ids []string
	for _, m := range st.conversation("conv") {
		if m.Role == store.RoleTool {
			ids = append(ids, m.Meta["tool_call_id"].(string))
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestLoop_ExhaustsAtIterationCap(t *testing.T) {
	always := ModelResponse{ToolCalls: []llms.ToolCall{toolCall("c", "web_search", `{}`)}}
	model := &scriptedModel{repeat: &always}
	st := newMemStore()
	loop := newTestLoop(model, &fakeTools{}, st)

	res, err := loop.Run(context.Background(), runRequest("never ends"))
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, DefaultMaxIterations, res.Iterations)
	assert.Equal(t, DefaultMaxIterations, res.ToolCallsMade)
	assert.Equal(t, StateExhausted, res.State)
	assert.Equal(t, ExhaustedMessage, res.Result)
	assert.Equal(t, DefaultMaxIterations, model.callCount())
}

func TestLoop_FinishesAtIterationK(t *testing.T) {
	model := &scriptedModel{steps: []scriptStep{
		calls(toolCall("1", "web_search", `{}`)),
		calls(toolCall("2", "web_search", `{}`)),
		text("found it"),
	}}
	loop := newTestLoop(model, &fakeTools{}, newMemStore(), WithMaxIterations(5))

	res, err := loop.Run(context.Background(), runRequest("search twice"))
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 2, res.ToolCallsMade)
}

func TestLoop_ModelErrorPropagates(t *testing.T) {
	boom := errors.New("rate limited")
	model := &scriptedModel{steps: []scriptStep{
		calls(toolCall("1", "web_search", `{}`)),
		{err: boom},
	}}
	loop := newTestLoop(model, &fakeTools{}, newMemStore())

	res, err := loop.Run(context.Background(), runRequest("x"))
	assert.Same(t, boom, err)
	assert.False(t, res.Completed)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 1, res.ToolCallsMade)
}

func TestLoop_ToolExecutorErrorPropagates(t *testing.T) {
	boom := errors.New("executor down")
	model := &scriptedModel{steps: []scriptStep{calls(toolCall("1", "web_search", `{}`))}}
	loop := newTestLoop(model, &fakeTools{err: boom}, newMemStore())

	_, err := loop.Run(context.Background(), runRequest("x"))
	assert.Same(t, boom, err)
}

func TestLoop_LogErrorPropagates(t *testing.T) {
	boom := errors.New("disk full")
	st := newMemStore()
	st.addErr = boom
	loop := newTestLoop(&scriptedModel{steps: []scriptStep{text("hi")}}, &fakeTools{}, st)

	_, err := loop.Run(context.Background(), runRequest("x"))
	assert.Same(t, boom, err)
}

func TestLoop_BeforeIterationAborts(t *testing.T) {
	model := &scriptedModel{steps: []scriptStep{
		calls(toolCall("1", "web_search", `{}`)),
		text("never reached"),
	}}
	loop := newTestLoop(model, &fakeTools{}, newMemStore())

	rounds := 0
	req := runRequest("x")
	req.BeforeIteration = func(context.Context) error {
		rounds++
		if rounds > 1 {
			return ErrTaskTimedOut
		}
		return nil
	}

	res, err := loop.Run(context.Background(), req)
	assert.ErrorIs(t, err, ErrTaskTimedOut)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, 1, model.callCount())
}

func TestLoop_CancelledContext(t *testing.T) {
	model := &scriptedModel{}
	loop := newTestLoop(model, &fakeTools{}, newMemStore())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := loop.Run(ctx, runRequest("x"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, model.callCount())
}

func TestLoop_RendersWorkingMemoryEachRound(t *testing.T) {
	mem := memory.Initialize("prefers aisle seats", nil)
	model := &scriptedModel{steps: []scriptStep{
		{
			resp: ModelResponse{ToolCalls: []llms.ToolCall{toolCall("1", "web_search", `{}`)}},
			before: func() {
				memories := []string{"budget is 300 EUR"}
				mem.Update(memory.Patch{Memories: &memories})
			},
		},
		text("ok"),
	}}
	loop := newTestLoop(model, &fakeTools{}, newMemStore())

	req := runRequest("book")
	req.Memory = mem
	_, err := loop.Run(context.Background(), req)
	require.NoError(t, err)

	system := func(i int) string {
		return model.calls[i].Messages[0].Parts[0].(llms.TextContent).Text
	}
	assert.True(t, strings.HasPrefix(system(0), "You are a worker."))
	assert.Contains(t, system(0), "prefers aisle seats")
	assert.Contains(t, system(1), "budget is 300 EUR")
	assert.NotContains(t, system(1), "prefers aisle seats")
}

func TestLoop_Metrics(t *testing.T) {
	m := observability.NewMetrics(nil)
	model := &scriptedModel{steps: []scriptStep{calls(toolCall("1", "web_search", `{}`)), text("ok")}}
	loop := newTestLoop(model, &fakeTools{}, newMemStore(), WithLoopMetrics(m), WithTemperature(0.7))

	_, err := loop.Run(context.Background(), runRequest("x"))
	require.NoError(t, err)
	assert.Equal(t, 0.7, model.calls[0].Temperature)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.LoopIterations.WithLabelValues(RoleWorker)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoopOutcomes.WithLabelValues(RoleWorker, string(StateDone))))
	assert.Zero(t, testutil.ToFloat64(m.LoopOutcomes.WithLabelValues(RoleWorker, string(StateExhausted))))
}

func TestTransition(t *testing.T) {
	cases := []struct {
		from LoopState
		ev   loopEvent
		want LoopState
		ok   bool
	}{
		{StateReasoning, eventToolCalls, StateActingOnTools, true},
		{StateReasoning, eventFinalAnswer, StateDone, true},
		{StateReasoning, eventIterationCap, StateExhausted, true},
		{StateActingOnTools, eventToolsExecuted, StateReasoning, true},
		{StateActingOnTools, eventFinalAnswer, StateActingOnTools, false},
		{StateDone, eventToolCalls, StateDone, false},
		{StateExhausted, eventToolsExecuted, StateExhausted, false},
	}
	for _, c := range cases {
		got, err := transition(c.from, c.ev)
		assert.Equal(t, c.want, got, "%s on %s", c.from, c.ev)
		assert.Equal(t, c.ok, err == nil, "%s on %s", c.from, c.ev)
	}
	assert.True(t, StateDone.Terminal())
	assert.False(t, StateActingOnTools.Terminal())
}
