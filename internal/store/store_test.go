package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rahul/cortex/internal/goal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConversationLog_Order(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddMessage(ctx, "c1", RoleHuman, "find flights", nil))
	require.NoError(t, s.AddMessage(ctx, "c1", RoleAI, "", map[string]any{"kind": "tool_calls"}))
	require.NoError(t, s.AddMessage(ctx, "c1", RoleTool, "3 results", map[string]any{"tool_call_id": "call_1"}))
	require.NoError(t, s.AddMessage(ctx, "c1", RoleAI, "Booked.", map[string]any{"kind": "final"}))
	require.NoError(t, s.AddMessage(ctx, "other", RoleHuman, "unrelated", nil))

	msgs, err := s.GetConversation(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, RoleHuman, msgs[0].Role)
	assert.Equal(t, RoleTool, msgs[2].Role)
	assert.Equal(t, "call_1", msgs[2].Meta["tool_call_id"])
	assert.Equal(t, "Booked.", msgs[3].Content)

	last, err := s.GetConversation(ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, RoleTool, last[0].Role)
}

func TestGetHistory_SkipsToolTraffic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddMessage(ctx, "c1", RoleHuman, "hi", nil))
	require.NoError(t, s.AddMessage(ctx, "c1", RoleAI, "", map[string]any{"kind": "tool_calls"}))
	require.NoError(t, s.AddMessage(ctx, "c1", RoleTool, "raw", nil))
	require.NoError(t, s.AddMessage(ctx, "c1", RoleAI, "hello", nil))

	history, err := s.GetHistory(ctx, "c1", 5)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, llms.ChatMessageTypeHuman, history[0].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, history[1].Role)
}

func TestTaskNodes_SaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	node := goal.TaskNode{
		ID:          "t1",
		Type:        goal.NodeTask,
		Description: "Write report",
		TaskStatus:  goal.StatusActive,
		Progress:    33,
		LastUpdated: time.UnixMilli(1700000000000),
		Metadata: map[string]any{
			goal.MetadataSteps: []goal.Step{{ID: "t1-step-1", Order: 1, Completed: true}},
		},
	}
	require.NoError(t, s.SaveTask(ctx, "chat", "root", node))

	node.TaskStatus = goal.StatusCompleted
	node.Progress = 100
	node.Result = "done"
	require.NoError(t, s.SaveTask(ctx, "chat", "root", node))

	got, ok, err := s.LoadTask(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, goal.StatusCompleted, got.TaskStatus)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "done", got.Result)
	assert.Equal(t, node.LastUpdated, got.LastUpdated)

	steps, ok := got.Metadata[goal.MetadataSteps].([]any)
	require.True(t, ok, "metadata comes back as generic JSON")
	assert.Len(t, steps, 1)

	_, ok, err = s.LoadTask(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveTree_ListTasks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tree := goal.NewTree(&goal.TaskNode{ID: "g", Type: goal.NodeGoal, TaskStatus: goal.StatusActive, Children: []*goal.TaskNode{
		{ID: "a", Type: goal.NodeTask, TaskStatus: goal.StatusPending, LastUpdated: time.UnixMilli(1000)},
		{ID: "b", Type: goal.NodeTask, TaskStatus: goal.StatusPending, LastUpdated: time.UnixMilli(2000)},
	}})
	require.NoError(t, s.SaveTree(ctx, "chat", tree))

	tasks, err := s.ListTasks(ctx, "chat", 10)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "b", tasks[0].ID)
}

func TestSchedules(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(10_000, 0)
	s.now = func() time.Time { return now }

	require.NoError(t, s.AddSchedule(ctx, "chat", "water the plants", 3600))
	require.NoError(t, s.AddSchedule(ctx, "chat", "one-off", 0))

	due, err := s.DueSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, due, 2)

	require.NoError(t, s.MarkScheduleRun(ctx, due[0].ID))
	require.NoError(t, s.DeleteSchedule(ctx, "chat", due[1].ID))

	due, err = s.DueSchedules(ctx)
	require.NoError(t, err)
	assert.Empty(t, due)

	now = now.Add(time.Hour)
	due, err = s.DueSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "water the plants", due[0].Goal)

	require.NoError(t, s.ClearSchedules(ctx, "chat"))
	all, err := s.ListSchedules(ctx, "chat")
	require.NoError(t, err)
	assert.Empty(t, all)
}
