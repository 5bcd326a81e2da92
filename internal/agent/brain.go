package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rahul/cortex/internal/contingency"
	"github.com/rahul/cortex/internal/goal"
	"github.com/rahul/cortex/internal/memory"
	"github.com/rahul/cortex/internal/observability"
	"github.com/rahul/cortex/internal/store"
	"github.com/rahul/cortex/internal/tactical"
	"github.com/rahul/cortex/internal/tools"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

// ErrTaskTimedOut aborts a step run once its task passed the timeout.
var ErrTaskTimedOut = errors.New("task timed out")

const timeoutReason = "timeout"

// Brain defines the core intelligence interface for the agent.
type Brain interface {
	Think(ctx context.Context, chatID string, input string) (string, error)
}

// Store is what the brain persists: conversation turns and task nodes.
type Store interface {
	ConversationLog
	GetConversation(ctx context.Context, conversationID string, limit int) ([]store.Message, error)
	SaveTree(ctx context.Context, chatID string, tree *goal.Tree) error
}

type BrainConfig struct {
	TaskTimeout time.Duration
	// HistorySeed is how many recent turns seed the working memory.
	HistorySeed int
}

type BrainOption func(*MasterBrain)

func WithStatus(s *observability.Status) BrainOption {
	return func(b *MasterBrain) {
		b.status = s
	}
}

func WithBrainMetrics(m *observability.Metrics) BrainOption {
	return func(b *MasterBrain) {
		b.metrics = m
	}
}

func WithBrainClock(now func() time.Time) BrainOption {
	return func(b *MasterBrain) {
		b.now = now
	}
}

// MasterBrain plans a response to each message and executes it: direct
// replies, direct tool calls, or a decomposed goal whose tasks run one by
// one through a tactical executor and the agent loop.
type MasterBrain struct {
	planner     *Planner
	loop        *Loop
	tools       ToolExecutor
	store       Store
	prompts     *PromptManager
	contingency *contingency.Manager
	logger      *observability.Logger
	metrics     *observability.Metrics
	status      *observability.Status
	cfg         BrainConfig
	now         func() time.Time
}

func NewMasterBrain(planner *Planner, loop *Loop, executor ToolExecutor, st Store, prompts *PromptManager,
	cm *contingency.Manager, logger *observability.Logger, cfg BrainConfig, opts ...BrainOption) *MasterBrain {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = tactical.DefaultTimeout
	}
	b := &MasterBrain{
		planner:     planner,
		loop:        loop,
		tools:       executor,
		store:       st,
		prompts:     prompts,
		contingency: cm,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// run is the state of one Think invocation.
type run struct {
	chatID   string
	input    string
	memory   *memory.Manager
	executor *tactical.Executor
	notes    []string
}

func (b *MasterBrain) Think(ctx context.Context, chatID string, input string) (string, error) {
	b.status.Set(observability.RoleMaster, input)
	defer b.status.Set(observability.RoleIdle, "")

	seed, err := b.historySeed(ctx, chatID)
	if err != nil {
		return "", fmt.Errorf("failed to load conversation: %w", err)
	}
	if err := b.store.AddMessage(ctx, chatID, store.RoleHuman, input, nil); err != nil {
		return "", fmt.Errorf("failed to log message: %w", err)
	}

	r := &run{
		chatID:   chatID,
		input:    input,
		memory:   memory.Initialize(seed, b.logger),
		executor: tactical.NewExecutor(b.logger, tactical.WithTimeout(b.cfg.TaskTimeout), tactical.WithClock(b.now)),
	}

	plannerPrompt, err := b.prompts.Role(RolePlanner)
	if err != nil {
		return "", err
	}
	proposals, err := b.planner.Propose(ctx, plannerPrompt, input, r.memory)
	if err != nil {
		return "", fmt.Errorf("planning failed: %w", err)
	}
	chosen, ok := SelectProposal(proposals)
	if !ok {
		chosen = Proposal{Source: "default", Decision: Decision{
			Actions:  []Action{ActionDecompose},
			Payloads: map[Action]string{ActionDecompose: input},
		}}
	}
	b.logger.Info("proposal selected",
		zap.String("chat_id", chatID),
		zap.String("source", chosen.Source),
		zap.Int("priority", chosen.Priority),
		zap.Float64("confidence", chosen.Confidence),
		zap.Int("proposals", len(proposals)),
	)

	if !chosen.Decision.StateUpdates.IsEmpty() {
		r.memory.Update(chosen.Decision.StateUpdates)
	}

	var reply string
actions:
	for _, action := range chosen.Decision.Actions {
		payload := chosen.Decision.Payloads[action]
		switch action {
		case ActionRespond:
			reply = payload
		case ActionCallTool:
			if err := b.callTool(ctx, r, payload); err != nil {
				return "", err
			}
		case ActionDecompose:
			if err := b.executeGoal(ctx, r, payload); err != nil {
				return "", err
			}
		case ActionTerminate:
			if payload != "" {
				reply = payload
			}
			break actions
		}
	}

	if reply == "" && len(r.notes) > 0 {
		return b.respond(ctx, r)
	}
	if reply == "" {
		reply = "Okay."
	}
	if err := b.store.AddMessage(ctx, chatID, store.RoleAI, reply, map[string]any{"kind": "final", "role": RolePlanner}); err != nil {
		return "", fmt.Errorf("failed to log reply: %w", err)
	}
	return reply, nil
}

// historySeed renders the recent human and assistant turns, one per line.
func (b *MasterBrain) historySeed(ctx context.Context, chatID string) (string, error) {
	if b.cfg.HistorySeed <= 0 {
		return "", nil
	}
	msgs, err := b.store.GetConversation(ctx, chatID, b.cfg.HistorySeed*3)
	if err != nil {
		return "", err
	}

	var lines []string
	for _, m := range msgs {
		if m.Role != store.RoleHuman && m.Role != store.RoleAI {
			continue
		}
		if kind, _ := m.Meta["kind"].(string); kind == "tool_calls" {
			continue
		}
		text := strings.Join(strings.Fields(m.Content), " ")
		if text == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s said: %s", m.Role, text))
	}
	if len(lines) > b.cfg.HistorySeed {
		lines = lines[len(lines)-b.cfg.HistorySeed:]
	}
	return strings.Join(lines, "\n"), nil
}

func (b *MasterBrain) callTool(ctx context.Context, r *run, payload string) error {
	var call struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(payload), &call); err != nil || call.Name == "" {
		r.notes = append(r.notes, "- [failed] direct tool call: malformed request")
		return nil
	}
	args := string(call.Arguments)
	if args == "" || args == "null" {
		args = "{}"
	}

	tc := tools.Context{ConversationID: r.chatID, ChatID: r.chatID, Role: RolePlanner, Memory: r.memory}
	results, err := b.tools.ExecuteTools(ctx, tc, []llms.ToolCall{{
		ID:           "direct-" + call.Name,
		Type:         "function",
		FunctionCall: &llms.FunctionCall{Name: call.Name, Arguments: args},
	}})
	if err != nil {
		return err
	}
	for _, res := range results {
		r.notes = append(r.notes, fmt.Sprintf("- [tool %s] %s", res.Name, res.Content))
	}
	return nil
}

// executeGoal decomposes the goal and runs its tasks until none is pending.
// Failed tasks may get a fallback inserted right after them, which then runs
// like any other task.
func (b *MasterBrain) executeGoal(ctx context.Context, r *run, description string) error {
	root, err := b.planner.Decompose(ctx, description)
	if err != nil {
		return fmt.Errorf("decomposition failed: %w", err)
	}
	root.TaskStatus = goal.StatusActive
	tree := goal.NewTree(root)
	b.trackGoal(r, goal.Goal{ID: root.ID, Description: description, Status: goal.StatusActive})

	if err := b.store.SaveTree(ctx, r.chatID, tree); err != nil {
		return fmt.Errorf("failed to persist goal: %w", err)
	}

	for node := tree.Next(); node != nil; node = tree.Next() {
		if err := b.executeTask(ctx, r, tree, *node); err != nil {
			return err
		}
	}

	status := tree.Status()
	tree.Root.TaskStatus = status
	tree.Root.LastUpdated = b.now()
	if err := b.store.SaveTree(ctx, r.chatID, tree); err != nil {
		return fmt.Errorf("failed to persist goal: %w", err)
	}
	b.trackGoal(r, goal.Goal{ID: root.ID, Description: description, Status: status})

	for _, leaf := range tree.Leaves() {
		r.notes = append(r.notes, describeTask(*leaf))
	}
	return nil
}

func (b *MasterBrain) executeTask(ctx context.Context, r *run, tree *goal.Tree, node goal.TaskNode) error {
	exec := r.executor
	if err := exec.StartExecution(node); err != nil {
		return err
	}
	defer exec.Clear()

	task, _ := exec.CurrentTask()
	b.status.Set(observability.RoleWorker, task.Description)
	b.logger.LogTask(r.chatID, task.ID, string(task.TaskStatus), task.Description)
	if err := b.persist(ctx, r, tree, task); err != nil {
		return err
	}

	deadline, _ := exec.Deadline()
	taskCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	worker, err := b.prompts.Role(RoleWorker)
	if err != nil {
		return err
	}

	var failure, lastResult string
	for !exec.AreAllStepsCompleted() {
		step, ok := exec.CurrentStep()
		if !ok {
			break
		}
		res, err := b.loop.Run(taskCtx, RunRequest{
			ConversationID: r.chatID + "/" + task.ID,
			ChatID:         r.chatID,
			TaskID:         task.ID,
			Role:           Role{Name: RoleWorker, Instructions: worker},
			Goal:           stepPrompt(r.input, task, exec.Steps(), step),
			Memory:         r.memory,
			BeforeIteration: func(context.Context) error {
				if exec.HasTimedOut() {
					return ErrTaskTimedOut
				}
				return nil
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrTaskTimedOut) || errors.Is(err, context.DeadlineExceeded) {
				failure = timeoutReason
			} else {
				failure = err.Error()
			}
			break
		}
		if !res.Completed {
			failure = res.Result
			break
		}

		exec.CompleteCurrentStep(res.Result)
		lastResult = res.Result
		current, _ := exec.CurrentTask()
		b.status.SetProgress(current.Progress)
		b.logger.LogStep(r.chatID, current.ID, step.ID, current.Progress)
		if err := b.persist(ctx, r, tree, current); err != nil {
			return err
		}
	}

	elapsed := exec.ExecutionTime()
	var (
		final goal.TaskNode
		ok    bool
	)
	if failure == "" {
		final, ok = exec.CompleteExecution(task, lastResult)
	} else {
		final, ok = exec.FailExecution(task, failure)
	}
	if !ok {
		return fmt.Errorf("task %s is no longer active", task.ID)
	}
	b.observeTask(final, elapsed)
	b.logger.LogTask(r.chatID, final.ID, string(final.TaskStatus), final.Error)
	if err := b.persist(ctx, r, tree, final); err != nil {
		return err
	}

	if final.TaskStatus == goal.StatusFailed && b.contingency != nil {
		return b.recover(ctx, r, tree, final)
	}
	return nil
}

func (b *MasterBrain) recover(ctx context.Context, r *run, tree *goal.Tree, failed goal.TaskNode) error {
	fallback, err := b.contingency.HandleFailure(ctx, failed, failed.Error)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// the failure stands; the goal continues without a fallback
		b.logger.Warn("contingency failed", zap.String("task_id", failed.ID), zap.Error(err))
		return nil
	}
	if fallback == nil {
		return nil
	}
	if !tree.InsertAfter(failed.ID, fallback) {
		return fmt.Errorf("failed to insert fallback for task %s", failed.ID)
	}
	b.logger.LogFallback(r.chatID, failed.ID, fallback.ID)
	return b.store.SaveTree(ctx, r.chatID, tree)
}

func (b *MasterBrain) persist(ctx context.Context, r *run, tree *goal.Tree, node goal.TaskNode) error {
	tree.Replace(node)
	if err := b.store.SaveTree(ctx, r.chatID, tree); err != nil {
		return fmt.Errorf("failed to persist task %s: %w", node.ID, err)
	}
	return nil
}

func (b *MasterBrain) observeTask(final goal.TaskNode, elapsed time.Duration) {
	if b.metrics == nil {
		return
	}
	b.metrics.TaskOutcomes.WithLabelValues(string(final.TaskStatus)).Inc()
	b.metrics.TaskDuration.Observe(elapsed.Seconds())
}

// trackGoal upserts g into the working memory goals.
func (b *MasterBrain) trackGoal(r *run, g goal.Goal) {
	goals := make([]goal.Goal, 0, len(r.memory.State().Goals)+1)
	replaced := false
	for _, existing := range r.memory.State().Goals {
		if existing.ID == g.ID {
			existing = g
			replaced = true
		}
		goals = append(goals, existing)
	}
	if !replaced {
		goals = append(goals, g)
	}
	r.memory.Update(memory.Patch{Goals: &goals})
}

func (b *MasterBrain) respond(ctx context.Context, r *run) (string, error) {
	b.status.Set(observability.RoleResponder, r.input)

	instructions, err := b.prompts.Role(RoleResponder)
	if err != nil {
		return "", err
	}

	prompt := fmt.Sprintf("USER REQUEST: %s\n\nWHAT HAPPENED:\n%s\n\nWrite the reply to the user.", r.input, strings.Join(r.notes, "\n"))
	res, err := b.loop.Run(ctx, RunRequest{
		ConversationID: r.chatID,
		ChatID:         r.chatID,
		Role:           Role{Name: RoleResponder, Instructions: instructions, Tools: []string{"working_memory"}},
		Goal:           prompt,
		Memory:         r.memory,
	})
	if err != nil {
		return "", err
	}
	return res.Result, nil
}

func stepPrompt(request string, task goal.TaskNode, steps []goal.Step, current goal.Step) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "OVERALL REQUEST: %s\n", request)
	fmt.Fprintf(&sb, "TASK: %s\n", task.Description)
	fmt.Fprintf(&sb, "CURRENT STEP (%d of %d): %s\n", current.Order, len(steps), current.Description)

	var done []goal.Step
	for _, s := range steps {
		if s.Completed {
			done = append(done, s)
		}
	}
	if len(done) > 0 {
		sb.WriteString("\nCOMPLETED STEPS:\n")
		for _, s := range done {
			fmt.Fprintf(&sb, "- %s: %s\n", s.Description, s.Result)
		}
	}
	sb.WriteString("\nComplete only the current step.")
	return sb.String()
}

func describeTask(n goal.TaskNode) string {
	var detail string
	switch n.TaskStatus {
	case goal.StatusCompleted:
		detail = n.Result
	case goal.StatusFailed:
		detail = "error: " + n.Error
	}
	line := fmt.Sprintf("- [%s] %s", n.TaskStatus, n.Description)
	if origin, ok := n.Metadata[goal.MetadataFallbackFor].(string); ok {
		line += fmt.Sprintf(" (fallback for %s)", origin)
	}
	if detail != "" {
		line += ": " + detail
	}
	return line
}
