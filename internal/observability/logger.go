package observability

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeReasoning   EventType = "reasoning"
	EventTypeToolCall    EventType = "tool_call"
	EventTypeToolResult  EventType = "tool_result"
	EventTypePolicyCheck EventType = "policy_check"
	EventTypePlan        EventType = "plan"
	EventTypeStep        EventType = "step"
	EventTypeTask        EventType = "task"
	EventTypeFallback    EventType = "fallback"
	EventTypeHeartbeat   EventType = "heartbeat"
	EventTypeLLM         EventType = "llm"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	ChatID    string    `json:"chat_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// LoggingConfig mirrors the logging section of the application config.
type LoggingConfig struct {
	Level      string
	Encoding   string
	LLMLogPath string
}

// Logger is the process logger. It embeds zap for plain diagnostics and adds
// typed agent events on top. LLM events are also appended to a JSONL file.
type Logger struct {
	*zap.Logger

	mu         sync.Mutex
	llmLogPath string
	maxSize    int64
}

func NewLogger(cfg LoggingConfig) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoding := cfg.Encoding
	if encoding != "console" {
		encoding = "json"
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         encoding,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig:    encoderCfg,
	}
	z, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}

	path := cfg.LLMLogPath
	if path == "" {
		path = filepath.Join("logs", "llm.jsonl")
	}

	return &Logger{
		Logger:     z,
		llmLogPath: path,
		maxSize:    10 * 1024 * 1024, // 10MB
	}, nil
}

// NewNopLogger returns a logger that discards everything, including LLM events.
func NewNopLogger() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Log emits a structured event.
func (l *Logger) Log(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	l.Info(string(evt.Type),
		zap.String("chat_id", evt.ChatID),
		zap.String("task_id", evt.TaskID),
		zap.Any("data", evt.Data),
	)

	if evt.Type == EventTypeLLM && l.llmLogPath != "" {
		data, err := json.Marshal(evt)
		if err != nil {
			l.Warn("failed to marshal llm event", zap.Error(err))
			return
		}
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		l.Warn("failed to create log directory", zap.Error(err))
		return
	}

	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		l.Warn("failed to open llm log", zap.Error(err))
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		l.Warn("failed to write llm log", zap.Error(err))
	}
}

func (l *Logger) rotateLogs() {
	// keep one .old file
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}

// Helper methods for common events

func (l *Logger) LogReasoning(chatID, taskID, content string) {
	l.Log(Event{
		Type:   EventTypeReasoning,
		ChatID: chatID,
		TaskID: taskID,
		Data:   map[string]string{"content": content},
	})
}

func (l *Logger) LogToolCall(chatID, taskID, tool, args string) {
	l.Log(Event{
		Type:   EventTypeToolCall,
		ChatID: chatID,
		TaskID: taskID,
		Data: map[string]string{
			"tool": tool,
			"args": args,
		},
	})
}

func (l *Logger) LogToolResult(chatID, taskID, tool, result string) {
	l.Log(Event{
		Type:   EventTypeToolResult,
		ChatID: chatID,
		TaskID: taskID,
		Data: map[string]string{
			"tool":   tool,
			"result": result,
		},
	})
}

func (l *Logger) LogPolicyCheck(chatID, taskID, tool, effect, reason string) {
	l.Log(Event{
		Type:   EventTypePolicyCheck,
		ChatID: chatID,
		TaskID: taskID,
		Data: map[string]string{
			"tool":   tool,
			"effect": effect,
			"reason": reason,
		},
	})
}

func (l *Logger) LogPlan(chatID, taskID string, plan any) {
	l.Log(Event{
		Type:   EventTypePlan,
		ChatID: chatID,
		TaskID: taskID,
		Data:   plan,
	})
}

func (l *Logger) LogStep(chatID, taskID, stepID string, progress int) {
	l.Log(Event{
		Type:   EventTypeStep,
		ChatID: chatID,
		TaskID: taskID,
		Data: map[string]any{
			"step_id":  stepID,
			"progress": progress,
		},
	})
}

func (l *Logger) LogTask(chatID, taskID, status, detail string) {
	l.Log(Event{
		Type:   EventTypeTask,
		ChatID: chatID,
		TaskID: taskID,
		Data: map[string]string{
			"status": status,
			"detail": detail,
		},
	})
}

func (l *Logger) LogFallback(chatID, taskID, fallbackID string) {
	l.Log(Event{
		Type:   EventTypeFallback,
		ChatID: chatID,
		TaskID: taskID,
		Data:   map[string]string{"fallback_id": fallbackID},
	})
}

func (l *Logger) LogHeartbeat() {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]string{"status": "alive"},
	})
}

func (l *Logger) LogLLM(chatID, taskID string, prompt any, response string, toolCalls any) {
	l.Log(Event{
		Type:   EventTypeLLM,
		ChatID: chatID,
		TaskID: taskID,
		Data: map[string]any{
			"prompt":     prompt,
			"response":   response,
			"tool_calls": toolCalls,
		},
	})
}
