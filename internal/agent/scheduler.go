package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rahul/cortex/internal/observability"
	"github.com/rahul/cortex/internal/store"
	"go.uber.org/zap"
)

const DefaultPollInterval = 30 * time.Second

// Messenger delivers text to a chat.
type Messenger interface {
	Send(ctx context.Context, chatID string, text string) error
}

type ScheduleStore interface {
	DueSchedules(ctx context.Context) ([]store.Schedule, error)
	MarkScheduleRun(ctx context.Context, id int) error
	DeleteSchedule(ctx context.Context, chatID string, id int) error
}

// Scheduler re-runs scheduled goals through the brain and sends the output
// to the chat that scheduled them.
type Scheduler struct {
	brain    Brain
	store    ScheduleStore
	out      Messenger
	logger   *observability.Logger
	status   *observability.Status
	interval time.Duration
}

func NewScheduler(brain Brain, st ScheduleStore, out Messenger, logger *observability.Logger, status *observability.Status, interval time.Duration) *Scheduler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Scheduler{brain: brain, store: st, out: out, logger: logger, status: status, interval: interval}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.status.Heartbeat()
			s.logger.LogHeartbeat()
			if err := s.RunDue(ctx); err != nil {
				s.logger.Error("polling schedules failed", zap.Error(err))
			}
		}
	}
}

// RunDue executes every due schedule once. Failures of single schedules are
// logged and do not stop the others.
func (s *Scheduler) RunDue(ctx context.Context) error {
	due, err := s.store.DueSchedules(ctx)
	if err != nil {
		return err
	}

	for _, sc := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log := s.logger.With(zap.Int("schedule_id", sc.ID), zap.String("chat_id", sc.ChatID))
		log.Info("running scheduled goal", zap.String("goal", sc.Goal))

		// mark first so a failing goal is not retried on every tick
		if err := s.store.MarkScheduleRun(ctx, sc.ID); err != nil {
			log.Error("failed to mark schedule run", zap.Error(err))
			continue
		}
		if sc.IntervalSeconds == 0 {
			if err := s.store.DeleteSchedule(ctx, sc.ChatID, sc.ID); err != nil {
				log.Error("failed to delete one-time schedule", zap.Error(err))
			}
		}

		prompt := fmt.Sprintf("[SYSTEM: This is the execution of a previously scheduled goal: %q. Carry it out and report the outcome to the user. DO NOT schedule it again.]", sc.Goal)
		response, err := s.brain.Think(ctx, sc.ChatID, prompt)
		if err != nil {
			log.Error("scheduled goal failed", zap.Error(err))
			response = fmt.Sprintf("Scheduled goal %q failed: %v", sc.Goal, err)
		}

		if s.out != nil {
			if err := s.out.Send(ctx, sc.ChatID, "⏰ Scheduled goal\n\n"+response); err != nil {
				log.Error("failed to deliver scheduled output", zap.Error(err))
			}
		}
	}
	return nil
}
