package store

import (
	"context"
)

// Schedule is a goal the agent re-runs every IntervalSeconds. An interval of
// zero means run once.
type Schedule struct {
	ID              int
	ChatID          string
	Goal            string
	IntervalSeconds int
}

func (s *Store) AddSchedule(ctx context.Context, chatID, goal string, intervalSeconds int) error {
	query := `INSERT INTO schedules (chat_id, goal, interval_seconds, last_run) VALUES (?, ?, ?, 0)`
	_, err := s.DB.ExecContext(ctx, query, chatID, goal, intervalSeconds)
	return err
}

func (s *Store) ClearSchedules(ctx context.Context, chatID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM schedules WHERE chat_id = ?`, chatID)
	return err
}

func (s *Store) DeleteSchedule(ctx context.Context, chatID string, id int) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM schedules WHERE chat_id = ? AND id = ?`, chatID, id)
	return err
}

// DueSchedules returns active schedules whose interval has elapsed.
func (s *Store) DueSchedules(ctx context.Context) ([]Schedule, error) {
	query := `SELECT id, chat_id, goal, interval_seconds FROM schedules
		WHERE status = 'active' AND (? - last_run) >= interval_seconds
		ORDER BY id`
	return s.querySchedules(ctx, query, s.now().Unix())
}

func (s *Store) ListSchedules(ctx context.Context, chatID string) ([]Schedule, error) {
	query := `SELECT id, chat_id, goal, interval_seconds FROM schedules WHERE chat_id = ? ORDER BY id`
	return s.querySchedules(ctx, query, chatID)
}

func (s *Store) querySchedules(ctx context.Context, query string, args ...any) ([]Schedule, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		var sc Schedule
		if err := rows.Scan(&sc.ID, &sc.ChatID, &sc.Goal, &sc.IntervalSeconds); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *Store) MarkScheduleRun(ctx context.Context, id int) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE schedules SET last_run = ? WHERE id = ?`, s.now().Unix(), id)
	return err
}
