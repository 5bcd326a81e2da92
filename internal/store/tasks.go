package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rahul/cortex/internal/goal"
)

// SaveTask upserts a task node. Children are not stored with the node; save
// them individually with the node's ID as parentID.
func (s *Store) SaveTask(ctx context.Context, chatID, parentID string, node goal.TaskNode) error {
	var metaJSON []byte
	if len(node.Metadata) > 0 {
		var err error
		if metaJSON, err = json.Marshal(node.Metadata); err != nil {
			return err
		}
	}
	updated := node.LastUpdated
	if updated.IsZero() {
		updated = s.now()
	}

	query := `INSERT INTO task_nodes (id, chat_id, parent_id, type, description, status, progress, result, error, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			result = excluded.result,
			error = excluded.error,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`
	_, err := s.DB.ExecContext(ctx, query,
		node.ID, chatID, parentID, string(node.Type), node.Description, string(node.TaskStatus),
		node.Progress, node.Result, node.Error, string(metaJSON), updated.UnixMilli(),
	)
	return err
}

// SaveTree persists every node of the tree.
func (s *Store) SaveTree(ctx context.Context, chatID string, tree *goal.Tree) error {
	var walk func(n *goal.TaskNode, parentID string) error
	walk = func(n *goal.TaskNode, parentID string) error {
		if err := s.SaveTask(ctx, chatID, parentID, *n); err != nil {
			return err
		}
		for _, c := range n.Children {
			if err := walk(c, n.ID); err != nil {
				return err
			}
		}
		return nil
	}
	if tree == nil || tree.Root == nil {
		return nil
	}
	return walk(tree.Root, "")
}

// LoadTask returns a persisted node, without children.
func (s *Store) LoadTask(ctx context.Context, id string) (goal.TaskNode, bool, error) {
	query := `SELECT id, type, description, status, progress, result, error, metadata, updated_at FROM task_nodes WHERE id = ?`
	node, err := scanTask(s.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return goal.TaskNode{}, false, nil
	}
	if err != nil {
		return goal.TaskNode{}, false, err
	}
	return node, true, nil
}

// ListTasks returns the most recently updated task nodes of a chat.
func (s *Store) ListTasks(ctx context.Context, chatID string, limit int) ([]goal.TaskNode, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT id, type, description, status, progress, result, error, metadata, updated_at FROM task_nodes
		WHERE chat_id = ? AND type = ? ORDER BY updated_at DESC LIMIT ?`
	rows, err := s.DB.QueryContext(ctx, query, chatID, string(goal.NodeTask), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []goal.TaskNode
	for rows.Next() {
		n, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (goal.TaskNode, error) {
	var n goal.TaskNode
	var typ, status, meta string
	var updated int64
	if err := row.Scan(&n.ID, &typ, &n.Description, &status, &n.Progress, &n.Result, &n.Error, &meta, &updated); err != nil {
		return goal.TaskNode{}, err
	}
	n.Type = goal.NodeType(typ)
	n.TaskStatus = goal.Status(status)
	n.LastUpdated = time.UnixMilli(updated)
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &n.Metadata); err != nil {
			return goal.TaskNode{}, err
		}
	}
	return n, nil
}
