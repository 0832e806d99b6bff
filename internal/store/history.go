package store

import "context"

// Message is one conversation turn kept for responder context.
type Message struct {
	Role    string
	Content string
}

func (s *EntityStore) AddMessage(ctx context.Context, chatID, role, content string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO messages (chat_id, role, content) VALUES (?, ?, ?)`,
		chatID, role, content)
	return err
}

// GetHistory returns the most recent messages for a chat in chronological
// order.
func (s *EntityStore) GetHistory(ctx context.Context, chatID string, limit int) ([]Message, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT role, content FROM messages WHERE chat_id = ? ORDER BY timestamp DESC LIMIT ?`,
		chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, err
		}
		history = append(history, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}

// Task is a saved instruction re-dispatched on an interval.
type Task struct {
	ID              int
	ChatID          string
	Instruction     string
	IntervalSeconds int
}

func (s *EntityStore) AddTask(ctx context.Context, chatID, instruction string, intervalSeconds int) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO tasks (chat_id, instruction, interval_seconds, last_run) VALUES (?, ?, ?, datetime('now', '-365 days'))`,
		chatID, instruction, intervalSeconds)
	return err
}

// GetPendingTasks returns active tasks whose interval has elapsed since their
// last run.
func (s *EntityStore) GetPendingTasks(ctx context.Context) ([]Task, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, chat_id, instruction, interval_seconds
		FROM tasks
		WHERE status = 'active'
		AND (last_run IS NULL OR (julianday('now') - julianday(last_run)) * 86400 >= interval_seconds)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.ChatID, &t.Instruction, &t.IntervalSeconds); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *EntityStore) UpdateTaskLastRun(ctx context.Context, id int) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE tasks SET last_run = datetime('now') WHERE id = ?`, id)
	return err
}

func (s *EntityStore) DeleteTask(ctx context.Context, chatID string, taskID int) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM tasks WHERE chat_id = ? AND id = ?`, chatID, taskID)
	return err
}

func (s *EntityStore) ClearTasks(ctx context.Context, chatID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM tasks WHERE chat_id = ?`, chatID)
	return err
}
