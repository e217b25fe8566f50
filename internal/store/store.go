// Package store persists the pipeline's records in a local SQLite
// database. A single connection with WAL journaling serializes writes;
// the store is safe for concurrent use.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"autocom/internal/logging"
	"autocom/internal/types"
)

// Store implements types.Repository on SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	sender TEXT NOT NULL,
	subject TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	priority REAL NOT NULL DEFAULT 0,
	sentiment TEXT,
	read INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);
CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	priority REAL NOT NULL DEFAULT 0,
	source_message_id TEXT NOT NULL,
	deadline INTEGER,
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	completed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

CREATE TABLE IF NOT EXISTS sender_weights (
	sender TEXT PRIMARY KEY,
	weight REAL NOT NULL,
	interactions INTEGER NOT NULL DEFAULT 0,
	last_interaction INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS context_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	command TEXT NOT NULL,
	response TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	keywords TEXT
);
CREATE INDEX IF NOT EXISTS idx_context_timestamp ON context_entries(timestamp);

CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	body TEXT NOT NULL,
	priority TEXT NOT NULL,
	source TEXT NOT NULL,
	sender TEXT NOT NULL DEFAULT '',
	timestamp INTEGER NOT NULL,
	actions TEXT,
	delivered INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_notifications_timestamp ON notifications(timestamp);
`

// New opens (or creates) the database at path and initializes the
// schema.
func New(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.New")
	defer timer.Stop()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("failed to set synchronous=NORMAL: %v", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Store("store opened at %s", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutMessage inserts or replaces a message.
func (s *Store) PutMessage(msg types.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	sentiment, err := marshalNullable(msg.Sentiment)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO messages
			(id, source, sender, subject, body, timestamp, priority, sentiment, read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, string(msg.Source), msg.Sender, msg.Subject, msg.Body,
		msg.Timestamp.UnixMicro(), msg.Priority, sentiment, boolInt(msg.Read))
	if err != nil {
		return storageErr("put message", err)
	}
	return nil
}

// GetMessage returns a message by ID, or ErrInvalidInput if absent.
func (s *Store) GetMessage(id string) (*types.Message, error) {
	row := s.db.QueryRow(`
		SELECT id, source, sender, subject, body, timestamp, priority, sentiment, read
		FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, types.ErrInvalidInput)
	}
	if err != nil {
		return nil, storageErr("get message", err)
	}
	return msg, nil
}

// QueryMessages returns messages at or after since, oldest first.
func (s *Store) QueryMessages(since time.Time) ([]types.Message, error) {
	rows, err := s.db.Query(`
		SELECT id, source, sender, subject, body, timestamp, priority, sentiment, read
		FROM messages WHERE timestamp >= ? ORDER BY timestamp ASC`,
		since.UnixMicro())
	if err != nil {
		return nil, storageErr("query messages", err)
	}
	defer rows.Close()

	var out []types.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, storageErr("scan message", err)
		}
		out = append(out, *msg)
	}
	return out, rows.Err()
}

// MarkMessageRead flags a message as read.
func (s *Store) MarkMessageRead(id string) error {
	res, err := s.db.Exec(`UPDATE messages SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return storageErr("mark read", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %s: %w", id, types.ErrInvalidInput)
	}
	return nil
}

// PutTask inserts or replaces a task.
func (s *Store) PutTask(task types.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO tasks
			(id, title, description, priority, source_message_id, deadline, status, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Title, task.Description, task.Priority, task.SourceMessageID,
		nullableTime(task.Deadline), string(task.Status),
		task.CreatedAt.UnixMicro(), nullableTime(task.CompletedAt))
	if err != nil {
		return storageErr("put task", err)
	}
	return nil
}

// GetTask returns a task by ID, or ErrInvalidInput if absent.
func (s *Store) GetTask(id string) (*types.Task, error) {
	row := s.db.QueryRow(`
		SELECT id, title, description, priority, source_message_id, deadline, status, created_at, completed_at
		FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, types.ErrInvalidInput)
	}
	if err != nil {
		return nil, storageErr("get task", err)
	}
	return task, nil
}

// QueryTasks returns tasks with the given status, newest first. An
// empty status returns all tasks.
func (s *Store) QueryTasks(status types.TaskStatus) ([]types.Task, error) {
	query := `
		SELECT id, title, description, priority, source_message_id, deadline, status, created_at, completed_at
		FROM tasks`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, storageErr("query tasks", err)
	}
	defer rows.Close()

	var out []types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, storageErr("scan task", err)
		}
		out = append(out, *task)
	}
	return out, rows.Err()
}

// PutSenderWeight inserts or replaces a sender weight.
func (s *Store) PutSenderWeight(w types.SenderWeight) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sender_weights (sender, weight, interactions, last_interaction)
		VALUES (?, ?, ?, ?)`,
		w.Sender, w.Weight, w.Interactions, w.LastInteraction.UnixMicro())
	if err != nil {
		return storageErr("put sender weight", err)
	}
	return nil
}

// GetSenderWeight returns the weight record for a sender, or nil when
// the sender is unknown.
func (s *Store) GetSenderWeight(sender string) (*types.SenderWeight, error) {
	var w types.SenderWeight
	var last int64
	err := s.db.QueryRow(`
		SELECT sender, weight, interactions, last_interaction
		FROM sender_weights WHERE sender = ?`, sender).
		Scan(&w.Sender, &w.Weight, &w.Interactions, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get sender weight", err)
	}
	w.LastInteraction = time.UnixMicro(last)
	return &w, nil
}

// AllSenderWeights returns every stored sender weight.
func (s *Store) AllSenderWeights() ([]types.SenderWeight, error) {
	rows, err := s.db.Query(`SELECT sender, weight, interactions, last_interaction FROM sender_weights`)
	if err != nil {
		return nil, storageErr("all sender weights", err)
	}
	defer rows.Close()

	var out []types.SenderWeight
	for rows.Next() {
		var w types.SenderWeight
		var last int64
		if err := rows.Scan(&w.Sender, &w.Weight, &w.Interactions, &last); err != nil {
			return nil, storageErr("scan sender weight", err)
		}
		w.LastInteraction = time.UnixMicro(last)
		out = append(out, w)
	}
	return out, rows.Err()
}

// AppendContextEntry appends one turn to the conversational log.
func (s *Store) AppendContextEntry(entry types.ContextEntry) error {
	keywords, err := marshalNullable(entry.Keywords)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO context_entries (command, response, timestamp, keywords)
		VALUES (?, ?, ?, ?)`,
		entry.Command, entry.Response, entry.Timestamp.UnixMicro(), keywords)
	if err != nil {
		return storageErr("append context", err)
	}
	return nil
}

// RecentContext returns the most recent limit entries, oldest first.
func (s *Store) RecentContext(limit int) ([]types.ContextEntry, error) {
	rows, err := s.db.Query(`
		SELECT command, response, timestamp, keywords FROM context_entries
		ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, storageErr("recent context", err)
	}
	defer rows.Close()

	var out []types.ContextEntry
	for rows.Next() {
		var e types.ContextEntry
		var ts int64
		var keywords sql.NullString
		if err := rows.Scan(&e.Command, &e.Response, &ts, &keywords); err != nil {
			return nil, storageErr("scan context", err)
		}
		e.Timestamp = time.UnixMicro(ts)
		if keywords.Valid && keywords.String != "" {
			if err := json.Unmarshal([]byte(keywords.String), &e.Keywords); err != nil {
				return nil, storageErr("decode keywords", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// PutNotification inserts or replaces a notification record.
func (s *Store) PutNotification(n types.Notification) error {
	actions, err := marshalNullable(n.Actions)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO notifications
			(id, title, body, priority, source, sender, timestamp, actions, delivered)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Title, n.Body, string(n.Priority), string(n.Source), n.Sender,
		n.Timestamp.UnixMicro(), actions, boolInt(n.Delivered))
	if err != nil {
		return storageErr("put notification", err)
	}
	return nil
}

// QueryNotifications returns notifications at or after since, oldest
// first.
func (s *Store) QueryNotifications(since time.Time) ([]types.Notification, error) {
	rows, err := s.db.Query(`
		SELECT id, title, body, priority, source, sender, timestamp, actions, delivered
		FROM notifications WHERE timestamp >= ? ORDER BY timestamp ASC`,
		since.UnixMicro())
	if err != nil {
		return nil, storageErr("query notifications", err)
	}
	defer rows.Close()

	var out []types.Notification
	for rows.Next() {
		var n types.Notification
		var priority, source string
		var ts int64
		var actions sql.NullString
		var delivered int
		if err := rows.Scan(&n.ID, &n.Title, &n.Body, &priority, &source,
			&n.Sender, &ts, &actions, &delivered); err != nil {
			return nil, storageErr("scan notification", err)
		}
		n.Priority = types.Priority(priority)
		n.Source = types.Source(source)
		n.Timestamp = time.UnixMicro(ts)
		n.Delivered = delivered != 0
		if actions.Valid && actions.String != "" {
			if err := json.Unmarshal([]byte(actions.String), &n.Actions); err != nil {
				return nil, storageErr("decode actions", err)
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// PruneBefore removes messages, notifications, context entries, and
// completed tasks older than the cutoff.
func (s *Store) PruneBefore(cutoff time.Time) error {
	ts := cutoff.UnixMicro()
	stmts := []struct {
		name  string
		query string
		args  []any
	}{
		{"messages", `DELETE FROM messages WHERE timestamp < ?`, []any{ts}},
		{"notifications", `DELETE FROM notifications WHERE timestamp < ?`, []any{ts}},
		{"context", `DELETE FROM context_entries WHERE timestamp < ?`, []any{ts}},
		{"tasks", `DELETE FROM tasks WHERE status = ? AND created_at < ?`,
			[]any{string(types.TaskCompleted), ts}},
	}

	total := int64(0)
	for _, st := range stmts {
		res, err := s.db.Exec(st.query, st.args...)
		if err != nil {
			return storageErr("prune "+st.name, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	logging.Store("pruned %d records older than %s", total, cutoff.Format(time.RFC3339))
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*types.Message, error) {
	var msg types.Message
	var source string
	var ts int64
	var sentiment sql.NullString
	var read int
	if err := row.Scan(&msg.ID, &source, &msg.Sender, &msg.Subject, &msg.Body,
		&ts, &msg.Priority, &sentiment, &read); err != nil {
		return nil, err
	}
	msg.Source = types.Source(source)
	msg.Timestamp = time.UnixMicro(ts)
	msg.Read = read != 0
	if sentiment.Valid && sentiment.String != "" {
		msg.Sentiment = &types.SentimentResult{}
		if err := json.Unmarshal([]byte(sentiment.String), msg.Sentiment); err != nil {
			return nil, err
		}
	}
	return &msg, nil
}

func scanTask(row scanner) (*types.Task, error) {
	var task types.Task
	var status string
	var created int64
	var deadline, completed sql.NullInt64
	if err := row.Scan(&task.ID, &task.Title, &task.Description, &task.Priority,
		&task.SourceMessageID, &deadline, &status, &created, &completed); err != nil {
		return nil, err
	}
	task.Status = types.TaskStatus(status)
	task.CreatedAt = time.UnixMicro(created)
	if deadline.Valid {
		t := time.UnixMicro(deadline.Int64)
		task.Deadline = &t
	}
	if completed.Valid {
		t := time.UnixMicro(completed.Int64)
		task.CompletedAt = &t
	}
	return &task, nil
}

func marshalNullable(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	switch x := v.(type) {
	case *types.SentimentResult:
		if x == nil {
			return sql.NullString{}, nil
		}
	case []string:
		if len(x) == 0 {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullableTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMicro(), Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, types.ErrStorageUnavailable, err)
}
