package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/forgeworks/anvil/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS threads (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL DEFAULT '',
	workspace_id TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id                TEXT PRIMARY KEY,
	thread_id         TEXT NOT NULL REFERENCES threads(id),
	role              TEXT NOT NULL,
	content           TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	input_tokens      INTEGER NOT NULL DEFAULT 0,
	output_tokens     INTEGER NOT NULL DEFAULT 0,
	total_tokens      INTEGER NOT NULL DEFAULT 0,
	finish_reason     TEXT NOT NULL DEFAULT '',
	seq               INTEGER NOT NULL,
	prompt_message_id TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMP NOT NULL,
	updated_at        TIMESTAMP NOT NULL,
	UNIQUE (thread_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_messages_thread_seq ON messages(thread_id, seq);

CREATE TABLE IF NOT EXISTS tool_calls (
	id           TEXT PRIMARY KEY,
	message_id   TEXT NOT NULL,
	thread_id    TEXT NOT NULL,
	tool_name    TEXT NOT NULL,
	input_json   TEXT NOT NULL DEFAULT '{}',
	status       TEXT NOT NULL,
	result       TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMP NOT NULL,
	completed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tool_calls_message ON tool_calls(message_id);

CREATE TABLE IF NOT EXISTS traces (
	id              TEXT PRIMARY KEY,
	thread_id       TEXT NOT NULL,
	kind            TEXT NOT NULL,
	model           TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	input_tokens    INTEGER NOT NULL DEFAULT 0,
	output_tokens   INTEGER NOT NULL DEFAULT 0,
	total_tokens    INTEGER NOT NULL DEFAULT 0,
	duration_ms     INTEGER NOT NULL DEFAULT 0,
	tool_call_count INTEGER NOT NULL DEFAULT 0,
	error_type      TEXT NOT NULL DEFAULT '',
	error_message   TEXT NOT NULL DEFAULT '',
	started_at      TIMESTAMP NOT NULL,
	finished_at     TIMESTAMP
);

CREATE TABLE IF NOT EXISTS trace_steps (
	run_id     TEXT NOT NULL,
	name       TEXT NOT NULL,
	result     BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (run_id, name)
);

CREATE TABLE IF NOT EXISTS todos (
	thread_id TEXT NOT NULL,
	position  INTEGER NOT NULL,
	text      TEXT NOT NULL,
	done      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (thread_id, position)
);

CREATE TABLE IF NOT EXISTS memories (
	id         TEXT PRIMARY KEY,
	thread_id  TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
`

// SQLiteStore is the durable Store implementation backed by modernc sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent sessions.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStoreFromDB wraps an existing database handle. The schema is
// assumed to be applied; used by tests driving sqlmock.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// --- threads ---

func (s *SQLiteStore) CreateThread(ctx context.Context, thread *models.Thread) error {
	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	thread.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threads (id, title, workspace_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, thread.ID, thread.Title, thread.WorkspaceID, thread.CreatedAt, thread.UpdatedAt)
	return err
}

func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	var t models.Thread
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, workspace_id, created_at, updated_at
		FROM threads WHERE id = ?
	`, id).Scan(&t.ID, &t.Title, &t.WorkspaceID, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLiteStore) ListThreads(ctx context.Context, limit int) ([]models.Thread, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, workspace_id, created_at, updated_at
		FROM threads ORDER BY updated_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var threads []models.Thread
	for rows.Next() {
		var t models.Thread
		if err := rows.Scan(&t.ID, &t.Title, &t.WorkspaceID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// --- messages ---

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Status == "" {
		msg.Status = models.MessageDone
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now
	return s.withTx(ctx, func(tx *sql.Tx) error {
		seq, err := nextSeq(ctx, tx, msg.ThreadID)
		if err != nil {
			return err
		}
		msg.Seq = seq
		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (id, thread_id, role, content, status,
				input_tokens, output_tokens, total_tokens, finish_reason,
				seq, prompt_message_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, msg.ID, msg.ThreadID, msg.Role, msg.Content, msg.Status,
			msg.Usage.InputTokens, msg.Usage.OutputTokens, msg.Usage.TotalTokens,
			msg.FinishReason, msg.Seq, msg.PromptMessageID, msg.CreatedAt, msg.UpdatedAt)
		if err != nil {
			return err
		}
		return touchThread(ctx, tx, msg.ThreadID, now)
	})
}

func (s *SQLiteStore) StartPlaceholder(ctx context.Context, threadID string, role models.Role, promptMessageID string) (*models.Message, error) {
	now := time.Now().UTC()
	msg := &models.Message{
		ID:              uuid.NewString(),
		ThreadID:        threadID,
		Role:            role,
		Status:          models.MessagePending,
		PromptMessageID: promptMessageID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		seq, err := nextSeq(ctx, tx, threadID)
		if err != nil {
			return err
		}
		msg.Seq = seq
		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (id, thread_id, role, content, status,
				seq, prompt_message_id, created_at, updated_at)
			VALUES (?, ?, ?, '', ?, ?, ?, ?, ?)
		`, msg.ID, msg.ThreadID, msg.Role, msg.Status, msg.Seq,
			msg.PromptMessageID, msg.CreatedAt, msg.UpdatedAt)
		if err != nil {
			return err
		}
		return touchThread(ctx, tx, threadID, now)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *SQLiteStore) AppendDelta(ctx context.Context, messageID, text string, isFinal bool) error {
	status := models.MessageStreaming
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET content = content || ?, status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, text, status, time.Now().UTC(), messageID, models.MessagePending, models.MessageStreaming)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, gerr := s.GetMessage(ctx, messageID); errors.Is(gerr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrFinalized
	}
	return nil
}

func (s *SQLiteStore) Finalize(ctx context.Context, messageID string, usage models.Usage, reason models.FinishReason, status models.MessageStatus) error {
	if status != models.MessageDone && status != models.MessageError {
		return fmt.Errorf("finalize requires a terminal status, got %q", status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = ?, input_tokens = ?, output_tokens = ?, total_tokens = ?,
		    finish_reason = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, status, usage.InputTokens, usage.OutputTokens, usage.TotalTokens,
		reason, time.Now().UTC(), messageID, models.MessagePending, models.MessageStreaming)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, gerr := s.GetMessage(ctx, messageID); errors.Is(gerr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrFinalized
	}
	return nil
}

func (s *SQLiteStore) MarkError(ctx context.Context, messageID, errMsg string) error {
	annotation := ""
	if errMsg != "" {
		annotation = "\n\n[error: " + errMsg + "]"
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = ?, finish_reason = ?, content = content || ?, updated_at = ?
		WHERE id = ? AND status != ?
	`, models.MessageError, models.FinishError, annotation, time.Now().UTC(),
		messageID, models.MessageError)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, gerr := s.GetMessage(ctx, messageID); errors.Is(gerr, ErrNotFound) {
			return ErrNotFound
		}
	}
	return nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, role, content, status, input_tokens, output_tokens,
		       total_tokens, finish_reason, seq, prompt_message_id, created_at, updated_at
		FROM messages WHERE id = ?
	`, id)
	return scanMessage(row)
}

func (s *SQLiteStore) History(ctx context.Context, threadID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, role, content, status, input_tokens, output_tokens,
		       total_tokens, finish_reason, seq, prompt_message_id, created_at, updated_at
		FROM (
			SELECT * FROM messages WHERE thread_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC
	`, threadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *msg)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) RemoveAfterSequence(ctx context.Context, threadID string, seq int64) (int, error) {
	var removed int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM tool_calls WHERE message_id IN (
				SELECT id FROM messages WHERE thread_id = ? AND seq > ?
			)
		`, threadID, seq); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			DELETE FROM messages WHERE thread_id = ? AND seq > ?
		`, threadID, seq)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = int(n)
		return touchThread(ctx, tx, threadID, time.Now().UTC())
	})
	return removed, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var m models.Message
	err := row.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.Status,
		&m.Usage.InputTokens, &m.Usage.OutputTokens, &m.Usage.TotalTokens,
		&m.FinishReason, &m.Seq, &m.PromptMessageID, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func nextSeq(ctx context.Context, tx *sql.Tx, threadID string) (int64, error) {
	var seq int64
	err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE thread_id = ?
	`, threadID).Scan(&seq)
	return seq, err
}

func touchThread(ctx context.Context, tx *sql.Tx, threadID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE threads SET updated_at = ? WHERE id = ?`, now, threadID)
	return err
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --- tool calls ---

func (s *SQLiteStore) Record(ctx context.Context, call *models.ToolCall) error {
	if call.Status == "" {
		call.Status = models.ToolCallPending
	}
	if call.StartedAt.IsZero() {
		call.StartedAt = time.Now().UTC()
	}
	input := string(call.Input)
	if input == "" {
		input = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_calls (id, message_id, thread_id, tool_name, input_json, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, call.ID, call.MessageID, call.ThreadID, call.ToolName, input, call.Status, call.StartedAt)
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateCallID
	}
	return err
}

func (s *SQLiteStore) MarkRunning(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tool_calls SET status = ? WHERE id = ? AND status = ?
	`, models.ToolCallRunning, id, models.ToolCallPending)
	return err
}

func (s *SQLiteStore) Complete(ctx context.Context, id, result string) error {
	return s.finishToolCall(ctx, id, models.ToolCallCompleted, result, "")
}

func (s *SQLiteStore) Fail(ctx context.Context, id, errMsg string) error {
	return s.finishToolCall(ctx, id, models.ToolCallFailed, "", errMsg)
}

func (s *SQLiteStore) finishToolCall(ctx context.Context, id string, status models.ToolCallStatus, result, errMsg string) error {
	// Terminal states never regress; completing a swept call is a no-op.
	_, err := s.db.ExecContext(ctx, `
		UPDATE tool_calls
		SET status = ?, result = ?, error = ?, completed_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, status, result, errMsg, time.Now().UTC(), id,
		models.ToolCallPending, models.ToolCallRunning)
	return err
}

func (s *SQLiteStore) SweepStale(ctx context.Context, messageID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tool_calls
		SET status = ?, error = ?, completed_at = ?
		WHERE message_id = ? AND status IN (?, ?)
	`, models.ToolCallFailed, models.SweepFailureReason, time.Now().UTC(),
		messageID, models.ToolCallPending, models.ToolCallRunning)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) GetToolCall(ctx context.Context, id string) (*models.ToolCall, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, message_id, thread_id, tool_name, input_json, status,
		       result, error, started_at, completed_at
		FROM tool_calls WHERE id = ?
	`, id)
	return scanToolCall(row)
}

func (s *SQLiteStore) ListToolCallsByMessage(ctx context.Context, messageID string) ([]models.ToolCall, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, thread_id, tool_name, input_json, status,
		       result, error, started_at, completed_at
		FROM tool_calls WHERE message_id = ? ORDER BY started_at ASC
	`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ToolCall
	for rows.Next() {
		call, err := scanToolCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *call)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PruneToolCalls(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tool_calls
		WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?
	`, models.ToolCallCompleted, models.ToolCallFailed, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanToolCall(row rowScanner) (*models.ToolCall, error) {
	var c models.ToolCall
	var input string
	var completed sql.NullTime
	err := row.Scan(&c.ID, &c.MessageID, &c.ThreadID, &c.ToolName, &input,
		&c.Status, &c.Result, &c.Error, &c.StartedAt, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Input = []byte(input)
	if completed.Valid {
		c.CompletedAt = completed.Time
	}
	return &c, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}

// --- traces ---

func (s *SQLiteStore) StartTrace(ctx context.Context, trace *models.WorkflowTrace) error {
	if trace.ID == "" {
		trace.ID = uuid.NewString()
	}
	if trace.Status == "" {
		trace.Status = models.TraceRunning
	}
	if trace.StartedAt.IsZero() {
		trace.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO traces (id, thread_id, kind, model, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, trace.ID, trace.ThreadID, trace.Kind, trace.Model, trace.Status, trace.StartedAt)
	return err
}

func (s *SQLiteStore) CompleteTrace(ctx context.Context, id string, usage models.Usage, duration time.Duration, toolCalls int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE traces
		SET status = ?, input_tokens = ?, output_tokens = ?, total_tokens = ?,
		    duration_ms = ?, tool_call_count = ?, finished_at = ?
		WHERE id = ? AND status = ?
	`, models.TraceCompleted, usage.InputTokens, usage.OutputTokens, usage.TotalTokens,
		duration.Milliseconds(), toolCalls, time.Now().UTC(), id, models.TraceRunning)
	return err
}

func (s *SQLiteStore) FailTrace(ctx context.Context, id, errType, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE traces
		SET status = ?, error_type = ?, error_message = ?, finished_at = ?
		WHERE id = ? AND status = ?
	`, models.TraceFailed, errType, errMsg, time.Now().UTC(), id, models.TraceRunning)
	return err
}

func (s *SQLiteStore) GetTrace(ctx context.Context, id string) (*models.WorkflowTrace, error) {
	var t models.WorkflowTrace
	var durationMS int64
	var finished sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, kind, model, status, input_tokens, output_tokens,
		       total_tokens, duration_ms, tool_call_count, error_type,
		       error_message, started_at, finished_at
		FROM traces WHERE id = ?
	`, id).Scan(&t.ID, &t.ThreadID, &t.Kind, &t.Model, &t.Status,
		&t.Usage.InputTokens, &t.Usage.OutputTokens, &t.Usage.TotalTokens,
		&durationMS, &t.ToolCallCount, &t.ErrorType, &t.ErrorMessage,
		&t.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Duration = time.Duration(durationMS) * time.Millisecond
	if finished.Valid {
		t.FinishedAt = finished.Time
	}
	return &t, nil
}

func (s *SQLiteStore) PruneTraces(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM traces
		WHERE status IN (?, ?) AND finished_at IS NOT NULL AND finished_at < ?
	`, models.TraceCompleted, models.TraceFailed, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- checkpoint steps ---

func (s *SQLiteStore) GetStepResult(ctx context.Context, runID, name string) ([]byte, bool, error) {
	var result []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT result FROM trace_steps WHERE run_id = ? AND name = ?
	`, runID, name).Scan(&result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return result, true, nil
}

func (s *SQLiteStore) PutStepResult(ctx context.Context, runID, name string, result []byte) error {
	if result == nil {
		result = []byte("null")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trace_steps (run_id, name, result, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (run_id, name) DO UPDATE SET result = excluded.result
	`, runID, name, result, time.Now().UTC())
	return err
}

// --- data tools ---

func (s *SQLiteStore) PutTodos(ctx context.Context, threadID string, items []TodoItem) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM todos WHERE thread_id = ?`, threadID); err != nil {
			return err
		}
		for i, item := range items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO todos (thread_id, position, text, done) VALUES (?, ?, ?, ?)
			`, threadID, i, item.Text, boolToInt(item.Done)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) GetTodos(ctx context.Context, threadID string) ([]TodoItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT text, done FROM todos WHERE thread_id = ? ORDER BY position ASC
	`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []TodoItem
	for rows.Next() {
		var item TodoItem
		var done int
		if err := rows.Scan(&item.Text, &done); err != nil {
			return nil, err
		}
		item.Done = done != 0
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) SaveMemory(ctx context.Context, note *MemoryNote) error {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, thread_id, content, created_at)
		VALUES (?, ?, ?, ?)
	`, note.ID, note.ThreadID, note.Content, note.CreatedAt)
	return err
}

func (s *SQLiteStore) SearchMemories(ctx context.Context, query string, limit int) ([]MemoryNote, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, content, created_at
		FROM memories
		WHERE content LIKE '%' || ? || '%'
		ORDER BY created_at DESC LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var notes []MemoryNote
	for rows.Next() {
		var n MemoryNote
		if err := rows.Scan(&n.ID, &n.ThreadID, &n.Content, &n.CreatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
