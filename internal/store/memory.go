package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgeworks/anvil/pkg/models"
)

// MemoryStore is the in-memory Store implementation. It mirrors the sqlite
// semantics exactly and is safe for concurrent use; intended for tests and
// ephemeral runs.
type MemoryStore struct {
	mu        sync.RWMutex
	threads   map[string]*models.Thread
	messages  map[string]*models.Message
	byThread  map[string][]string // message ids in seq order
	toolCalls map[string]*models.ToolCall
	byMessage map[string][]string // tool call ids in record order
	traces    map[string]*models.WorkflowTrace
	steps     map[string][]byte // runID + "\x00" + name
	todos     map[string][]TodoItem
	memories  []*MemoryNote
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads:   make(map[string]*models.Thread),
		messages:  make(map[string]*models.Message),
		byThread:  make(map[string][]string),
		toolCalls: make(map[string]*models.ToolCall),
		byMessage: make(map[string][]string),
		traces:    make(map[string]*models.WorkflowTrace),
		steps:     make(map[string][]byte),
		todos:     make(map[string][]TodoItem),
	}
}

func (s *MemoryStore) Close() error { return nil }

// --- threads ---

func (s *MemoryStore) CreateThread(_ context.Context, thread *models.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if thread.ID == "" {
		thread.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	thread.UpdatedAt = now
	cp := *thread
	s.threads[thread.ID] = &cp
	return nil
}

func (s *MemoryStore) GetThread(_ context.Context, id string) (*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListThreads(_ context.Context, limit int) ([]models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	out := make([]models.Thread, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- messages ---

func (s *MemoryStore) AppendMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	msg.Seq = int64(len(s.byThread[msg.ThreadID])) + 1
	cp := *msg
	s.messages[msg.ID] = &cp
	s.byThread[msg.ThreadID] = append(s.byThread[msg.ThreadID], msg.ID)
	s.touchThread(msg.ThreadID, now)
	return nil
}

func (s *MemoryStore) StartPlaceholder(_ context.Context, threadID string, role models.Role, promptMessageID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	msg := &models.Message{
		ID:              uuid.NewString(),
		ThreadID:        threadID,
		Role:            role,
		Status:          models.MessagePending,
		Seq:             int64(len(s.byThread[threadID])) + 1,
		PromptMessageID: promptMessageID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.messages[msg.ID] = msg
	s.byThread[threadID] = append(s.byThread[threadID], msg.ID)
	s.touchThread(threadID, now)
	cp := *msg
	return &cp, nil
}

func (s *MemoryStore) AppendDelta(_ context.Context, messageID, text string, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	if msg.Terminal() {
		return ErrFinalized
	}
	msg.Content += text
	msg.Status = models.MessageStreaming
	msg.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Finalize(_ context.Context, messageID string, usage models.Usage, reason models.FinishReason, status models.MessageStatus) error {
	if status != models.MessageDone && status != models.MessageError {
		return fmt.Errorf("finalize requires a terminal status, got %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	if msg.Terminal() {
		return ErrFinalized
	}
	msg.Status = status
	msg.Usage = usage
	msg.FinishReason = reason
	msg.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) MarkError(_ context.Context, messageID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	if msg.Status == models.MessageError {
		return nil
	}
	if errMsg != "" {
		msg.Content += "\n\n[error: " + errMsg + "]"
	}
	msg.Status = models.MessageError
	msg.FinishReason = models.FinishError
	msg.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (s *MemoryStore) History(_ context.Context, threadID string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	ids := s.byThread[threadID]
	if len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.messages[id])
	}
	return out, nil
}

func (s *MemoryStore) RemoveAfterSequence(_ context.Context, threadID string, seq int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byThread[threadID]
	var kept []string
	removed := 0
	for _, id := range ids {
		msg := s.messages[id]
		if msg.Seq > seq {
			for _, callID := range s.byMessage[id] {
				delete(s.toolCalls, callID)
			}
			delete(s.byMessage, id)
			delete(s.messages, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.byThread[threadID] = kept
	s.touchThread(threadID, time.Now().UTC())
	return removed, nil
}

func (s *MemoryStore) touchThread(threadID string, now time.Time) {
	if t, ok := s.threads[threadID]; ok {
		t.UpdatedAt = now
	}
}

// --- tool calls ---

func (s *MemoryStore) Record(_ context.Context, call *models.ToolCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.toolCalls[call.ID]; exists {
		return ErrDuplicateCallID
	}
	if call.Status == "" {
		call.Status = models.ToolCallPending
	}
	if call.StartedAt.IsZero() {
		call.StartedAt = time.Now().UTC()
	}
	cp := *call
	s.toolCalls[call.ID] = &cp
	s.byMessage[call.MessageID] = append(s.byMessage[call.MessageID], call.ID)
	return nil
}

func (s *MemoryStore) MarkRunning(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.toolCalls[id]
	if ok && call.Status == models.ToolCallPending {
		call.Status = models.ToolCallRunning
	}
	return nil
}

func (s *MemoryStore) Complete(_ context.Context, id, result string) error {
	return s.finishToolCall(id, models.ToolCallCompleted, result, "")
}

func (s *MemoryStore) Fail(_ context.Context, id, errMsg string) error {
	return s.finishToolCall(id, models.ToolCallFailed, "", errMsg)
}

func (s *MemoryStore) finishToolCall(id string, status models.ToolCallStatus, result, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.toolCalls[id]
	if !ok || call.Status.Terminal() {
		return nil
	}
	call.Status = status
	call.Result = result
	call.Error = errMsg
	call.CompletedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SweepStale(_ context.Context, messageID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	swept := 0
	for _, id := range s.byMessage[messageID] {
		call := s.toolCalls[id]
		if call.Status.Terminal() {
			continue
		}
		call.Status = models.ToolCallFailed
		call.Error = models.SweepFailureReason
		call.CompletedAt = time.Now().UTC()
		swept++
	}
	return swept, nil
}

func (s *MemoryStore) GetToolCall(_ context.Context, id string) (*models.ToolCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	call, ok := s.toolCalls[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *call
	return &cp, nil
}

func (s *MemoryStore) ListToolCallsByMessage(_ context.Context, messageID string) ([]models.ToolCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byMessage[messageID]
	out := make([]models.ToolCall, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.toolCalls[id])
	}
	return out, nil
}

func (s *MemoryStore) PruneToolCalls(_ context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	var pruned int64
	for id, call := range s.toolCalls {
		if !call.Status.Terminal() || call.CompletedAt.IsZero() || !call.CompletedAt.Before(cutoff) {
			continue
		}
		delete(s.toolCalls, id)
		s.byMessage[call.MessageID] = removeID(s.byMessage[call.MessageID], id)
		pruned++
	}
	return pruned, nil
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// --- traces ---

func (s *MemoryStore) StartTrace(_ context.Context, trace *models.WorkflowTrace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if trace.ID == "" {
		trace.ID = uuid.NewString()
	}
	if _, exists := s.traces[trace.ID]; exists {
		return nil
	}
	if trace.Status == "" {
		trace.Status = models.TraceRunning
	}
	if trace.StartedAt.IsZero() {
		trace.StartedAt = time.Now().UTC()
	}
	cp := *trace
	s.traces[trace.ID] = &cp
	return nil
}

func (s *MemoryStore) CompleteTrace(_ context.Context, id string, usage models.Usage, duration time.Duration, toolCalls int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.traces[id]
	if !ok || t.Status != models.TraceRunning {
		return nil
	}
	t.Status = models.TraceCompleted
	t.Usage = usage
	t.Duration = duration
	t.ToolCallCount = toolCalls
	t.FinishedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) FailTrace(_ context.Context, id, errType, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.traces[id]
	if !ok || t.Status != models.TraceRunning {
		return nil
	}
	t.Status = models.TraceFailed
	t.ErrorType = errType
	t.ErrorMessage = errMsg
	t.FinishedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) GetTrace(_ context.Context, id string) (*models.WorkflowTrace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.traces[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) PruneTraces(_ context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	var pruned int64
	for id, t := range s.traces {
		if t.Status == models.TraceRunning || t.FinishedAt.IsZero() || !t.FinishedAt.Before(cutoff) {
			continue
		}
		delete(s.traces, id)
		pruned++
	}
	return pruned, nil
}

// --- checkpoint steps ---

func stepKey(runID, name string) string { return runID + "\x00" + name }

func (s *MemoryStore) GetStepResult(_ context.Context, runID, name string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.steps[stepKey(runID, name)]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(result))
	copy(cp, result)
	return cp, true, nil
}

func (s *MemoryStore) PutStepResult(_ context.Context, runID, name string, result []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if result == nil {
		result = []byte("null")
	}
	cp := make([]byte, len(result))
	copy(cp, result)
	s.steps[stepKey(runID, name)] = cp
	return nil
}

// --- data tools ---

func (s *MemoryStore) PutTodos(_ context.Context, threadID string, items []TodoItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]TodoItem, len(items))
	copy(cp, items)
	s.todos[threadID] = cp
	return nil
}

func (s *MemoryStore) GetTodos(_ context.Context, threadID string) ([]TodoItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.todos[threadID]
	cp := make([]TodoItem, len(items))
	copy(cp, items)
	return cp, nil
}

func (s *MemoryStore) SaveMemory(_ context.Context, note *MemoryNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	cp := *note
	s.memories = append(s.memories, &cp)
	return nil
}

func (s *MemoryStore) SearchMemories(_ context.Context, query string, limit int) ([]MemoryNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	q := strings.ToLower(query)
	var out []MemoryNote
	for i := len(s.memories) - 1; i >= 0 && len(out) < limit; i-- {
		n := s.memories[i]
		if q == "" || strings.Contains(strings.ToLower(n.Content), q) {
			out = append(out, *n)
		}
	}
	return out, nil
}
