package agent

import (
	"context"
	"sync"

	"github.com/homefox/homefox/pkg/llm"
	"github.com/homefox/homefox/pkg/task"
)

// fakeLLM scripts chat completions through a function.
type fakeLLM struct {
	mu       sync.Mutex
	fn       func(req llm.Request) (*llm.Response, error)
	requests []llm.Request
}

func (f *fakeLLM) Chat(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.fn(req)
}

// fakeStore is an in-memory TaskStore / queue.Enqueuer.
type fakeStore struct {
	mu    sync.Mutex
	tasks map[string]*task.Task
	order []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: make(map[string]*task.Task)}
}

func (s *fakeStore) Enqueue(t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	s.order = append(s.order, t.ID)
	return nil
}

func (s *fakeStore) GetByID(taskID string) *task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[taskID]
}

func (s *fakeStore) last() *task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return nil
	}
	return s.tasks[s.order[len(s.order)-1]]
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// stubTool is a scriptable local tool.
type stubTool struct {
	name string
	desc string
	fn   func(ctx context.Context, args map[string]any) (map[string]any, error)
}

func (s *stubTool) Name() string                { return s.name }
func (s *stubTool) Description() string         { return s.desc }
func (s *stubTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }

func (s *stubTool) Call(ctx context.Context, args map[string]any) (map[string]any, error) {
	return s.fn(ctx, args)
}
