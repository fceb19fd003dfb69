package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/homefox/homefox/pkg/config"
	"github.com/homefox/homefox/pkg/events"
	"github.com/homefox/homefox/pkg/llm"
	"github.com/homefox/homefox/pkg/mcp"
	"github.com/homefox/homefox/pkg/queue"
	"github.com/homefox/homefox/pkg/task"
)

// ErrTaskNotFound indicates the task id is unknown to the queue.
var ErrTaskNotFound = errors.New("task not found")

// conversationTaskTimeout bounds a single conversation-loop task. The loop
// runs until stopped; the timeout only caps a runaway session.
const conversationTaskTimeout = 24 * time.Hour

// Agent is the facade over the whole runtime: queue, scheduler, loops,
// executors, and the MCP control plane.
type Agent struct {
	cfg *config.Config

	llm      llm.Client
	locals   *mcp.LocalRegistry
	manager  *mcp.Manager
	index    *mcp.ToolIndex
	actions  *ActionRegistry
	notifier *events.Notifier

	queue      *queue.PriorityQueue
	scheduler  *queue.Scheduler
	loop       *queue.TaskLoop
	trigger    *queue.PeriodicTrigger
	dispatcher *Dispatcher

	conversation *ConversationExecutor

	logger *slog.Logger
}

// New wires the runtime from configuration. reg receives the queue metrics;
// pass nil to disable them.
func New(cfg *config.Config, reg prometheus.Registerer) (*Agent, error) {
	client, err := llm.NewOpenAIClient(cfg.LLM)
	if err != nil {
		return nil, err
	}

	locals := mcp.NewLocalRegistry()
	manager := mcp.NewManager(cfg.MCPServerRegistry)
	index := mcp.NewToolIndex(locals)
	router := mcp.NewRouter(client, index)
	planner := NewPlanner(client, index, cfg.Executor.MaxPlanSteps)

	actions := NewActionRegistry()
	notifier := events.NewNotifier()
	home := NewHomeContextProvider(manager, cfg.Executor.HomeContextTTL.Std())

	q := queue.NewPriorityQueue()
	scheduler := queue.NewScheduler(cfg.Runtime.MaxConcurrentTasks)
	var metrics *queue.Metrics
	if reg != nil {
		metrics = queue.NewMetrics(reg)
	}
	loop := queue.NewTaskLoop(q, scheduler,
		cfg.Runtime.LoopInterval.Std(), cfg.Runtime.CleanupInterval.Std(), metrics)
	trigger := queue.NewPeriodicTrigger(q)

	mcpExec := NewMCPExecutor(cfg.Executor, router, planner, manager, locals, home, q)
	actionExec := NewActionExecutor(actions)
	conversation := NewConversationExecutor(cfg.Conversation, client, actions, q, notifier)
	dispatcher := NewDispatcher(q, notifier)

	scheduler.RegisterExecutor(task.TypeMCPCall, mcpExec)
	scheduler.RegisterExecutor(task.TypePatrol, actionExec)
	scheduler.RegisterExecutor(task.TypeUserCommand, actionExec)
	scheduler.RegisterExecutor(task.TypeActionChain, actionExec)
	scheduler.RegisterExecutor(task.TypeConversation, conversation)
	scheduler.RegisterExecutor(task.TypeDispatcher, dispatcher)

	if cfg.Patrol.Enabled {
		err := trigger.Register(queue.TriggerSpec{
			Name:     "patrol",
			Schedule: cfg.Patrol.Schedule,
			Type:     task.TypePatrol,
			Context:  map[string]any{"action_name": cfg.Patrol.Action},
		})
		if err != nil {
			return nil, err
		}
	}

	return &Agent{
		cfg:          cfg,
		llm:          client,
		locals:       locals,
		manager:      manager,
		index:        index,
		actions:      actions,
		notifier:     notifier,
		queue:        q,
		scheduler:    scheduler,
		loop:         loop,
		trigger:      trigger,
		dispatcher:   dispatcher,
		conversation: conversation,
		logger:       slog.With("component", "agent"),
	}, nil
}

// Start connects the MCP servers, primes the tool index, and launches the
// background loops.
func (a *Agent) Start(ctx context.Context) error {
	a.manager.Initialize(ctx)

	cachePath := a.cfg.MCP.CachePath
	if mcp.ShouldSync(cachePath, a.cfg.MCP.CacheTTLSeconds, a.cfg.MCP.ForceRefreshOnInit) {
		a.index.Sync(ctx, a.manager.Connections())
		if err := a.index.Save(cachePath); err != nil {
			a.logger.Warn("Tool index save failed", "path", cachePath, "error", err)
		}
	} else if err := a.index.Load(cachePath); err != nil {
		a.logger.Warn("Tool index load failed, syncing live", "path", cachePath, "error", err)
		a.index.Sync(ctx, a.manager.Connections())
	}
	a.logger.Info("Tool index ready", "tools", a.index.Len())

	a.manager.StartHealthLoop(ctx)
	a.loop.Start(ctx)
	a.trigger.Start(ctx)
	return nil
}

// Close shuts the runtime down: triggers first so nothing new is submitted,
// then the loops, then the MCP connections.
func (a *Agent) Close() error {
	a.trigger.Stop()
	a.loop.Stop()
	a.scheduler.Wait()
	a.manager.StopHealthLoop()
	a.actions.UnregisterAll()
	return a.manager.Close()
}

// SubmitTask accepts an external task envelope.
func (a *Agent) SubmitTask(env TaskEnvelope) (*task.Task, error) {
	return a.dispatcher.Dispatch(env)
}

// StartConversationLoop enqueues the long-running conversation task. The task
// runs at top priority in loop mode, so stopping the listener parks it in
// standby instead of completing it. Returns the task so callers can cancel it.
func (a *Agent) StartConversationLoop() (*task.Task, error) {
	t := task.New(task.TypeConversation)
	t.Priority = task.MaxPriority
	t.Timeout = conversationTaskTimeout
	t.ExecutionData["mode"] = ModeLoop
	if err := a.queue.Enqueue(t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTask returns a snapshot of the task, or ErrTaskNotFound.
func (a *Agent) GetTask(taskID string) (*task.Task, error) {
	t := a.queue.GetByID(taskID)
	if t == nil {
		return nil, ErrTaskNotFound
	}
	return t.Snapshot(), nil
}

// ListTasks returns snapshots of every known task.
func (a *Agent) ListTasks() []*task.Task {
	known := a.queue.ListAll()
	out := make([]*task.Task, 0, len(known))
	for _, t := range known {
		out = append(out, t.Snapshot())
	}
	return out
}

// CancelTask cancels a pending or running task.
func (a *Agent) CancelTask(taskID string) error {
	if a.queue.Cancel(taskID) {
		return nil
	}
	if a.scheduler.CancelTask(taskID) {
		return nil
	}
	if a.queue.GetByID(taskID) == nil {
		return ErrTaskNotFound
	}
	return task.ErrTerminalStatus
}

// Statistics returns the queue statistics snapshot.
func (a *Agent) Statistics() queue.Statistics {
	return a.queue.GetStatistics()
}

// ServerStatuses reports the MCP connection states for health checks.
func (a *Agent) ServerStatuses() map[string]mcp.ConnectionState {
	return a.manager.Statuses()
}

// ExecuteAction invokes a registered capability directly.
func (a *Agent) ExecuteAction(ctx context.Context, name string, input map[string]any) (map[string]any, error) {
	return a.actions.Execute(ctx, name, input)
}

// ExecuteActionChain invokes capabilities in order, feeding outputs forward.
func (a *Agent) ExecuteActionChain(ctx context.Context, names []string, input map[string]any) (map[string]any, error) {
	return a.actions.ExecuteChain(ctx, names, input)
}

// Actions exposes the registry for capability registration at startup.
func (a *Agent) Actions() *ActionRegistry { return a.actions }

// LocalTools exposes the local tool registry for registration at startup.
func (a *Agent) LocalTools() *mcp.LocalRegistry { return a.locals }

// Notifier exposes the event notifier for WebSocket attachment.
func (a *Agent) Notifier() *events.Notifier { return a.notifier }

// Conversation exposes the conversation executor for its control surface.
func (a *Agent) Conversation() *ConversationExecutor { return a.conversation }

// ToolIndex exposes the tool index for inspection endpoints.
func (a *Agent) ToolIndex() *mcp.ToolIndex { return a.index }

// SetPatrolEnabled toggles periodic patrol firing at runtime.
func (a *Agent) SetPatrolEnabled(enabled bool) {
	a.trigger.SetEnabled(enabled)
}
