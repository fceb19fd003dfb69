package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/homefox/homefox/pkg/task"
)

// TriggerSpec describes one periodic task source: a cron schedule and a task
// template materialized on each firing.
type TriggerSpec struct {
	Name     string
	Schedule string // cron expression or "@every 300s" descriptor
	Type     task.TaskType
	Priority int
	Timeout  time.Duration
	Context  map[string]any
}

// PeriodicTrigger submits tasks on cron schedules. Each firing materializes a
// fresh task from the spec's template; the trigger never reuses task ids.
type PeriodicTrigger struct {
	enqueuer Enqueuer
	parser   cron.Parser

	mu      sync.Mutex
	specs   []triggerEntry
	cancel  context.CancelFunc
	done    chan struct{}
	enabled bool

	logger *slog.Logger
}

type triggerEntry struct {
	spec     TriggerSpec
	schedule cron.Schedule
	next     time.Time
}

// NewPeriodicTrigger creates a trigger feeding the given enqueuer.
func NewPeriodicTrigger(enqueuer Enqueuer) *PeriodicTrigger {
	return &PeriodicTrigger{
		enqueuer: enqueuer,
		parser: cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		enabled: true,
		logger:  slog.With("component", "periodic_trigger"),
	}
}

// Register adds a trigger spec. Returns an error when the schedule does not
// parse. Must be called before Start.
func (p *PeriodicTrigger) Register(spec TriggerSpec) error {
	schedule, err := p.parser.Parse(spec.Schedule)
	if err != nil {
		return fmt.Errorf("parse schedule %q for trigger %q: %w", spec.Schedule, spec.Name, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.specs = append(p.specs, triggerEntry{spec: spec, schedule: schedule})
	return nil
}

// SetEnabled toggles firing without stopping the timer loop. Disabled
// triggers keep advancing their schedule so re-enabling does not replay
// missed firings.
func (p *PeriodicTrigger) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
}

// Start launches the timer loop. No-op when already running or when no specs
// are registered.
func (p *PeriodicTrigger) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil || len(p.specs) == 0 {
		return
	}

	now := time.Now()
	for i := range p.specs {
		p.specs[i].next = p.specs[i].schedule.Next(now)
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.run(ctx)

	p.logger.Info("Periodic trigger started", "specs", len(p.specs))
}

// Stop halts the timer loop and waits for it to exit.
func (p *PeriodicTrigger) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Info("Periodic trigger stopped")
}

func (p *PeriodicTrigger) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.fireDue(now)
		}
	}
}

func (p *PeriodicTrigger) fireDue(now time.Time) {
	p.mu.Lock()
	var due []TriggerSpec
	for i := range p.specs {
		entry := &p.specs[i]
		if now.Before(entry.next) {
			continue
		}
		entry.next = entry.schedule.Next(now)
		if p.enabled {
			due = append(due, entry.spec)
		}
	}
	p.mu.Unlock()

	for _, spec := range due {
		p.fire(spec)
	}
}

// fire materializes one task from the spec template and enqueues it.
func (p *PeriodicTrigger) fire(spec TriggerSpec) {
	t := task.New(spec.Type)
	if spec.Priority != 0 {
		t.Priority = task.ClampPriority(spec.Priority)
	}
	if spec.Timeout > 0 {
		t.Timeout = spec.Timeout
	}
	for k, v := range spec.Context {
		t.ExecutionData[k] = v
	}
	t.RecordEvent("triggered", map[string]any{"trigger": spec.Name})

	if err := p.enqueuer.Enqueue(t); err != nil {
		p.logger.Warn("Failed to enqueue triggered task",
			"trigger", spec.Name, "task_id", t.ID, "error", err)
		return
	}
	p.logger.Debug("Triggered task", "trigger", spec.Name, "task_id", t.ID)
}
