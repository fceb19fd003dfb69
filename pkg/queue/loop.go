package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TaskLoop co-operates the queue and the scheduler: the main loop moves
// ready tasks into execution, the cleanup loop purges terminal tasks, reaps
// finished workers, and publishes statistics.
type TaskLoop struct {
	queue     *PriorityQueue
	scheduler *Scheduler

	loopInterval    time.Duration
	cleanupInterval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	metrics *Metrics
	logger  *slog.Logger
}

// NewTaskLoop creates the loop. metrics may be nil (metrics disabled).
func NewTaskLoop(q *PriorityQueue, s *Scheduler, loopInterval, cleanupInterval time.Duration, metrics *Metrics) *TaskLoop {
	if loopInterval <= 0 {
		loopInterval = time.Second
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 10 * time.Second
	}
	return &TaskLoop{
		queue:           q,
		scheduler:       s,
		loopInterval:    loopInterval,
		cleanupInterval: cleanupInterval,
		metrics:         metrics,
		logger:          slog.With("component", "task_loop"),
	}
}

// Start launches both loops. Calling Start on a running loop is a no-op.
func (l *TaskLoop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}
	ctx, l.cancel = context.WithCancel(ctx)
	// Bind the channel locally: Stop nils l.done before the watcher fires.
	done := make(chan struct{})
	l.done = done

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		l.runMain(ctx)
	}()
	go func() {
		defer wg.Done()
		l.runCleanup(ctx)
	}()
	go func() {
		wg.Wait()
		close(done)
	}()

	l.logger.Info("Task loop started",
		"loop_interval", l.loopInterval, "cleanup_interval", l.cleanupInterval)
}

// Stop cancels both loops and waits for them to observe cancellation.
func (l *TaskLoop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	l.logger.Info("Task loop stopped")
}

// runMain dequeues one ready task per tick and hands it to the scheduler,
// re-enqueueing on rejection.
func (l *TaskLoop) runMain(ctx context.Context) {
	ticker := time.NewTicker(l.loopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *TaskLoop) tick(ctx context.Context) {
	if l.queue.Size() == 0 || !l.scheduler.CanSchedule() {
		return
	}
	t := l.queue.Dequeue()
	if t == nil {
		return
	}
	if !l.scheduler.Schedule(ctx, t) {
		// Rejected (capacity race or missing executor): put it back unless
		// the task died in between.
		if !t.IsTerminal() {
			if err := l.queue.Enqueue(t); err != nil {
				l.logger.Warn("Failed to re-enqueue rejected task",
					"task_id", t.ID, "error", err)
			}
		}
	}
}

// runCleanup purges terminal tasks, reaps finished workers, and emits a
// statistics snapshot every cleanup interval.
func (l *TaskLoop) runCleanup(ctx context.Context) {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged := l.queue.RemoveCompleted()
			reaped := l.scheduler.Reap()
			stats := l.queue.GetStatistics()
			if l.metrics != nil {
				l.metrics.Observe(stats, l.scheduler.InflightCount())
			}
			l.logger.Debug("Cleanup pass",
				"purged", purged, "reaped", reaped,
				"pending", stats.Pending, "total", stats.Total)
		}
	}
}
