package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/employee-lifecycle/internal/application/port"
	"github.com/garyjia/employee-lifecycle/internal/domain/event"
)

// Publisher receives events produced by background workers
type Publisher interface {
	Publish(ctx context.Context, events ...*event.Event)
}

// OverdueScannerConfig holds configuration for the overdue scanner
type OverdueScannerConfig struct {
	PollInterval time.Duration
}

// DefaultOverdueScannerConfig returns default configuration
func DefaultOverdueScannerConfig() OverdueScannerConfig {
	return OverdueScannerConfig{PollInterval: time.Minute}
}

// ScannerStats is a snapshot of scanner activity
type ScannerStats struct {
	Scans     int
	Reported  int
	LastScan  time.Time
	LastError error
}

// OverdueScanner periodically looks for open tasks past their due date and
// publishes one task.overdue event per task and due date
type OverdueScanner struct {
	config    OverdueScannerConfig
	tasks     port.TaskRepository
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.Mutex
	reported  map[string]time.Time
	stats     ScannerStats
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewOverdueScanner creates a new overdue scanner
func NewOverdueScanner(config OverdueScannerConfig, tasks port.TaskRepository, publisher Publisher, logger *zap.Logger) *OverdueScanner {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultOverdueScannerConfig().PollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OverdueScanner{
		config:    config,
		tasks:     tasks,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		reported:  make(map[string]time.Time),
	}
}

// Start begins the polling loop
func (s *OverdueScanner) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("overdue scanner already running")
	}

	var runCtx context.Context
	runCtx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.isRunning = true

	s.logger.Info("OverdueScanner started", zap.Duration("poll_interval", s.config.PollInterval))
	go s.pollLoop(runCtx, s.done)
	return nil
}

// Stop terminates the loop and waits for an in-flight scan
func (s *OverdueScanner) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	stats := s.Stats()
	s.logger.Info("OverdueScanner stopped",
		zap.Int("scans", stats.Scans),
		zap.Int("reported", stats.Reported))
	return nil
}

// Name returns the worker name for identification
func (s *OverdueScanner) Name() string {
	return "OverdueScanner"
}

// Stats returns a snapshot of scanner activity
func (s *OverdueScanner) Stats() ScannerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *OverdueScanner) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ScanOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("Failed to scan for overdue tasks", zap.Error(err))
			}
		}
	}
}

// ScanOnce publishes events for newly overdue tasks and returns how many
func (s *OverdueScanner) ScanOnce(ctx context.Context) (int, error) {
	now := s.now()
	overdue, err := s.tasks.ListOverdue(ctx, now, 0)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Scans++
	s.stats.LastScan = now
	s.stats.LastError = err
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue tasks: %w", err)
	}

	// Forget tasks that were completed, cancelled or rescheduled
	current := make(map[string]time.Time, len(overdue))
	var events []*event.Event
	for _, task := range overdue {
		due := *task.DueDate
		current[task.ID] = due
		if prev, ok := s.reported[task.ID]; ok && prev.Equal(due) {
			continue
		}

		evt := event.NewEvent(event.TypeTaskOverdue, task.InstanceID, map[string]interface{}{
			"step_key":    task.StepKey,
			"assigned_to": task.AssignedTo,
			"due_date":    due.Format(time.RFC3339),
			"overdue_by":  now.Sub(due).Round(time.Second).String(),
		}, now).WithTask(task.ID)
		events = append(events, evt)

		s.logger.Info("Task overdue",
			zap.String("task_id", task.ID),
			zap.String("instance_id", task.InstanceID),
			zap.String("assigned_to", task.AssignedTo),
			zap.Time("due_date", due))
	}
	s.reported = current
	s.stats.Reported += len(events)

	if len(events) > 0 && s.publisher != nil {
		s.publisher.Publish(ctx, events...)
	}
	return len(events), nil
}
