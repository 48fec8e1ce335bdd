package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Leader gates scheduled work so only one process runs it.
type Leader interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Task is a periodic unit of work.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs tasks on their intervals while holding leadership.
type Scheduler struct {
	leader  Leader
	tasks   []Task
	tick    time.Duration
	logger  *zap.Logger
	now     func() time.Time
	onRun   func(task string, err error)
	mu      sync.Mutex
	lastRun map[string]time.Time
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Tick   time.Duration
	Logger *zap.Logger
	Now    func() time.Time
	// OnRun observes every task execution.
	OnRun func(task string, err error)
}

// NewScheduler builds a scheduler. A nil leader means this process always leads.
func NewScheduler(leader Leader, cfg SchedulerConfig, tasks ...Task) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Minute
		for _, t := range tasks {
			if t.Interval > 0 && t.Interval < cfg.Tick {
				cfg.Tick = t.Interval
			}
		}
	}
	return &Scheduler{
		leader:  leader,
		tasks:   tasks,
		tick:    cfg.Tick,
		logger:  cfg.Logger,
		now:     cfg.Now,
		onRun:   cfg.OnRun,
		lastRun: make(map[string]time.Time, len(tasks)),
	}
}

// Run blocks until ctx is cancelled, then releases leadership.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	s.logger.Info("scheduler started", zap.Int("tasks", len(s.tasks)), zap.Duration("tick", s.tick))
	for {
		select {
		case <-ctx.Done():
			if s.leader != nil {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := s.leader.Release(releaseCtx); err != nil {
					s.logger.Warn("release scheduler leadership", zap.Error(err))
				}
				cancel()
			}
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}

// RunDue runs every task whose interval has elapsed, if this process leads.
// It returns the names of the tasks that ran.
func (s *Scheduler) RunDue(ctx context.Context) []string {
	if s.leader != nil {
		leading, err := s.leader.TryAcquire(ctx)
		if err != nil {
			s.logger.Warn("scheduler leadership check failed", zap.Error(err))
			return nil
		}
		if !leading {
			return nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var ran []string
	for _, task := range s.tasks {
		now := s.now()
		if last, ok := s.lastRun[task.Name]; ok && now.Sub(last) < task.Interval {
			continue
		}
		s.lastRun[task.Name] = now
		err := task.Run(ctx)
		if err != nil {
			s.logger.Error("scheduled task failed", zap.String("task", task.Name), zap.Error(err))
		} else {
			s.logger.Debug("scheduled task completed", zap.String("task", task.Name))
		}
		if s.onRun != nil {
			s.onRun(task.Name, err)
		}
		ran = append(ran, task.Name)
	}
	return ran
}
