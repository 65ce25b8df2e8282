package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrInvalidPeriod = errors.New("period must be positive")

type Task func(ctx context.Context)

type task struct {
	name string
	fn   Task
}

// Scheduler - единственный владелец периода опроса. Все зарегистрированные
// задачи крутятся с одним периодом; смена периода перезапускает их все.
type Scheduler struct {
	mu      sync.Mutex
	period  time.Duration
	tasks   []task
	parent  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	log     *slog.Logger
}

func New(period time.Duration, log *slog.Logger) (*Scheduler, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{period: period, log: log}, nil
}

// Register добавляет задачу; после Start новые задачи не принимаются до перезапуска
func (s *Scheduler) Register(name string, fn Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task{name: name, fn: fn})
}

// Start запускает задачи: сразу один раз, затем каждый период
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.parent = ctx
	s.running = true
	s.launchLocked(true)
	s.log.Info("scheduler started", "period", s.period, "tasks", len(s.tasks))
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.stopLocked()
	s.running = false
	s.log.Info("scheduler stopped")
}

// SetPeriod останавливает все циклы, дожидается их и запускает заново.
// Старый и новый таймеры никогда не работают одновременно.
func (s *Scheduler) SetPeriod(period time.Duration) error {
	if period <= 0 {
		return ErrInvalidPeriod
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if period == s.period {
		return nil
	}

	s.period = period
	if s.running {
		s.stopLocked()
		s.launchLocked(false)
	}
	s.log.Info("poll period changed", "period", period)
	return nil
}

func (s *Scheduler) Period() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.period
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) stopLocked() {
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
}

func (s *Scheduler) launchLocked(immediate bool) {
	ctx, cancel := context.WithCancel(s.parent)
	s.cancel = cancel

	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t, s.period, immediate)
	}
}

func (s *Scheduler) loop(ctx context.Context, t task, period time.Duration, immediate bool) {
	defer s.wg.Done()

	if immediate {
		t.fn(ctx)
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Debug("task stopped", "task", t.name)
			return
		case <-ticker.C:
			t.fn(ctx)
		}
	}
}
