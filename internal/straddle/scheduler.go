package straddle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"straddlebot/internal/marketdata"
	"straddlebot/internal/notify"
	"straddlebot/internal/storage"
)

// ErrHoliday is returned when a run is requested on a trading holiday.
var ErrHoliday = errors.New("exchange holiday, no runs today")

// ErrRunActive is returned when a strategy already has a run in flight.
var ErrRunActive = errors.New("strategy already has an active run")

// CalendarPort checks trading holidays.
type CalendarPort interface {
	IsTradingHoliday(ctx context.Context, date time.Time) (bool, error)
}

// Scheduler arms every active strategy once per trading day and exposes a
// manual trigger. Each armed strategy gets a one-shot timer; firing submits
// the run to a bounded worker pool that drives a fresh Engine.
type Scheduler struct {
	store     storage.Interface
	brokers   BrokerResolver
	quotes    marketdata.Provider
	notifier  notify.Notifier
	calendar  CalendarPort
	logger    *log.Logger
	engineCfg EngineConfig

	pool    *errgroup.Group
	runCtx  context.Context
	runStop context.CancelFunc

	mu      sync.Mutex
	timers  map[int64]*time.Timer
	running map[int64]bool
	closed  bool
}

// NewScheduler creates a scheduler with a worker pool bounded at maxConcurrent.
func NewScheduler(store storage.Interface, brokers BrokerResolver, quotes marketdata.Provider,
	notifier notify.Notifier, calendar CalendarPort, logger *log.Logger,
	engineCfg EngineConfig, maxConcurrent int) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	engineCfg.applyDefaults()

	pool := &errgroup.Group{}
	if maxConcurrent > 0 {
		pool.SetLimit(maxConcurrent)
	}
	runCtx, runStop := context.WithCancel(context.Background())

	return &Scheduler{
		runCtx:    runCtx,
		runStop:   runStop,
		store:     store,
		brokers:   brokers,
		quotes:    quotes,
		notifier:  notifier,
		calendar:  calendar,
		logger:    logger,
		engineCfg: engineCfg,
		pool:      pool,
		timers:    make(map[int64]*time.Timer),
		running:   make(map[int64]bool),
	}
}

// ArmDailyRuns schedules a one-shot timer at each active strategy's entry
// time. Called once per process start, after the warm-up delay. A holiday
// skips the whole day; a failure arming one strategy never aborts the rest.
func (s *Scheduler) ArmDailyRuns(ctx context.Context) error {
	now := s.engineCfg.Now()

	holiday, err := s.calendar.IsTradingHoliday(ctx, now)
	if err != nil {
		return fmt.Errorf("holiday check: %w", err)
	}
	if holiday {
		s.logger.Printf("today is a trading holiday, nothing to arm")
		return nil
	}

	strategies, err := s.store.ListStrategies(ctx)
	if err != nil {
		return fmt.Errorf("listing strategies: %w", err)
	}

	armed := 0
	for i := range strategies {
		strategy := strategies[i]
		if !strategy.Active {
			continue
		}

		if !strategy.PaperTrade {
			if _, err := s.store.GetTradingAccount(ctx, strategy.UserID); err != nil {
				s.logger.Printf("strategy %d: skipping, no trading session for %s: %v",
					strategy.ID, strategy.UserID, err)
				continue
			}
		}

		entryAt, err := strategy.EntryAt(now, s.engineCfg.Location)
		if err != nil {
			s.logger.Printf("strategy %d: skipping, bad entry time: %v", strategy.ID, err)
			continue
		}

		delay := entryAt.Sub(now)
		if delay < 0 {
			s.logger.Printf("strategy %d: entry time %s already passed, skipping today",
				strategy.ID, strategy.EntryTime)
			continue
		}

		s.armTimer(strategy.ID, delay)
		armed++
	}

	s.logger.Printf("armed %d of %d strategies", armed, len(strategies))
	return nil
}

func (s *Scheduler) armTimer(strategyID int64, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if old, ok := s.timers[strategyID]; ok {
		old.Stop()
	}
	s.timers[strategyID] = time.AfterFunc(delay, func() {
		if err := s.submit(strategyID); err != nil {
			s.logger.Printf("strategy %d: scheduled run not submitted: %v", strategyID, err)
		}
	})
}

// RunNow triggers an immediate run for one strategy. It returns as soon as
// the run is submitted; holiday and duplicate-run conditions surface
// synchronously.
func (s *Scheduler) RunNow(ctx context.Context, strategyID int64) error {
	holiday, err := s.calendar.IsTradingHoliday(ctx, s.engineCfg.Now())
	if err != nil {
		return fmt.Errorf("holiday check: %w", err)
	}
	if holiday {
		return ErrHoliday
	}

	strategy, err := s.store.GetStrategy(ctx, strategyID)
	if err != nil {
		return err
	}
	if !strategy.Active {
		return fmt.Errorf("strategy %d: %w", strategyID, ErrStrategyInactive)
	}
	if !strategy.PaperTrade {
		if _, err := s.store.GetTradingAccount(ctx, strategy.UserID); err != nil {
			return err
		}
	}

	return s.submit(strategyID)
}

// submit hands a run to the worker pool, enforcing one active run per
// strategy.
func (s *Scheduler) submit(strategyID int64) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is shut down")
	}
	if s.running[strategyID] {
		s.mu.Unlock()
		return fmt.Errorf("strategy %d: %w", strategyID, ErrRunActive)
	}
	s.running[strategyID] = true
	s.mu.Unlock()

	s.pool.Go(func() error {
		defer func() {
			s.mu.Lock()
			delete(s.running, strategyID)
			s.mu.Unlock()
		}()

		engine := NewEngine(s.store, s.brokers, s.quotes, s.notifier, s.logger, s.engineCfg, strategyID)
		if err := engine.Run(s.runCtx); err != nil {
			s.logger.Printf("strategy %d: run ended with error: %v", strategyID, err)
		}
		// Engine errors are logged, never fatal to the pool.
		return nil
	})
	return nil
}

// Cancel stops the pending entry timer for one strategy. In-flight runs are
// not interrupted.
func (s *Scheduler) Cancel(strategyID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[strategyID]; ok {
		timer.Stop()
		delete(s.timers, strategyID)
	}
}

// Running reports whether a strategy has a run in flight.
func (s *Scheduler) Running(strategyID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[strategyID]
}

// Shutdown cancels all pending timers and refuses new submissions. In-flight
// runs get the grace period to finish on their own; after that their context
// is cancelled and the pool is drained.
func (s *Scheduler) Shutdown(grace time.Duration) {
	s.mu.Lock()
	s.closed = true
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	if grace > 0 {
		done := make(chan struct{})
		go func() {
			_ = s.pool.Wait()
			close(done)
		}()
		select {
		case <-done:
			s.runStop()
			return
		case <-time.After(grace):
		}
	}

	s.runStop()
	_ = s.pool.Wait()
}
