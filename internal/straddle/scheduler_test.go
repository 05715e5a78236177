package straddle

import (
	"context"
	"errors"
	"testing"
	"time"

	"straddlebot/internal/storage"
)

type fakeCalendar struct {
	holiday bool
	err     error
}

func (f *fakeCalendar) IsTradingHoliday(context.Context, time.Time) (bool, error) {
	return f.holiday, f.err
}

func schedulerConfig(now time.Time) EngineConfig {
	cfg := fastEngineConfig()
	cfg.Now = func() time.Time { return now }
	return cfg
}

func TestArmDailyRunsSkipsHoliday(t *testing.T) {
	store := seedStore(testStrategy())
	s := NewScheduler(store, fixedResolver{&fakeBroker{}}, newFakeQuotes(nil), nil,
		&fakeCalendar{holiday: true}, quietLogger(), fastEngineConfig(), 4)
	defer s.Shutdown(0)

	if err := s.ArmDailyRuns(context.Background()); err != nil {
		t.Fatalf("ArmDailyRuns() error = %v", err)
	}
	if len(s.timers) != 0 {
		t.Errorf("armed %d timers on a holiday, want 0", len(s.timers))
	}
}

func TestArmDailyRunsHolidayCheckFailure(t *testing.T) {
	store := seedStore(testStrategy())
	s := NewScheduler(store, fixedResolver{&fakeBroker{}}, newFakeQuotes(nil), nil,
		&fakeCalendar{err: errors.New("calendar down")}, quietLogger(), fastEngineConfig(), 4)
	defer s.Shutdown(0)

	if err := s.ArmDailyRuns(context.Background()); err == nil {
		t.Error("ArmDailyRuns() should surface holiday check failure")
	}
}

func TestArmDailyRunsSelectsEligibleStrategies(t *testing.T) {
	now := time.Date(2026, time.September, 1, 9, 0, 0, 0, time.UTC)

	eligible := testStrategy()
	eligible.ID = 1
	eligible.EntryTime = "09:45:00"

	inactive := testStrategy()
	inactive.ID = 2
	inactive.Active = false

	passed := testStrategy()
	passed.ID = 3
	passed.EntryTime = "08:30:00"
	passed.ExitTime = "08:45:00"

	noAccount := testStrategy()
	noAccount.ID = 4
	noAccount.UserID = "ghost"

	store := seedStore(eligible)
	store.PutStrategy(inactive)
	store.PutStrategy(passed)
	store.PutStrategy(noAccount)

	s := NewScheduler(store, fixedResolver{&fakeBroker{}}, newFakeQuotes(nil), nil,
		&fakeCalendar{}, quietLogger(), schedulerConfig(now), 4)
	defer s.Shutdown(0)

	if err := s.ArmDailyRuns(context.Background()); err != nil {
		t.Fatalf("ArmDailyRuns() error = %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) != 1 {
		t.Fatalf("armed %d timers, want 1", len(s.timers))
	}
	if _, ok := s.timers[1]; !ok {
		t.Error("the eligible strategy was not armed")
	}
}

func TestArmDailyRunsPaperStrategyNeedsNoAccount(t *testing.T) {
	now := time.Date(2026, time.September, 1, 9, 0, 0, 0, time.UTC)

	paper := testStrategy()
	paper.ID = 5
	paper.UserID = "ghost"
	paper.PaperTrade = true

	store := storage.NewMockStorage()
	store.PutStrategy(paper)

	s := NewScheduler(store, fixedResolver{&fakeBroker{}}, newFakeQuotes(nil), nil,
		&fakeCalendar{}, quietLogger(), schedulerConfig(now), 4)
	defer s.Shutdown(0)

	if err := s.ArmDailyRuns(context.Background()); err != nil {
		t.Fatalf("ArmDailyRuns() error = %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[5]; !ok {
		t.Error("paper strategy without an account should still be armed")
	}
}

func TestRunNowHoliday(t *testing.T) {
	store := seedStore(testStrategy())
	s := NewScheduler(store, fixedResolver{&fakeBroker{}}, newFakeQuotes(nil), nil,
		&fakeCalendar{holiday: true}, quietLogger(), fastEngineConfig(), 4)
	defer s.Shutdown(0)

	if err := s.RunNow(context.Background(), 1); !errors.Is(err, ErrHoliday) {
		t.Errorf("RunNow() error = %v, want ErrHoliday", err)
	}
}

func TestRunNowInactiveStrategy(t *testing.T) {
	strategy := testStrategy()
	strategy.Active = false
	store := seedStore(strategy)

	s := NewScheduler(store, fixedResolver{&fakeBroker{}}, newFakeQuotes(nil), nil,
		&fakeCalendar{}, quietLogger(), fastEngineConfig(), 4)
	defer s.Shutdown(0)

	if err := s.RunNow(context.Background(), 1); !errors.Is(err, ErrStrategyInactive) {
		t.Errorf("RunNow() error = %v, want ErrStrategyInactive", err)
	}
}

func TestRunNowMissingAccount(t *testing.T) {
	strategy := testStrategy()
	strategy.UserID = "ghost"
	store := storage.NewMockStorage()
	store.PutStrategy(strategy)

	s := NewScheduler(store, fixedResolver{&fakeBroker{}}, newFakeQuotes(nil), nil,
		&fakeCalendar{}, quietLogger(), fastEngineConfig(), 4)
	defer s.Shutdown(0)

	if err := s.RunNow(context.Background(), 1); !errors.Is(err, storage.ErrAccountNotFound) {
		t.Errorf("RunNow() error = %v, want ErrAccountNotFound", err)
	}
}

func TestRunNowRejectsConcurrentRun(t *testing.T) {
	store := seedStore(testStrategy())
	s := NewScheduler(store, fixedResolver{&fakeBroker{}}, newFakeQuotes(nil), nil,
		&fakeCalendar{}, quietLogger(), fastEngineConfig(), 4)
	defer s.Shutdown(0)

	s.mu.Lock()
	s.running[1] = true
	s.mu.Unlock()

	if err := s.RunNow(context.Background(), 1); !errors.Is(err, ErrRunActive) {
		t.Errorf("RunNow() error = %v, want ErrRunActive", err)
	}

	s.mu.Lock()
	delete(s.running, 1)
	s.mu.Unlock()
}

func TestRunNowExecutes(t *testing.T) {
	strategy := testStrategy()
	strategy.PaperTrade = true
	store := seedStore(strategy)

	quotes := newFakeQuotes(map[string]float64{
		"NSE:NIFTY 50": 24812.5,
		callKey:        182.35,
		putKey:         176.10,
	})

	s := NewScheduler(store, fixedResolver{&fakeBroker{}}, quotes, nil,
		&fakeCalendar{}, quietLogger(), fastEngineConfig(), 4)

	go func() {
		time.Sleep(30 * time.Millisecond)
		quotes.set(callKey, 165.0)
		quotes.set(putKey, 165.0)
	}()

	if err := s.RunNow(context.Background(), 1); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}

	// Shutdown drains the in-flight run within the grace period.
	s.Shutdown(2 * time.Second)

	records := store.Records()
	if len(records) != 1 {
		t.Fatalf("got %d execution records, want 1", len(records))
	}
	if records[0].ExitedAt == nil {
		t.Error("run did not reach exit before shutdown drain")
	}
}

func TestScheduledTimerFiresRun(t *testing.T) {
	strategy := testStrategy()
	strategy.PaperTrade = true
	// Entry one second from the fixed clock.
	now := time.Date(2026, time.September, 1, 9, 44, 59, 0, time.UTC)
	store := seedStore(strategy)

	quotes := newFakeQuotes(map[string]float64{
		"NSE:NIFTY 50": 24812.5,
		callKey:        182.35,
		putKey:         176.10,
	})

	s := NewScheduler(store, fixedResolver{&fakeBroker{}}, quotes, nil,
		&fakeCalendar{}, quietLogger(), schedulerConfig(now), 4)

	if err := s.ArmDailyRuns(context.Background()); err != nil {
		t.Fatalf("ArmDailyRuns() error = %v", err)
	}

	go func() {
		time.Sleep(1100 * time.Millisecond)
		quotes.set(callKey, 165.0)
		quotes.set(putKey, 165.0)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for len(store.Records()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timer did not fire a run")
		}
		time.Sleep(20 * time.Millisecond)
	}

	s.Shutdown(0)
}

func TestCancelStopsPendingTimer(t *testing.T) {
	now := time.Date(2026, time.September, 1, 9, 0, 0, 0, time.UTC)
	store := seedStore(testStrategy())

	s := NewScheduler(store, fixedResolver{&fakeBroker{}}, newFakeQuotes(nil), nil,
		&fakeCalendar{}, quietLogger(), schedulerConfig(now), 4)
	defer s.Shutdown(0)

	if err := s.ArmDailyRuns(context.Background()); err != nil {
		t.Fatalf("ArmDailyRuns() error = %v", err)
	}

	s.Cancel(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[1]; ok {
		t.Error("Cancel() left the timer registered")
	}
}

func TestShutdownRefusesNewRuns(t *testing.T) {
	store := seedStore(testStrategy())
	s := NewScheduler(store, fixedResolver{&fakeBroker{}}, newFakeQuotes(nil), nil,
		&fakeCalendar{}, quietLogger(), fastEngineConfig(), 4)

	s.Shutdown(0)

	if err := s.RunNow(context.Background(), 1); err == nil {
		t.Error("RunNow() after Shutdown should fail")
	}
}
