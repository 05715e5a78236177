package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"straddlebot/internal/models"
	"straddlebot/internal/storage"
	"straddlebot/internal/straddle"
)

type stubRunner struct {
	err     error
	called  []int64
	running bool
}

func (r *stubRunner) RunNow(_ context.Context, strategyID int64) error {
	r.called = append(r.called, strategyID)
	return r.err
}

func (r *stubRunner) Running(int64) bool { return r.running }

func newTestServer(t *testing.T, store storage.Interface, runner Runner, authToken string) *httptest.Server {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(testWriter{})

	srv := NewServer(Config{Port: 0, AuthToken: authToken}, store, runner, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func testStrategy() models.Strategy {
	return models.Strategy{
		ID:             1,
		UserID:         "alice",
		Side:           models.SideShort,
		Instrument:     "NIFTY 50",
		Exchange:       "NSE",
		TradingSegment: "NFO-OPT",
		IndexName:      "NIFTY",
		StrikeSelector: models.SelectorIndex,
		Lots:           1,
		EntryTime:      "09:45:00",
		ExitTime:       "15:15:00",
		Active:         true,
		ExpiryScope:    models.ExpiryCurrent,
	}
}

func TestListStrategies(t *testing.T) {
	store := storage.NewMockStorage()
	store.PutStrategy(testStrategy())

	ts := newTestServer(t, store, &stubRunner{}, "")

	resp, err := http.Get(ts.URL + "/api/strategies")
	if err != nil {
		t.Fatalf("GET /api/strategies: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got []models.Strategy
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].UserID != "alice" {
		t.Errorf("strategies = %+v, want one for alice", got)
	}
}

func TestGetStrategyNotFound(t *testing.T) {
	ts := newTestServer(t, storage.NewMockStorage(), &stubRunner{}, "")

	resp, err := http.Get(ts.URL + "/api/strategies/42")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestExecuteStrategy(t *testing.T) {
	tests := []struct {
		name       string
		runnerErr  error
		wantStatus int
	}{
		{"accepted", nil, http.StatusAccepted},
		{"already running", straddle.ErrRunActive, http.StatusConflict},
		{"holiday", straddle.ErrHoliday, http.StatusUnprocessableEntity},
		{"inactive", straddle.ErrStrategyInactive, http.StatusUnprocessableEntity},
		{"no account", storage.ErrAccountNotFound, http.StatusUnprocessableEntity},
		{"unknown strategy", storage.ErrStrategyNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &stubRunner{err: tt.runnerErr}
			ts := newTestServer(t, storage.NewMockStorage(), runner, "")

			resp, err := http.Post(ts.URL+"/api/strategies/1/execute", "application/json", nil)
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if len(runner.called) != 1 || runner.called[0] != 1 {
				t.Errorf("RunNow called with %v, want [1]", runner.called)
			}
		})
	}
}

func TestExecuteStrategyBadID(t *testing.T) {
	runner := &stubRunner{}
	ts := newTestServer(t, storage.NewMockStorage(), runner, "")

	resp, err := http.Post(ts.URL+"/api/strategies/nope/execute", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if len(runner.called) != 0 {
		t.Errorf("RunNow should not be called, got %v", runner.called)
	}
}

func TestListExecutions(t *testing.T) {
	store := storage.NewMockStorage()
	strategy := testStrategy()
	store.PutStrategy(strategy)

	now := time.Now()
	rec := models.NewExecutionRecord(&strategy, now)
	if err := store.SaveExecutionRecord(context.Background(), rec); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	ts := newTestServer(t, store, &stubRunner{}, "")

	resp, err := http.Get(ts.URL + "/api/executions?limit=10")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got []models.ExecutionRecord
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].UserID != "alice" {
		t.Errorf("records = %+v, want one for alice", got)
	}
}

func TestListExecutionsBadLimit(t *testing.T) {
	ts := newTestServer(t, storage.NewMockStorage(), &stubRunner{}, "")

	for _, limit := range []string{"0", "-5", "1000", "abc"} {
		resp, err := http.Get(ts.URL + "/api/executions?limit=" + limit)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("limit %q: status = %d, want 400", limit, resp.StatusCode)
		}
	}
}

func TestAuthMiddleware(t *testing.T) {
	ts := newTestServer(t, storage.NewMockStorage(), &stubRunner{}, "sekrit")

	// Missing token is rejected.
	resp, err := http.Get(ts.URL + "/api/strategies")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("without token: status = %d, want 401", resp.StatusCode)
	}

	// Header token is accepted.
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/strategies", nil)
	req.Header.Set("X-Auth-Token", "sekrit")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("with token: status = %d, want 200", resp.StatusCode)
	}

	// Health stays open.
	resp, err = http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health: status = %d, want 200", resp.StatusCode)
	}
}
