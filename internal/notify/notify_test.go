package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestEmailNotifierEntry(t *testing.T) {
	var got emailRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"msg_1"}`))
	}))
	defer server.Close()

	n := NewEmailNotifier(server.URL, "test-key", "bot@example.com", 5*time.Second)
	err := n.NotifyEntry(context.Background(), EntryEvent{
		UserID:     "alice",
		Email:      "alice@example.com",
		Instrument: "NIFTY",
		Side:       "SHORT",
		CallSymbol: "NIFTY25SEP24800CE",
		PutSymbol:  "NIFTY25SEP24800PE",
		CallPrice:  182.35,
		PutPrice:   176.10,
		Quantity:   50,
		At:         time.Date(2026, time.September, 1, 9, 45, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("NotifyEntry() error = %v", err)
	}

	wantSubject := "Algo - Straddle Entry Notification-alice-NIFTY-1st September 2026"
	if got.Subject != wantSubject {
		t.Errorf("subject = %q, want %q", got.Subject, wantSubject)
	}
	if got.From != "bot@example.com" {
		t.Errorf("from = %q", got.From)
	}
	if len(got.To) != 1 || got.To[0] != "alice@example.com" {
		t.Errorf("to = %v", got.To)
	}
	if !strings.Contains(got.HTML, "NIFTY25SEP24800CE") {
		t.Error("body should include the call symbol")
	}
}

func TestEmailNotifierExitPaperTrade(t *testing.T) {
	var got emailRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer server.Close()

	n := NewEmailNotifier(server.URL, "test-key", "bot@example.com", 5*time.Second)
	err := n.NotifyExit(context.Background(), ExitEvent{
		UserID:     "alice",
		Email:      "alice@example.com",
		Instrument: "NIFTY",
		Reason:     "target",
		Pnl:        4250,
		PaperTrade: true,
		At:         time.Date(2026, time.September, 1, 14, 30, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("NotifyExit() error = %v", err)
	}
	if !strings.Contains(got.HTML, "[PAPER]") {
		t.Error("paper trade exits should be flagged in the body")
	}
	if !strings.Contains(got.HTML, "target") {
		t.Error("body should include the exit reason")
	}
}

func TestEmailNotifierAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"invalid from address"}`))
	}))
	defer server.Close()

	n := NewEmailNotifier(server.URL, "test-key", "bot@example.com", 5*time.Second)
	err := n.NotifyExit(context.Background(), ExitEvent{
		UserID: "alice", Email: "alice@example.com", Instrument: "NIFTY", At: time.Now(),
	})
	if err == nil {
		t.Fatal("expected error on 422 response")
	}
}

func TestEmailNotifierMissingAddress(t *testing.T) {
	n := NewEmailNotifier("http://unused", "k", "bot@example.com", 5*time.Second)
	if err := n.NotifyEntry(context.Background(), EntryEvent{UserID: "bob"}); err == nil {
		t.Error("NotifyEntry() with no address should fail")
	}
	if err := n.NotifyExit(context.Background(), ExitEvent{UserID: "bob"}); err == nil {
		t.Error("NotifyExit() with no address should fail")
	}
}

func TestNopNotifier(t *testing.T) {
	var n Notifier = NopNotifier{}
	if err := n.NotifyEntry(context.Background(), EntryEvent{}); err != nil {
		t.Errorf("NotifyEntry() error = %v", err)
	}
	if err := n.NotifyExit(context.Background(), ExitEvent{}); err != nil {
		t.Errorf("NotifyExit() error = %v", err)
	}
}
