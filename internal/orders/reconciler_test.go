package orders

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"straddlebot/internal/broker"
	"straddlebot/internal/models"
)

// fakeBroker serves scripted order book snapshots, one per GetOrders call,
// repeating the last one.
type fakeBroker struct {
	mu        sync.Mutex
	snapshots [][]broker.Order
	errs      []error
	calls     int
}

func (f *fakeBroker) GetQuotes(context.Context, []string) (map[string]models.Quote, error) {
	return nil, errors.New("not a quote source")
}

func (f *fakeBroker) PlaceOrder(context.Context, broker.OrderParams) (string, error) {
	return "", errors.New("not an order sink")
}

func (f *fakeBroker) GetOrders(context.Context) ([]broker.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if len(f.snapshots) == 0 {
		return nil, nil
	}
	if i >= len(f.snapshots) {
		i = len(f.snapshots) - 1
	}
	return f.snapshots[i], nil
}

func (f *fakeBroker) GetPositions(context.Context) ([]broker.Position, error) {
	return nil, nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func fastConfig() Config {
	return Config{PollInterval: time.Millisecond, Timeout: 50 * time.Millisecond}
}

func TestAveragePricesFirstPoll(t *testing.T) {
	b := &fakeBroker{snapshots: [][]broker.Order{{
		{OrderID: "order-1", AveragePrice: 181.9, Quantity: 50, FilledQuantity: 50},
		{OrderID: "order-2", AveragePrice: 175.4, Quantity: 50, FilledQuantity: 50},
	}}}

	r := NewReconciler(b, quietLogger(), fastConfig())
	fills, err := r.AveragePrices(context.Background(), []string{"order-1", "order-2"})
	if err != nil {
		t.Fatalf("AveragePrices() error = %v", err)
	}
	if fills["order-1"] != 181.9 || fills["order-2"] != 175.4 {
		t.Errorf("fills = %v, want 181.9 and 175.4", fills)
	}
}

func TestAveragePricesWaitsForLateFill(t *testing.T) {
	b := &fakeBroker{snapshots: [][]broker.Order{
		{{OrderID: "order-1", AveragePrice: 181.9}},
		{{OrderID: "order-1", AveragePrice: 181.9}},
		{
			{OrderID: "order-1", AveragePrice: 181.9},
			{OrderID: "order-2", AveragePrice: 175.4},
		},
	}}

	r := NewReconciler(b, quietLogger(), fastConfig())
	fills, err := r.AveragePrices(context.Background(), []string{"order-1", "order-2"})
	if err != nil {
		t.Fatalf("AveragePrices() error = %v", err)
	}
	if fills["order-2"] != 175.4 {
		t.Errorf("late fill = %v, want 175.4", fills["order-2"])
	}
}

func TestAveragePricesTimeoutReturnsPartial(t *testing.T) {
	b := &fakeBroker{snapshots: [][]broker.Order{
		{{OrderID: "order-1", AveragePrice: 181.9}},
	}}

	r := NewReconciler(b, quietLogger(), fastConfig())
	fills, err := r.AveragePrices(context.Background(), []string{"order-1", "order-2"})
	if err != nil {
		t.Fatalf("AveragePrices() error = %v", err)
	}
	if fills["order-1"] != 181.9 {
		t.Errorf("fills = %v, want order-1 at 181.9", fills)
	}
	if _, ok := fills["order-2"]; ok {
		t.Error("order-2 never filled, should be absent")
	}
}

func TestAveragePricesRetriesTransientErrors(t *testing.T) {
	b := &fakeBroker{
		errs: []error{errors.New("tcp reset"), errors.New("tcp reset")},
		snapshots: [][]broker.Order{
			nil, nil,
			{{OrderID: "order-1", AveragePrice: 181.9}},
		},
	}

	r := NewReconciler(b, quietLogger(), fastConfig())
	fills, err := r.AveragePrices(context.Background(), []string{"order-1"})
	if err != nil {
		t.Fatalf("AveragePrices() error = %v", err)
	}
	if fills["order-1"] != 181.9 {
		t.Errorf("fills = %v, want order-1 at 181.9", fills)
	}
}

func TestAveragePricesEmptyAndBlankIDs(t *testing.T) {
	r := NewReconciler(&fakeBroker{}, quietLogger(), fastConfig())

	fills, err := r.AveragePrices(context.Background(), []string{"", ""})
	if err != nil {
		t.Fatalf("AveragePrices() error = %v", err)
	}
	if len(fills) != 0 {
		t.Errorf("fills = %v, want empty", fills)
	}
}

func TestAveragePricesContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewReconciler(&fakeBroker{}, quietLogger(), fastConfig())
	if _, err := r.AveragePrices(ctx, []string{"order-1"}); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestFilled(t *testing.T) {
	tests := []struct {
		name  string
		order broker.Order
		want  bool
	}{
		{"filled with quantities", broker.Order{AveragePrice: 181.9, Quantity: 50, FilledQuantity: 50}, true},
		{"filled without quantities", broker.Order{AveragePrice: 181.9}, true},
		{"no average price", broker.Order{Quantity: 50, FilledQuantity: 50}, false},
		{"rejected with stale price", broker.Order{AveragePrice: 181.9, Quantity: 50, FilledQuantity: 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Filled(&tt.order); got != tt.want {
				t.Errorf("Filled() = %v, want %v", got, tt.want)
			}
		})
	}
}
