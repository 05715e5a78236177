// Package orders provides order book reconciliation for the straddle engine.
package orders

import (
	"context"
	"log"
	"os"
	"time"

	"straddlebot/internal/broker"
)

// Config contains configuration for the fill reconciler.
type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

// DefaultConfig is the default configuration for the fill reconciler.
var DefaultConfig = Config{
	PollInterval: 2 * time.Second,
	Timeout:      30 * time.Second,
}

// Reconciler polls the order book until the orders it is asked about report
// average fill prices, or a timeout lapses. Market orders normally fill
// within the first poll; the timeout covers venue-side lag.
type Reconciler struct {
	broker broker.Broker
	logger *log.Logger
	config Config
}

// NewReconciler creates a fill reconciler for one broker session.
func NewReconciler(b broker.Broker, logger *log.Logger, config ...Config) *Reconciler {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	if logger == nil {
		logger = log.New(os.Stderr, "orders: ", log.LstdFlags)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig.PollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}

	if b == nil {
		panic("orders.NewReconciler: broker must not be nil")
	}

	return &Reconciler{
		broker: b,
		logger: logger,
		config: cfg,
	}
}

// AveragePrices resolves average fill prices for the given order ids. Ids
// still without a positive average price when the timeout lapses are absent
// from the result; callers fall back to their own price source for those.
// Transient order book errors are retried until the timeout. The only error
// returned is context cancellation.
func (r *Reconciler) AveragePrices(ctx context.Context, orderIDs []string) (map[string]float64, error) {
	wanted := make(map[string]struct{}, len(orderIDs))
	for _, id := range orderIDs {
		if id != "" {
			wanted[id] = struct{}{}
		}
	}
	fills := make(map[string]float64, len(wanted))
	if len(wanted) == 0 {
		return fills, nil
	}

	deadline := time.NewTimer(r.config.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		orders, err := r.broker.GetOrders(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return fills, ctx.Err()
			}
			r.logger.Printf("order book poll failed: %v", err)
		}
		for i := range orders {
			id := orders[i].OrderID
			if _, ok := wanted[id]; !ok {
				continue
			}
			if !Filled(&orders[i]) {
				continue
			}
			fills[id] = orders[i].AveragePrice
			delete(wanted, id)
		}
		if len(wanted) == 0 {
			return fills, nil
		}

		select {
		case <-ctx.Done():
			return fills, ctx.Err()
		case <-deadline.C:
			for id := range wanted {
				r.logger.Printf("order %s not reconciled within %v, keeping seeded price", id, r.config.Timeout)
			}
			return fills, nil
		case <-ticker.C:
		}
	}
}

// Filled reports whether an order book entry carries a usable fill. A
// positive average price with nothing executed would be a rejected order's
// stale price, so both are checked.
func Filled(order *broker.Order) bool {
	if order.AveragePrice <= 0 {
		return false
	}
	// The venue omits quantities on some order book snapshots; a missing
	// total quantity leaves the average price as the only signal.
	if order.Quantity > 0 && order.FilledQuantity <= 0 {
		return false
	}
	return true
}
