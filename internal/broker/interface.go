package broker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"straddlebot/internal/models"
)

// Broker defines the interface for interacting with a brokerage
type Broker interface {
	// Market data
	GetQuotes(ctx context.Context, keys []string) (map[string]models.Quote, error)

	// Order placement and reconciliation
	PlaceOrder(ctx context.Context, order OrderParams) (string, error)
	GetOrders(ctx context.Context) ([]Order, error)

	// Positions
	GetPositions(ctx context.Context) ([]Position, error)
}

// Ensure KiteAPI implements Broker at compile time.
var _ Broker = (*KiteAPI)(nil)

// IsPermanentAPIError checks if an error is a permanent API error that
// should not be retried. 4xx responses are permanent except 429.
func IsPermanentAPIError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != 429
	}
	return false
}

// AccountResolver resolves per-user broker credentials.
type AccountResolver interface {
	GetTradingAccount(ctx context.Context, userID string) (*models.TradingAccount, error)
}

// Factory builds and caches per-user broker clients. The market-data client
// is shared; order placement goes through each strategy owner's own session.
type Factory struct {
	mu       sync.Mutex
	clients  map[string]Broker
	resolver AccountResolver
	baseURL  string
	timeout  time.Duration
	wrap     func(Broker) Broker
}

// NewFactory creates a Factory that resolves accounts through the given
// resolver. wrap, when non-nil, decorates every client it builds (circuit
// breaker, instrumentation).
func NewFactory(resolver AccountResolver, baseURL string, timeout time.Duration, wrap func(Broker) Broker) *Factory {
	return &Factory{
		clients:  make(map[string]Broker),
		resolver: resolver,
		baseURL:  baseURL,
		timeout:  timeout,
		wrap:     wrap,
	}
}

// ForUser returns the broker client for the given user, building and caching
// one on first use.
func (f *Factory) ForUser(ctx context.Context, userID string) (Broker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if b, ok := f.clients[userID]; ok {
		return b, nil
	}

	account, err := f.resolver.GetTradingAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	var b Broker = NewKiteAPIWithTimeout(f.baseURL, account.APIKey, account.AccessToken, f.timeout)
	if f.wrap != nil {
		b = f.wrap(b)
	}
	f.clients[userID] = b
	return b, nil
}

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)

// exec is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a new CircuitBreakerBroker with sensible defaults
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// GetQuotes wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetQuotes(ctx context.Context, keys []string) (map[string]models.Quote, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (map[string]models.Quote, error) {
		return b.GetQuotes(ctx, keys)
	})
}

// PlaceOrder wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) PlaceOrder(ctx context.Context, order OrderParams) (string, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (string, error) {
		return b.PlaceOrder(ctx, order)
	})
}

// GetOrders wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetOrders(ctx context.Context) ([]Order, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]Order, error) {
		return b.GetOrders(ctx)
	})
}

// GetPositions wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetPositions(ctx context.Context) ([]Position, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]Position, error) {
		return b.GetPositions(ctx)
	})
}
