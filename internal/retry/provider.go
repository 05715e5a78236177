// Package retry wraps idempotent market data reads with bounded retries.
// Order placement is never retried; a duplicate market order is worse than a
// missed tick.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"time"

	"straddlebot/internal/broker"
	"straddlebot/internal/marketdata"
	"straddlebot/internal/models"
)

type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 200 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
}

// Provider decorates a marketdata.Provider with retries on transient
// failures. Permanent API errors (4xx other than 429) fail immediately.
type Provider struct {
	inner  marketdata.Provider
	logger *log.Logger
	config Config
}

var _ marketdata.Provider = (*Provider)(nil)

func NewProvider(inner marketdata.Provider, logger *log.Logger, config ...Config) *Provider {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Provider{
		inner:  inner,
		logger: logger,
		config: cfg,
	}
}

// GetQuotes fetches quotes with retries. Quote reads are idempotent, so a
// retry can never double anything up.
func (p *Provider) GetQuotes(ctx context.Context, keys []string) (map[string]models.Quote, error) {
	var lastErr error
	backoff := p.config.InitialBackoff

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("quote fetch canceled: %w", ctx.Err())
		}

		quotes, err := p.inner.GetQuotes(ctx, keys)
		if err == nil {
			return quotes, nil
		}
		lastErr = err

		if broker.IsPermanentAPIError(err) || attempt == p.config.MaxRetries {
			break
		}

		p.logger.Printf("quote fetch attempt %d/%d failed, retrying in %v: %v",
			attempt+1, p.config.MaxRetries+1, backoff, err)
		select {
		case <-time.After(backoff):
			backoff = p.nextBackoff(backoff)
		case <-ctx.Done():
			return nil, fmt.Errorf("quote fetch canceled during backoff: %w", ctx.Err())
		}
	}

	return nil, lastErr
}

func (p *Provider) nextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > p.config.MaxBackoff {
		backoff = p.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			log.Printf("Failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}
