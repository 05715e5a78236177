// Package marketdata provides last-traded-price lookup for the straddle
// engine, either over the broker REST quote endpoint or a streaming
// websocket feed.
package marketdata

import (
	"context"

	"straddlebot/internal/broker"
	"straddlebot/internal/models"
)

// Provider returns last traded prices for instrument keys
// ("EXCHANGE:TRADINGSYMBOL"). Keys without data are absent from the result.
type Provider interface {
	GetQuotes(ctx context.Context, keys []string) (map[string]models.Quote, error)
}

// BrokerProvider serves quotes through the shared broker market-data session.
type BrokerProvider struct {
	broker broker.Broker
}

// Ensure BrokerProvider implements Provider at compile time.
var _ Provider = (*BrokerProvider)(nil)

// NewBrokerProvider creates a Provider backed by the given broker client.
func NewBrokerProvider(b broker.Broker) *BrokerProvider {
	return &BrokerProvider{broker: b}
}

// GetQuotes fetches last traded prices over the broker quote endpoint.
func (p *BrokerProvider) GetQuotes(ctx context.Context, keys []string) (map[string]models.Quote, error) {
	return p.broker.GetQuotes(ctx, keys)
}

// StreamProvider serves quotes from a streaming feed cache and backfills keys
// the stream has not ticked yet from a fallback provider, usually the broker
// REST endpoint. Requested keys are subscribed on first sight so later calls
// hit the cache.
type StreamProvider struct {
	feed     *StreamFeed
	fallback Provider
}

var _ Provider = (*StreamProvider)(nil)

// NewStreamProvider creates a Provider backed by the feed with REST backfill.
// fallback may be nil, in which case unticked keys stay absent.
func NewStreamProvider(feed *StreamFeed, fallback Provider) *StreamProvider {
	return &StreamProvider{feed: feed, fallback: fallback}
}

func (p *StreamProvider) GetQuotes(ctx context.Context, keys []string) (map[string]models.Quote, error) {
	if err := p.feed.Subscribe(keys); err != nil {
		return nil, err
	}

	quotes, err := p.feed.GetQuotes(ctx, keys)
	if err != nil {
		return nil, err
	}

	if p.fallback == nil || len(quotes) == len(keys) {
		return quotes, nil
	}

	missing := make([]string, 0, len(keys)-len(quotes))
	for _, key := range keys {
		if _, ok := quotes[key]; !ok {
			missing = append(missing, key)
		}
	}

	rest, err := p.fallback.GetQuotes(ctx, missing)
	if err != nil {
		// The cache portion is still usable.
		return quotes, nil
	}
	for key, q := range rest {
		quotes[key] = q
	}
	return quotes, nil
}
