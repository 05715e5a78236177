// Package mock provides simulated market data for offline paper runs and the
// integration harness. Nothing here talks to a real venue.
package mock

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"straddlebot/internal/marketdata"
	"straddlebot/internal/models"
)

// secureFloat64 generates a cryptographically secure random float64 between 0 and 1
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

// QuoteProvider simulates a quote venue. Each instrument follows a random
// walk around its seeded price; an optional per-tick drift factor lets a
// harness decay option premiums so paper runs reach their exit rules.
type QuoteProvider struct {
	mu     sync.Mutex
	prices map[string]float64
	drift  map[string]float64
	// JitterPct is the walk amplitude as a fraction of price per tick.
	JitterPct float64
}

var _ marketdata.Provider = (*QuoteProvider)(nil)

func NewQuoteProvider() *QuoteProvider {
	return &QuoteProvider{
		prices:    make(map[string]float64),
		drift:     make(map[string]float64),
		JitterPct: 0.002,
	}
}

// SetPrice seeds the walk for an instrument key.
func (q *QuoteProvider) SetPrice(key string, price float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.prices[key] = price
}

// SetDrift applies a per-tick multiplier to the key's price. A factor below
// one decays the instrument, above one inflates it.
func (q *QuoteProvider) SetDrift(key string, factor float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.drift[key] = factor
}

// GetQuotes advances the walk one tick for each requested key and returns the
// new prices. Keys never seeded are absent from the result.
func (q *QuoteProvider) GetQuotes(_ context.Context, keys []string) (map[string]models.Quote, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	quotes := make(map[string]models.Quote, len(keys))
	for _, key := range keys {
		price, ok := q.prices[key]
		if !ok {
			continue
		}
		if factor, ok := q.drift[key]; ok {
			price *= factor
		}
		price += price * q.JitterPct * (secureFloat64() - 0.5)
		if price < 0.05 {
			price = 0.05
		}
		q.prices[key] = price
		quotes[key] = models.Quote{InstrumentKey: key, LastPrice: price}
	}
	return quotes, nil
}

// OptionChain builds a weekly option chain for an index: CE and PE contracts
// at strikes around spot for each expiry, in the instrument master shape.
func OptionChain(exchange, segment, indexName string, spot float64,
	step, strikesEachSide, lotSize int, expiries []time.Time) []models.Instrument {

	atm := int(spot/float64(step)+0.5) * step

	var chain []models.Instrument
	for _, expiry := range expiries {
		for offset := -strikesEachSide; offset <= strikesEachSide; offset++ {
			strike := atm + offset*step
			for _, typ := range []models.InstrumentType{models.TypeCall, models.TypePut} {
				symbol := fmt.Sprintf("%s%s%d%s", strings.ReplaceAll(indexName, " ", ""),
					strings.ToUpper(expiry.Format("06Jan")), strike, typ)
				chain = append(chain, models.Instrument{
					Exchange:      exchange,
					TradingSymbol: symbol,
					DisplayName:   fmt.Sprintf("%s %d %s %s", indexName, strike, expiry.Format("02 Jan"), typ),
					Segment:       segment,
					IndexName:     indexName,
					Type:          typ,
					Strike:        float64(strike),
					Expiry:        expiry,
					LotSize:       lotSize,
				})
			}
		}
	}
	return chain
}

// SeedStraddlePremiums seeds the provider with plausible premiums for every
// option in a chain: roughly proportional to spot and shrinking with distance
// from the money.
func (q *QuoteProvider) SeedStraddlePremiums(chain []models.Instrument, spot float64) {
	for i := range chain {
		inst := &chain[i]
		distance := inst.Strike - spot
		if inst.Type == models.TypePut {
			distance = -distance
		}
		premium := spot * 0.008
		if distance > 0 {
			// Out of the money, cheaper with distance.
			premium -= distance * 0.4
		} else {
			// In the money, intrinsic plus time value.
			premium -= distance
		}
		if premium < 1 {
			premium = 1
		}
		q.SetPrice(inst.QuoteKey(), premium)
	}
}
