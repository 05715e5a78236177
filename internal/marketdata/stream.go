package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"straddlebot/internal/models"
)

// StreamConfig configures streaming feed behavior.
type StreamConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultStreamConfig returns default streaming feed configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// tickMessage is a single price update pushed by the feed.
type tickMessage struct {
	InstrumentKey string  `json:"instrument_key"`
	LastPrice     float64 `json:"last_price"`
}

type subscribeRequest struct {
	Action string   `json:"action"`
	Keys   []string `json:"keys"`
}

// StreamFeed maintains a websocket subscription to a quote stream and caches
// the last traded price per instrument key. Reads never block on the socket;
// GetQuotes serves whatever the cache holds, so a key with no tick yet is
// simply absent from the result.
type StreamFeed struct {
	endpoint string
	config   StreamConfig

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	last   map[string]float64
	lastMu sync.RWMutex

	// subscribed keys survive reconnects
	keys   map[string]struct{}
	keysMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup
}

// Ensure StreamFeed implements Provider at compile time.
var _ Provider = (*StreamFeed)(nil)

// NewStreamFeed connects to the stream endpoint and starts the read and ping
// loops. Callers must Close the feed when done.
func NewStreamFeed(ctx context.Context, endpoint string, config *StreamConfig) (*StreamFeed, error) {
	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}

	f := &StreamFeed{
		endpoint: endpoint,
		config:   cfg,
		last:     make(map[string]float64),
		keys:     make(map[string]struct{}),
		done:     make(chan struct{}),
	}

	if err := f.connect(ctx); err != nil {
		return nil, err
	}

	f.wg.Add(1)
	go f.readLoop()

	f.wg.Add(1)
	go f.pingLoop()

	return f, nil
}

func (f *StreamFeed) connect(ctx context.Context) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, f.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	f.conn = conn
	return nil
}

// Subscribe registers instrument keys for streaming. Subscriptions are
// replayed after a reconnect.
func (f *StreamFeed) Subscribe(keys []string) error {
	if f.closed.Load() {
		return fmt.Errorf("stream feed is closed")
	}

	f.keysMu.Lock()
	fresh := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := f.keys[key]; !ok {
			f.keys[key] = struct{}{}
			fresh = append(fresh, key)
		}
	}
	f.keysMu.Unlock()

	if len(fresh) == 0 {
		return nil
	}
	return f.writeJSON(subscribeRequest{Action: "subscribe", Keys: fresh})
}

// GetQuotes returns cached last traded prices for the given keys. Keys with
// no tick yet are absent from the result.
func (f *StreamFeed) GetQuotes(_ context.Context, keys []string) (map[string]models.Quote, error) {
	if f.closed.Load() {
		return nil, fmt.Errorf("stream feed is closed")
	}

	f.lastMu.RLock()
	defer f.lastMu.RUnlock()

	quotes := make(map[string]models.Quote, len(keys))
	for _, key := range keys {
		if price, ok := f.last[key]; ok {
			quotes[key] = models.Quote{InstrumentKey: key, LastPrice: price}
		}
	}
	return quotes, nil
}

func (f *StreamFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()

	if f.conn == nil {
		return fmt.Errorf("not connected")
	}
	if err := f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout)); err != nil {
		return err
	}
	return f.conn.WriteJSON(v)
}

func (f *StreamFeed) readLoop() {
	defer f.wg.Done()

	for {
		select {
		case <-f.done:
			return
		default:
		}

		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()

		if conn == nil {
			f.reconnect()
			continue
		}

		if err := conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout)); err != nil {
			f.reconnect()
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if f.closed.Load() {
				return
			}
			log.Printf("stream feed read error: %v", err)
			f.reconnect()
			continue
		}

		var tick tickMessage
		if err := json.Unmarshal(data, &tick); err != nil || tick.InstrumentKey == "" {
			continue
		}

		f.lastMu.Lock()
		f.last[tick.InstrumentKey] = tick.LastPrice
		f.lastMu.Unlock()
	}
}

// reconnect re-dials with exponential backoff and replays subscriptions.
func (f *StreamFeed) reconnect() {
	delay := f.config.ReconnectDelay
	for {
		select {
		case <-f.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := f.connect(ctx)
		cancel()
		if err == nil {
			f.resubscribe()
			return
		}

		log.Printf("stream feed reconnect failed: %v", err)
		delay *= 2
		if delay > f.config.MaxReconnectDelay {
			delay = f.config.MaxReconnectDelay
		}
	}
}

func (f *StreamFeed) resubscribe() {
	f.keysMu.Lock()
	keys := make([]string, 0, len(f.keys))
	for key := range f.keys {
		keys = append(keys, key)
	}
	f.keysMu.Unlock()

	if len(keys) == 0 {
		return
	}
	if err := f.writeJSON(subscribeRequest{Action: "subscribe", Keys: keys}); err != nil {
		log.Printf("stream feed resubscribe failed: %v", err)
	}
}

func (f *StreamFeed) pingLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.connMu.Lock()
			conn := f.conn
			f.connMu.Unlock()
			if conn == nil {
				continue
			}
			deadline := time.Now().Add(f.config.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Printf("stream feed ping failed: %v", err)
			}
		}
	}
}

// Close shuts the feed down and waits for its loops to exit.
func (f *StreamFeed) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(f.done)

	f.connMu.Lock()
	if f.conn != nil {
		_ = f.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = f.conn.Close()
	}
	f.connMu.Unlock()

	f.wg.Wait()
	return nil
}
