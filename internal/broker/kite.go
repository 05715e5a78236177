// Package broker provides trading API clients for placing orders and
// fetching market data. It includes the Kite Connect REST client used for
// intraday straddle execution.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"straddlebot/internal/models"
)

// Order product and type constants for intraday straddle orders.
const (
	ProductIntraday = "MIS"
	OrderTypeMarket = "MARKET"
	ValidityDay     = "DAY"
)

// APIError represents an API error with status code and response body
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// KiteAPI is a minimal Kite Connect HTTP client covering the endpoints the
// straddle engine needs: quotes, order placement, the order book, and net
// positions.
type KiteAPI struct {
	client      *http.Client
	baseURL     string
	apiKey      string
	accessToken string
	timeout     time.Duration
}

// NewKiteAPI creates a new KiteAPI client with default settings.
func NewKiteAPI(baseURL, apiKey, accessToken string) *KiteAPI {
	return NewKiteAPIWithTimeout(baseURL, apiKey, accessToken, 10*time.Second)
}

// NewKiteAPIWithTimeout creates a new KiteAPI client with a custom HTTP timeout.
func NewKiteAPIWithTimeout(baseURL, apiKey, accessToken string, timeout time.Duration) *KiteAPI {
	if baseURL == "" {
		baseURL = "https://api.kite.trade"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &KiteAPI{
		client:      &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		apiKey:      apiKey,
		accessToken: accessToken,
		timeout:     timeout,
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (k *KiteAPI) WithHTTPClient(c *http.Client) *KiteAPI {
	if c != nil {
		k.client = c
	}
	return k
}

// ============ API Response Structures ============

// envelope is the standard Kite response wrapper: every payload sits under
// "data" with a status field alongside.
type envelope[T any] struct {
	Status    string `json:"status"`
	Data      T      `json:"data"`
	Message   string `json:"message"`
	ErrorType string `json:"error_type"`
}

type quotePayload struct {
	LastPrice float64 `json:"last_price"`
}

type orderIDPayload struct {
	OrderID string `json:"order_id"`
}

// Order represents a single order book entry.
type Order struct {
	OrderID         string  `json:"order_id"`
	Exchange        string  `json:"exchange"`
	TradingSymbol   string  `json:"tradingsymbol"`
	TransactionType string  `json:"transaction_type"`
	Status          string  `json:"status"`
	Product         string  `json:"product"`
	Tag             string  `json:"tag"`
	Quantity        int     `json:"quantity"`
	FilledQuantity  int     `json:"filled_quantity"`
	AveragePrice    float64 `json:"average_price"`
}

// Position represents a net position entry.
type Position struct {
	Exchange      string  `json:"exchange"`
	TradingSymbol string  `json:"tradingsymbol"`
	Product       string  `json:"product"`
	Quantity      int     `json:"quantity"`
	AveragePrice  float64 `json:"average_price"`
	PnL           float64 `json:"pnl"`
}

type positionsPayload struct {
	Net []Position `json:"net"`
	Day []Position `json:"day"`
}

// OrderParams describes a single order to place.
type OrderParams struct {
	Exchange        string
	TradingSymbol   string
	TransactionType models.TransactionType
	Quantity        int
	Product         string
	OrderType       string
	Validity        string
	Tag             string
}

// ============ API Methods ============

// GetQuotes retrieves last traded prices for the given instrument keys
// ("EXCHANGE:TRADINGSYMBOL"). Keys the venue has no data for are absent from
// the result; callers decide whether a partial map is fatal.
func (k *KiteAPI) GetQuotes(ctx context.Context, keys []string) (map[string]models.Quote, error) {
	if len(keys) == 0 {
		return map[string]models.Quote{}, nil
	}

	params := url.Values{}
	for _, key := range keys {
		params.Add("i", key)
	}
	endpoint := k.baseURL + "/quote/ltp?" + params.Encode()

	var response envelope[map[string]quotePayload]
	if err := k.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	quotes := make(map[string]models.Quote, len(response.Data))
	for key, q := range response.Data {
		quotes[key] = models.Quote{InstrumentKey: key, LastPrice: q.LastPrice}
	}
	return quotes, nil
}

// PlaceOrder places a regular order and returns the broker order ID.
func (k *KiteAPI) PlaceOrder(ctx context.Context, order OrderParams) (string, error) {
	if order.Quantity <= 0 {
		return "", fmt.Errorf("invalid order quantity: %d (must be > 0)", order.Quantity)
	}
	if !order.TransactionType.Valid() {
		return "", fmt.Errorf("invalid transaction type: %q", order.TransactionType)
	}
	if order.Product == "" {
		order.Product = ProductIntraday
	}
	if order.OrderType == "" {
		order.OrderType = OrderTypeMarket
	}
	if order.Validity == "" {
		order.Validity = ValidityDay
	}

	params := url.Values{}
	params.Set("exchange", order.Exchange)
	params.Set("tradingsymbol", order.TradingSymbol)
	params.Set("transaction_type", string(order.TransactionType))
	params.Set("quantity", fmt.Sprintf("%d", order.Quantity))
	params.Set("product", order.Product)
	params.Set("order_type", order.OrderType)
	params.Set("validity", order.Validity)
	if order.Tag != "" {
		params.Set("tag", order.Tag)
	}

	endpoint := k.baseURL + "/orders/regular"

	var response envelope[orderIDPayload]
	if err := k.makeRequestCtx(ctx, http.MethodPost, endpoint, params, &response); err != nil {
		return "", err
	}
	if response.Data.OrderID == "" {
		return "", fmt.Errorf("order accepted but no order_id in response")
	}
	return response.Data.OrderID, nil
}

// GetOrders retrieves the order book for the current session.
func (k *KiteAPI) GetOrders(ctx context.Context) ([]Order, error) {
	endpoint := k.baseURL + "/orders"

	var response envelope[[]Order]
	if err := k.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetPositions retrieves net positions for the current session.
func (k *KiteAPI) GetPositions(ctx context.Context) ([]Position, error) {
	endpoint := k.baseURL + "/portfolio/positions"

	var response envelope[positionsPayload]
	if err := k.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}
	return response.Data.Net, nil
}

// makeRequestCtx makes an HTTP request with context support for timeout/cancellation
func (k *KiteAPI) makeRequestCtx(ctx context.Context, method, endpoint string,
	params url.Values, response interface{}) error {
	var req *http.Request
	var err error

	if method == http.MethodPost && params != nil {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if err != nil {
			return err
		}
		req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
		if err != nil {
			return err
		}
	}

	req.Header.Add("Authorization", "token "+k.apiKey+":"+k.accessToken)
	req.Header.Add("X-Kite-Version", "3")
	req.Header.Add("Accept", "application/json")

	resp, err := k.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if err != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s", method, endpoint, string(body))}
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}
