// Package calendar checks exchange trading holidays through the
// exchange-timings service.
package calendar

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
)

// Timing is a single exchange session window for a date.
type Timing struct {
	Exchange  string `json:"exchange"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type timingsResponse struct {
	Status string   `json:"status"`
	Data   []Timing `json:"data"`
}

// Client queries the exchange-timings service.
type Client struct {
	client  *http.Client
	baseURL string
}

// NewClient creates a calendar client for the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.client = hc
	}
	return c
}

// IsTradingHoliday reports whether the exchange is closed on the given date.
// The service returns no session windows for holidays, so an empty data array
// means the date is a holiday.
func (c *Client) IsTradingHoliday(ctx context.Context, date time.Time) (bool, error) {
	params := url.Values{}
	params.Set("date", date.Format("2006-01-02"))
	endpoint := c.baseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return false, err
	}
	req.Header.Add("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("exchange timings request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return false, fmt.Errorf("exchange timings returned %d: %s", resp.StatusCode, string(body))
	}

	var response timingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return false, fmt.Errorf("decoding exchange timings: %w", err)
	}

	return len(response.Data) == 0, nil
}
