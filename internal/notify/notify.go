// Package notify sends entry and exit notifications for straddle runs.
// Delivery failures never affect the run; callers log and move on.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"straddlebot/internal/util"
)

// EntryEvent describes a completed entry for notification purposes.
type EntryEvent struct {
	UserID     string
	Email      string
	Instrument string
	Side       string
	CallSymbol string
	PutSymbol  string
	CallPrice  float64
	PutPrice   float64
	Quantity   int
	PaperTrade bool
	At         time.Time
}

// ExitEvent describes a completed exit for notification purposes.
type ExitEvent struct {
	UserID     string
	Email      string
	Instrument string
	Reason     string
	CallPrice  float64
	PutPrice   float64
	Pnl        float64
	PaperTrade bool
	At         time.Time
}

// Notifier delivers run notifications.
type Notifier interface {
	NotifyEntry(ctx context.Context, event EntryEvent) error
	NotifyExit(ctx context.Context, event ExitEvent) error
}

// NopNotifier discards all notifications. Used when notifications are
// disabled in config.
type NopNotifier struct{}

// Ensure NopNotifier implements Notifier at compile time.
var _ Notifier = (*NopNotifier)(nil)

// NotifyEntry discards the event.
func (NopNotifier) NotifyEntry(context.Context, EntryEvent) error { return nil }

// NotifyExit discards the event.
func (NopNotifier) NotifyExit(context.Context, ExitEvent) error { return nil }

// EmailNotifier delivers notifications through an email API.
type EmailNotifier struct {
	client *http.Client
	apiURL string
	apiKey string
	from   string
}

// Ensure EmailNotifier implements Notifier at compile time.
var _ Notifier = (*EmailNotifier)(nil)

// NewEmailNotifier creates an email notifier.
func NewEmailNotifier(apiURL, apiKey, from string, timeout time.Duration) *EmailNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EmailNotifier{
		client: &http.Client{Timeout: timeout},
		apiURL: apiURL,
		apiKey: apiKey,
		from:   from,
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (n *EmailNotifier) WithHTTPClient(hc *http.Client) *EmailNotifier {
	if hc != nil {
		n.client = hc
	}
	return n
}

type emailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

func subject(kind, userID, instrument string, at time.Time) string {
	date := util.FormatDateWithSuffix(at.Day(), at.Month().String(), at.Year())
	return fmt.Sprintf("Algo - Straddle %s Notification-%s-%s-%s", kind, userID, instrument, date)
}

func paperTag(paper bool) string {
	if paper {
		return " [PAPER]"
	}
	return ""
}

// NotifyEntry emails the entry summary to the strategy owner.
func (n *EmailNotifier) NotifyEntry(ctx context.Context, event EntryEvent) error {
	if event.Email == "" {
		return fmt.Errorf("no email address for user %s", event.UserID)
	}

	body := fmt.Sprintf(`<h3>Straddle Entry%s</h3>
<table border="1" cellpadding="4">
<tr><td>Instrument</td><td>%s</td></tr>
<tr><td>Side</td><td>%s</td></tr>
<tr><td>Call</td><td>%s @ %.2f</td></tr>
<tr><td>Put</td><td>%s @ %.2f</td></tr>
<tr><td>Quantity</td><td>%d per leg</td></tr>
<tr><td>Time</td><td>%s</td></tr>
</table>`,
		paperTag(event.PaperTrade), event.Instrument, event.Side,
		event.CallSymbol, event.CallPrice,
		event.PutSymbol, event.PutPrice,
		event.Quantity, event.At.Format("2006-01-02 15:04:05"))

	return n.send(ctx, emailRequest{
		From:    n.from,
		To:      []string{event.Email},
		Subject: subject("Entry", event.UserID, event.Instrument, event.At),
		HTML:    body,
	})
}

// NotifyExit emails the exit summary to the strategy owner.
func (n *EmailNotifier) NotifyExit(ctx context.Context, event ExitEvent) error {
	if event.Email == "" {
		return fmt.Errorf("no email address for user %s", event.UserID)
	}

	body := fmt.Sprintf(`<h3>Straddle Exit%s</h3>
<table border="1" cellpadding="4">
<tr><td>Instrument</td><td>%s</td></tr>
<tr><td>Reason</td><td>%s</td></tr>
<tr><td>Call exit</td><td>%.2f</td></tr>
<tr><td>Put exit</td><td>%.2f</td></tr>
<tr><td>PnL</td><td>%.2f</td></tr>
<tr><td>Time</td><td>%s</td></tr>
</table>`,
		paperTag(event.PaperTrade), event.Instrument, event.Reason,
		event.CallPrice, event.PutPrice, event.Pnl,
		event.At.Format("2006-01-02 15:04:05"))

	return n.send(ctx, emailRequest{
		From:    n.from,
		To:      []string{event.Email},
		Subject: subject("Exit", event.UserID, event.Instrument, event.At),
		HTML:    body,
	})
}

func (n *EmailNotifier) send(ctx context.Context, email emailRequest) error {
	payload, err := json.Marshal(email)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.apiURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Add("Authorization", "Bearer "+n.apiKey)
	req.Header.Add("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return fmt.Errorf("email API returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
