// Package timing talks to the external quantitative service that
// classifies index dates into buy-signal and sell-signal days.
package timing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fund-sim-lab/internal/dates"
	"fund-sim-lab/internal/observability"
)

// DefaultTimeout bounds one oracle call.
const DefaultTimeout = 30 * time.Second

// IndexPoint is one index close observation handed to the oracle.
type IndexPoint struct {
	Date  dates.Date
	Close float64
}

// Classification is the oracle's per-date verdict over a series.
type Classification struct {
	BuyDays  map[dates.Date]struct{}
	SellDays map[dates.Date]struct{}
}

// IsBuyDay reports whether the oracle marked the date a buy-signal day.
func (c *Classification) IsBuyDay(d dates.Date) bool {
	_, ok := c.BuyDays[d]
	return ok
}

// IsSellDay reports whether the oracle marked the date a sell-signal day.
func (c *Classification) IsSellDay(d dates.Date) bool {
	_, ok := c.SellDays[d]
	return ok
}

// Oracle classifies an index close series given buy/sell percentile
// positions in [0, 1].
type Oracle interface {
	Classify(ctx context.Context, series []IndexPoint, buyPosition, sellPosition float64) (*Classification, error)
}

// Client is the HTTP oracle backed by the quant service's MACD endpoint.
type Client struct {
	baseURL string
	client  *http.Client
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates an oracle client for the quant service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface check.
var _ Oracle = (*Client)(nil)

type macdSeriesPoint struct {
	Index int     `json:"index"`
	Date  string  `json:"date"`
	Val   float64 `json:"val"`
}

type macdRequest struct {
	Series       []macdSeriesPoint `json:"series"`
	SellPosition float64           `json:"sell_position"`
	BuyPosition  float64           `json:"buy_position"`
}

type macdResponsePoint struct {
	Date string `json:"date"`

	// The service has emitted both spellings.
	TxnTypeCamel string `json:"txnType"`
	TxnTypeSnake string `json:"txn_type"`
}

func (p macdResponsePoint) txnType() string {
	if p.TxnTypeCamel != "" {
		return p.TxnTypeCamel
	}
	return p.TxnTypeSnake
}

type macdResponse struct {
	Points []macdResponsePoint `json:"points"`
}

// Classify posts the series to the MACD endpoint and collects the dates it
// marks as buy or sell signals. Unparseable dates and unknown transaction
// types are ignored.
func (c *Client) Classify(ctx context.Context, series []IndexPoint, buyPosition, sellPosition float64) (*Classification, error) {
	req := macdRequest{
		Series:       make([]macdSeriesPoint, len(series)),
		SellPosition: sellPosition,
		BuyPosition:  buyPosition,
	}
	for i, p := range series {
		req.Series[i] = macdSeriesPoint{Index: i, Date: p.Date.String(), Val: p.Close}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode macd request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/quant/macd", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build macd request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		observability.RecordTimingOracleCall("error", time.Since(start).Seconds())
		return nil, fmt.Errorf("macd request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		observability.RecordTimingOracleCall("http_error", time.Since(start).Seconds())
		return nil, fmt.Errorf("macd http error: status %d", resp.StatusCode)
	}

	var decoded macdResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		observability.RecordTimingOracleCall("decode_error", time.Since(start).Seconds())
		return nil, fmt.Errorf("macd json failed: %w", err)
	}
	observability.RecordTimingOracleCall("ok", time.Since(start).Seconds())

	out := &Classification{
		BuyDays:  make(map[dates.Date]struct{}),
		SellDays: make(map[dates.Date]struct{}),
	}
	for _, p := range decoded.Points {
		d, err := dates.Parse(strings.TrimSpace(p.Date))
		if err != nil {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(p.txnType())) {
		case "buy":
			out.BuyDays[d] = struct{}{}
		case "sell":
			out.SellDays[d] = struct{}{}
		}
	}
	return out, nil
}
