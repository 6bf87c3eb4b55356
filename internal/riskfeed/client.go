package riskfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"delta-hedger/internal/hedge"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Client reads the option book's net delta from a risk engine over HTTP.
// The endpoint answers GET with {"net_delta": "<decimal>"}.
type Client struct {
	url   string
	token string
	http  *http.Client
	log   *zap.Logger
}

var _ hedge.RiskEngine = (*Client)(nil)

type deltaResponse struct {
	NetDelta *decimal.Decimal `json:"net_delta"`
	AsOfMS   int64            `json:"as_of_ms,omitempty"`
}

func New(url, token string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		url:   url,
		token: token,
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

func (c *Client) NetDelta(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return decimal.Zero, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	var data deltaResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return decimal.Zero, fmt.Errorf("decode risk response: %w", err)
	}
	if data.NetDelta == nil {
		return decimal.Zero, errors.New("risk response missing net_delta")
	}
	c.log.Debug("net delta", zap.Stringer("net_delta", *data.NetDelta), zap.Int64("as_of_ms", data.AsOfMS))
	return *data.NetDelta, nil
}
