package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Client queries the /info endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func New(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type InfoRequest struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
	Oid  any    `json:"oid,omitempty"`
}

type Leverage struct {
	Type  string `json:"type"`
	Value int    `json:"value"`
}

type Position struct {
	Coin           string              `json:"coin"`
	Szi            decimal.Decimal     `json:"szi"`
	EntryPx        decimal.NullDecimal `json:"entryPx"`
	PositionValue  decimal.Decimal     `json:"positionValue"`
	UnrealizedPnl  decimal.Decimal     `json:"unrealizedPnl"`
	MarginUsed     decimal.Decimal     `json:"marginUsed"`
	Leverage       Leverage            `json:"leverage"`
	LiquidationPx  decimal.NullDecimal `json:"liquidationPx"`
	ReturnOnEquity decimal.Decimal     `json:"returnOnEquity"`
}

type AssetPosition struct {
	Type     string   `json:"type"`
	Position Position `json:"position"`
}

type MarginSummary struct {
	AccountValue    decimal.Decimal `json:"accountValue"`
	TotalMarginUsed decimal.Decimal `json:"totalMarginUsed"`
	TotalNtlPos     decimal.Decimal `json:"totalNtlPos"`
	TotalRawUsd     decimal.Decimal `json:"totalRawUsd"`
}

type ClearinghouseState struct {
	AssetPositions []AssetPosition `json:"assetPositions"`
	MarginSummary  MarginSummary   `json:"marginSummary"`
	Withdrawable   decimal.Decimal `json:"withdrawable"`
	Time           int64           `json:"time"`
}

// Position returns the open position on coin, if any.
func (s ClearinghouseState) Position(coin string) (Position, bool) {
	for _, ap := range s.AssetPositions {
		if strings.EqualFold(ap.Position.Coin, coin) && !ap.Position.Szi.IsZero() {
			return ap.Position, true
		}
	}
	return Position{}, false
}

type SpotBalance struct {
	Coin  string          `json:"coin"`
	Token int             `json:"token"`
	Total decimal.Decimal `json:"total"`
	Hold  decimal.Decimal `json:"hold"`
}

type SpotState struct {
	Balances []SpotBalance `json:"balances"`
}

// Free returns total minus hold for coin.
func (s SpotState) Free(coin string) decimal.Decimal {
	for _, b := range s.Balances {
		if strings.EqualFold(b.Coin, coin) {
			return b.Total.Sub(b.Hold)
		}
	}
	return decimal.Zero
}

type AssetMeta struct {
	Name         string `json:"name"`
	SzDecimals   int32  `json:"szDecimals"`
	MaxLeverage  int    `json:"maxLeverage"`
	OnlyIsolated bool   `json:"onlyIsolated,omitempty"`
}

type Meta struct {
	Universe []AssetMeta `json:"universe"`
}

type AssetCtx struct {
	MarkPx       decimal.Decimal     `json:"markPx"`
	OraclePx     decimal.Decimal     `json:"oraclePx"`
	MidPx        decimal.NullDecimal `json:"midPx"`
	Funding      decimal.Decimal     `json:"funding"`
	OpenInterest decimal.Decimal     `json:"openInterest"`
}

// Asset pairs an asset's index in the universe with its metadata and context.
type Asset struct {
	Index int
	Meta  AssetMeta
	Ctx   AssetCtx
}

type OrderStatus struct {
	Status string `json:"status"`
	Order  *struct {
		Order struct {
			Coin  string `json:"coin"`
			Oid   int64  `json:"oid"`
			Cloid string `json:"cloid"`
			Side  string `json:"side"`
			Sz    string `json:"sz"`
		} `json:"order"`
		Status          string `json:"status"`
		StatusTimestamp int64  `json:"statusTimestamp"`
	} `json:"order"`
}

// State is the order's lifecycle status ("open", "filled", "canceled", ...)
// or "unknown" when the venue has no record of it.
func (o OrderStatus) State() string {
	if o.Order == nil {
		return "unknown"
	}
	return o.Order.Status
}

func (c *Client) ClearinghouseState(ctx context.Context, user string) (ClearinghouseState, error) {
	var out ClearinghouseState
	err := c.post(ctx, InfoRequest{Type: "clearinghouseState", User: user}, &out)
	return out, err
}

func (c *Client) SpotClearinghouseState(ctx context.Context, user string) (SpotState, error) {
	var out SpotState
	err := c.post(ctx, InfoRequest{Type: "spotClearinghouseState", User: user}, &out)
	return out, err
}

// OrderStatus looks an order up by venue id or by 0x-prefixed client id.
func (c *Client) OrderStatus(ctx context.Context, user string, oid any) (OrderStatus, error) {
	var out OrderStatus
	err := c.post(ctx, InfoRequest{Type: "orderStatus", User: user, Oid: oid}, &out)
	return out, err
}

// Asset resolves coin against metaAndAssetCtxs.
func (c *Client) Asset(ctx context.Context, coin string) (Asset, error) {
	var raw []json.RawMessage
	if err := c.post(ctx, InfoRequest{Type: "metaAndAssetCtxs"}, &raw); err != nil {
		return Asset{}, err
	}
	if len(raw) != 2 {
		return Asset{}, fmt.Errorf("metaAndAssetCtxs: expected 2 elements, got %d", len(raw))
	}
	var meta Meta
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return Asset{}, fmt.Errorf("decode meta: %w", err)
	}
	var ctxs []AssetCtx
	if err := json.Unmarshal(raw[1], &ctxs); err != nil {
		return Asset{}, fmt.Errorf("decode asset contexts: %w", err)
	}
	for i, m := range meta.Universe {
		if !strings.EqualFold(m.Name, coin) {
			continue
		}
		if i >= len(ctxs) {
			return Asset{}, fmt.Errorf("asset %s has no context", coin)
		}
		return Asset{Index: i, Meta: m, Ctx: ctxs[i]}, nil
	}
	return Asset{}, fmt.Errorf("asset %s not listed", coin)
}

func (c *Client) post(ctx context.Context, req InfoRequest, out any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	url := c.baseURL + "/info"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.Type, err)
	}
	c.log.Debug("info request", zap.String("type", req.Type))
	return nil
}
