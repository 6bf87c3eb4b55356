package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func infoServer(t *testing.T, responses map[string]string) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/info" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req InfoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		body, ok := responses[req.Type]
		if !ok {
			http.Error(w, "unknown type", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return New(server.URL, time.Second, zap.NewNop())
}

func TestClearinghouseState(t *testing.T) {
	client := infoServer(t, map[string]string{
		"clearinghouseState": `{"assetPositions":[{"type":"oneWay","position":{"coin":"ETH","szi":"-1.5","entryPx":"2000","positionValue":"3000","unrealizedPnl":"-12.5","marginUsed":"600","leverage":{"type":"isolated","value":5},"liquidationPx":null,"returnOnEquity":"0"}}],"marginSummary":{"accountValue":"1000","totalMarginUsed":"600","totalNtlPos":"3000","totalRawUsd":"0"},"withdrawable":"400","time":1}`,
	})
	state, err := client.ClearinghouseState(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("clearinghouse: %v", err)
	}
	pos, ok := state.Position("eth")
	if !ok {
		t.Fatalf("expected ETH position")
	}
	if !pos.Szi.Equal(decimal.RequireFromString("-1.5")) || !pos.MarginUsed.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("unexpected position %+v", pos)
	}
	if pos.LiquidationPx.Valid {
		t.Fatalf("expected null liquidation price")
	}
	if !state.Withdrawable.Equal(decimal.NewFromInt(400)) {
		t.Fatalf("unexpected withdrawable %s", state.Withdrawable)
	}
	if _, ok := state.Position("BTC"); ok {
		t.Fatalf("unexpected BTC position")
	}
}

func TestSpotState(t *testing.T) {
	client := infoServer(t, map[string]string{
		"spotClearinghouseState": `{"balances":[{"coin":"USDC","token":0,"total":"150.5","hold":"50"}]}`,
	})
	state, err := client.SpotClearinghouseState(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("spot: %v", err)
	}
	if got := state.Free("USDC"); !got.Equal(decimal.RequireFromString("100.5")) {
		t.Fatalf("expected 100.5 free, got %s", got)
	}
}

func TestAssetLookup(t *testing.T) {
	client := infoServer(t, map[string]string{
		"metaAndAssetCtxs": `[{"universe":[{"name":"BTC","szDecimals":5,"maxLeverage":50},{"name":"ETH","szDecimals":4,"maxLeverage":25}]},[{"markPx":"60000","oraclePx":"60010","midPx":"60001","funding":"0.0001","openInterest":"1"},{"markPx":"2000","oraclePx":"2001","midPx":null,"funding":"0","openInterest":"2"}]]`,
	})
	asset, err := client.Asset(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("asset: %v", err)
	}
	if asset.Index != 1 || asset.Meta.SzDecimals != 4 || asset.Ctx.MidPx.Valid {
		t.Fatalf("unexpected asset %+v", asset)
	}
	if _, err := client.Asset(context.Background(), "DOGE"); err == nil {
		t.Fatalf("expected error for unlisted asset")
	}
}

func TestOrderStatus(t *testing.T) {
	client := infoServer(t, map[string]string{
		"orderStatus": `{"status":"order","order":{"order":{"coin":"ETH","oid":9,"cloid":"0x01","side":"B","sz":"0"},"status":"filled","statusTimestamp":5}}`,
	})
	status, err := client.OrderStatus(context.Background(), "0xabc", "0x01")
	if err != nil {
		t.Fatalf("order status: %v", err)
	}
	if status.State() != "filled" {
		t.Fatalf("expected filled, got %s", status.State())
	}
	if (OrderStatus{Status: "unknownOid"}).State() != "unknown" {
		t.Fatalf("expected unknown state")
	}
}
