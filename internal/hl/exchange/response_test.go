package exchange

import (
	"encoding/json"
	"errors"
	"testing"
)

func decodeResponse(t *testing.T, raw string) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func TestResponseRestingOrder(t *testing.T) {
	resp := decodeResponse(t, `{"status":"ok","response":{"type":"order","data":{"statuses":[{"resting":{"oid":292577153770,"cloid":"0x188a0f9ee162351d6d6af5b09b97b1c7"}}]}}}`)
	if err := resp.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := resp.OrderID(); got != "292577153770" {
		t.Fatalf("expected order id 292577153770, got %s", got)
	}
}

func TestResponseFilledOrder(t *testing.T) {
	resp := decodeResponse(t, `{"status":"ok","response":{"type":"order","data":{"statuses":[{"filled":{"oid":7,"totalSz":"1.5","avgPx":"100.1"}}]}}}`)
	statuses, err := resp.Statuses()
	if err != nil || len(statuses) != 1 || statuses[0].Filled == nil || !statuses[0].Success {
		t.Fatalf("unexpected statuses %+v (%v)", statuses, err)
	}
	if statuses[0].Filled.TotalSz != "1.5" {
		t.Fatalf("unexpected fill size %s", statuses[0].Filled.TotalSz)
	}
}

func TestResponseRejections(t *testing.T) {
	top := decodeResponse(t, `{"status":"err","response":"User or API Wallet does not exist."}`)
	if err := top.Err(); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	element := decodeResponse(t, `{"status":"ok","response":{"type":"order","data":{"statuses":[{"error":"Order has invalid price."}]}}}`)
	if err := element.Err(); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	cancel := decodeResponse(t, `{"status":"ok","response":{"type":"cancel","data":{"statuses":["success"]}}}`)
	if err := cancel.Err(); err != nil {
		t.Fatalf("unexpected cancel error: %v", err)
	}
	margin := decodeResponse(t, `{"status":"ok","response":{"type":"default"}}`)
	if err := margin.Err(); err != nil {
		t.Fatalf("unexpected margin error: %v", err)
	}
}
