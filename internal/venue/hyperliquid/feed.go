package hyperliquid

import (
	"context"
	"encoding/json"

	"delta-hedger/internal/hedge"
	"delta-hedger/internal/hl/ws"

	"go.uber.org/zap"
)

type orderUpdate struct {
	Order struct {
		Coin  string `json:"coin"`
		Oid   int64  `json:"oid"`
		Cloid string `json:"cloid"`
	} `json:"order"`
	Status          string `json:"status"`
	StatusTimestamp int64  `json:"statusTimestamp"`
}

// Feed turns the orderUpdates stream into execution callbacks on the
// gateway. Each reconnect triggers a REST reconciliation of tracked orders.
type Feed struct {
	client  *ws.Client
	gateway *Gateway
	user    string
	log     *zap.Logger
}

func NewFeed(client *ws.Client, gateway *Gateway, user string, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{client: client, gateway: gateway, user: user, log: log}
}

func (f *Feed) Run(ctx context.Context) error {
	f.client.OnConnect(f.gateway.Reconcile)
	if err := f.client.Subscribe(ctx, ws.Subscription{Type: "orderUpdates", User: f.user}); err != nil {
		return err
	}
	return f.client.Run(ctx, func(msg ws.Message) {
		f.handle(ctx, msg)
	})
}

func (f *Feed) handle(ctx context.Context, msg ws.Message) {
	if msg.Channel != "orderUpdates" {
		return
	}
	var updates []orderUpdate
	if err := json.Unmarshal(msg.Data, &updates); err != nil {
		f.log.Warn("order update decode failed", zap.Error(err))
		return
	}
	for _, u := range updates {
		if u.Order.Cloid == "" {
			continue
		}
		success, terminal := terminalStatus(u.Status)
		if !terminal {
			continue
		}
		key := hedge.OrderKey(u.Order.Cloid)
		if !f.gateway.Pending(key) {
			continue
		}
		f.log.Debug("order update",
			zap.String("cloid", u.Order.Cloid),
			zap.Int64("oid", u.Order.Oid),
			zap.String("status", u.Status),
		)
		f.gateway.resolve(ctx, key, success)
	}
}
