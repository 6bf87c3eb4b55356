package exchange

import (
	"bytes"
	"errors"

	"github.com/vmihailenco/msgpack/v5"
)

// L1Action is an exchange action signed with the agent scheme. Key order of
// the msgpack encoding is part of the signed payload.
type L1Action interface {
	encodeMsgpack(enc *msgpack.Encoder) error
}

// EncodeAction returns the msgpack bytes hashed into the action signature.
func EncodeAction(action L1Action) ([]byte, error) {
	if action == nil {
		return nil, errors.New("action is required")
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := action.encodeMsgpack(enc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// kv writes string keys followed by values, stopping at the first error.
type kv struct {
	enc *msgpack.Encoder
	err error
}

func (w *kv) key(k string) *kv {
	if w.err == nil {
		w.err = w.enc.EncodeString(k)
	}
	return w
}

func (w *kv) str(k, v string) *kv {
	w.key(k)
	if w.err == nil {
		w.err = w.enc.EncodeString(v)
	}
	return w
}

func (w *kv) num(k string, v int64) *kv {
	w.key(k)
	if w.err == nil {
		w.err = w.enc.EncodeInt(v)
	}
	return w
}

func (w *kv) flag(k string, v bool) *kv {
	w.key(k)
	if w.err == nil {
		w.err = w.enc.EncodeBool(v)
	}
	return w
}

func (w *kv) mapLen(n int) *kv {
	if w.err == nil {
		w.err = w.enc.EncodeMapLen(n)
	}
	return w
}

func (w *kv) arrayLen(n int) *kv {
	if w.err == nil {
		w.err = w.enc.EncodeArrayLen(n)
	}
	return w
}

func (a OrderAction) encodeMsgpack(enc *msgpack.Encoder) error {
	if a.Type == "" {
		return errors.New("action type is required")
	}
	if len(a.Orders) == 0 {
		return errors.New("action orders are required")
	}
	if a.Grouping == "" {
		a.Grouping = "na"
	}
	w := &kv{enc: enc}
	w.mapLen(3).str("type", a.Type).key("orders").arrayLen(len(a.Orders))
	for _, order := range a.Orders {
		if w.err != nil {
			return w.err
		}
		w.err = encodeOrderWire(enc, order)
	}
	return w.str("grouping", a.Grouping).err
}

func (a CancelByCloidAction) encodeMsgpack(enc *msgpack.Encoder) error {
	if a.Type == "" {
		return errors.New("action type is required")
	}
	if len(a.Cancels) == 0 {
		return errors.New("action cancels are required")
	}
	w := &kv{enc: enc}
	w.mapLen(2).str("type", a.Type).key("cancels").arrayLen(len(a.Cancels))
	for _, cancel := range a.Cancels {
		w.mapLen(2).num("asset", int64(cancel.Asset)).str("cloid", cancel.Cloid)
	}
	return w.err
}

func (a UpdateIsolatedMarginAction) encodeMsgpack(enc *msgpack.Encoder) error {
	if a.Type == "" {
		return errors.New("action type is required")
	}
	w := &kv{enc: enc}
	return w.mapLen(4).
		str("type", a.Type).
		num("asset", int64(a.Asset)).
		flag("isBuy", a.IsBuy).
		num("ntli", a.Ntli).err
}

func (a UpdateLeverageAction) encodeMsgpack(enc *msgpack.Encoder) error {
	if a.Type == "" {
		return errors.New("action type is required")
	}
	if a.Leverage <= 0 {
		return errors.New("leverage must be > 0")
	}
	w := &kv{enc: enc}
	return w.mapLen(4).
		str("type", a.Type).
		num("asset", int64(a.Asset)).
		flag("isCross", a.IsCross).
		num("leverage", int64(a.Leverage)).err
}

func encodeOrderWire(enc *msgpack.Encoder, order OrderWire) error {
	if order.OrderType.Limit == nil {
		return errors.New("limit order type required")
	}
	mapLen := 6
	if order.Cloid != "" {
		mapLen++
	}
	w := &kv{enc: enc}
	w.mapLen(mapLen).
		num("a", int64(order.Asset)).
		flag("b", order.IsBuy).
		str("p", order.Price).
		str("s", order.Size).
		flag("r", order.ReduceOnly).
		key("t").mapLen(1).key("limit").mapLen(1).
		str("tif", string(order.OrderType.Limit.Tif))
	if order.Cloid != "" {
		w.str("c", order.Cloid)
	}
	return w.err
}
