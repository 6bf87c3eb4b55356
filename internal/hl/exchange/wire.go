package exchange

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	priceSigFigs     = 5
	maxPriceDecimals = 6
	usdDecimals      = 6
)

var tenth = decimal.New(1, -1)

func LimitOrderWire(asset int, isBuy bool, size, limit decimal.Decimal, szDecimals int32, reduceOnly bool, tif Tif, cloid string) (OrderWire, error) {
	if tif == "" {
		return OrderWire{}, errors.New("tif is required")
	}
	price, err := PriceToWire(limit, szDecimals, isBuy)
	if err != nil {
		return OrderWire{}, fmt.Errorf("limit price: %w", err)
	}
	sizeWire, err := SizeToWire(size, szDecimals)
	if err != nil {
		return OrderWire{}, fmt.Errorf("size: %w", err)
	}
	return OrderWire{
		Asset:      asset,
		IsBuy:      isBuy,
		Price:      price,
		Size:       sizeWire,
		ReduceOnly: reduceOnly,
		OrderType:  OrderTypeWire{Limit: &LimitOrderType{Tif: tif}},
		Cloid:      cloid,
	}, nil
}

// PriceToWire formats a limit price with at most five significant figures and
// at most 6-szDecimals decimal places. Integer prices are always valid. Buys
// round down and sells round up so the limit never loosens.
func PriceToWire(px decimal.Decimal, szDecimals int32, isBuy bool) (string, error) {
	if !px.IsPositive() {
		return "", fmt.Errorf("price must be > 0, got %s", px)
	}
	places := priceSigFigs - len(px.Truncate(0).String())
	if px.LessThan(decimal.NewFromInt(1)) {
		places = priceSigFigs
		for shifted := px; shifted.LessThan(tenth); shifted = shifted.Shift(1) {
			places++
		}
	}
	if limit := maxPriceDecimals - int(szDecimals); places > limit {
		places = limit
	}
	if places < 0 {
		places = 0
	}
	var rounded decimal.Decimal
	if isBuy {
		rounded = px.RoundFloor(int32(places))
	} else {
		rounded = px.RoundCeil(int32(places))
	}
	if !rounded.IsPositive() {
		return "", fmt.Errorf("price %s rounds to zero", px)
	}
	return rounded.String(), nil
}

// SizeToWire truncates size to the asset's size decimals.
func SizeToWire(size decimal.Decimal, szDecimals int32) (string, error) {
	truncated := size.Truncate(szDecimals)
	if !truncated.IsPositive() {
		return "", fmt.Errorf("size %s below lot size", size)
	}
	return truncated.String(), nil
}

func USDToWire(amount decimal.Decimal) string {
	return amount.Truncate(usdDecimals).String()
}

// USDToNtli converts a signed USD amount to the integer margin unit.
func USDToNtli(amount decimal.Decimal) int64 {
	return amount.Shift(usdDecimals).Truncate(0).IntPart()
}
