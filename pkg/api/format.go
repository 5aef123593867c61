package api

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/roundmarket/pkg/app/core/account"
	"github.com/uhyunpark/roundmarket/pkg/app/core/market"
	"github.com/uhyunpark/roundmarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/roundmarket/pkg/app/core/round"
)

// displayPlaces bounds the fractional digits of a whole-token amount.
const displayPlaces = 18

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// wholeTokens renders base units as whole tokens, e.g. 1500000 at scale 1e6 is "1.5".
func wholeTokens(v, scale *uint256.Int) string {
	if v == nil {
		return "0"
	}
	d := decimal.NewFromBigInt(v.ToBig(), 0)
	if scale == nil || scale.IsZero() {
		return d.String()
	}
	return d.DivRound(decimal.NewFromBigInt(scale.ToBig(), 0), displayPlaces).String()
}

// parseBaseUnits accepts a non-negative integer, optionally in exponent form ("1e18").
func parseBaseUnits(s string) (*uint256.Int, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() || !d.Equal(d.Truncate(0)) {
		return nil, false
	}
	v, overflow := uint256.FromBig(d.BigInt())
	if overflow {
		return nil, false
	}
	return v, true
}

func toRoundInfo(r *round.Round, scale *uint256.Int, now time.Time) *RoundInfo {
	if r == nil {
		return nil
	}
	return &RoundInfo{
		ID:                r.ID,
		Kind:              r.Kind.String(),
		Start:             r.Start,
		End:               r.End,
		Ended:             r.Ended(now),
		Price:             dec(r.Price),
		TokensLeft:        dec(r.TokensLeft),
		TokensLeftDisplay: wholeTokens(r.TokensLeft, scale),
		TradeVolume:       dec(r.TradeVolume),
	}
}

func toOrderInfo(o *orderbook.Order, scale *uint256.Int) OrderInfo {
	return OrderInfo{
		ID:            o.ID,
		Round:         o.Round,
		Owner:         o.Owner.Hex(),
		Amount:        dec(o.Amount),
		AmountDisplay: wholeTokens(o.Amount, scale),
		Cost:          dec(o.Cost),
		UnitPrice:     dec(o.UnitPrice),
		Open:          o.Open,
	}
}

func toAccountInfo(acc *account.Account, treasury common.Address, scale *uint256.Int) AccountInfo {
	return AccountInfo{
		Address:           acc.Address.Hex(),
		Nonce:             acc.Nonce,
		Native:            dec(acc.Native),
		Tokens:            dec(acc.Tokens),
		TokensDisplay:     wholeTokens(acc.Tokens, scale),
		TreasuryAllowance: dec(acc.Allowance(treasury)),
	}
}

func toMarketInfo(s market.Status, current *RoundInfo) MarketInfo {
	var last uint64
	if s.NextSeq > 0 {
		last = s.NextSeq - 1
	}
	return MarketInfo{
		Initialized:    s.Initialized,
		Owner:          s.Owner.Hex(),
		Treasury:       s.Treasury.Hex(),
		Paused:         s.Paused,
		UnitScale:      dec(s.UnitScale),
		PriceIncrement: dec(s.Increment),
		Rates:          s.Rates,
		Current:        current,
		Rounds:         s.Rounds,
		OpenOrders:     s.OpenOrders,
		Referrals:      s.Referrals,
		LastEventSeq:   last,
	}
}
