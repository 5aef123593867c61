// Package units holds the integer arithmetic shared by the round, order book and
// payment packages. Every division floors and every overflow is reported, matching
// 256-bit on-chain arithmetic.
package units

import (
	"errors"

	"github.com/holiman/uint256"
)

// BasisPoints is the denominator of every rate (10000 bps = 100%).
const BasisPoints = 10000

var ErrOverflow = errors.New("arithmetic overflow")

var bps = uint256.NewInt(BasisPoints)

// Zero returns a fresh zero value.
func Zero() *uint256.Int { return new(uint256.Int) }

// Copy returns a fresh copy of x, treating nil as zero.
func Copy(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x.Clone()
}

// IsZero treats nil as zero.
func IsZero(x *uint256.Int) bool {
	return x == nil || x.IsZero()
}

// Share returns floor(sum * rate / 10000).
func Share(sum *uint256.Int, rate uint64) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulDivOverflow(sum, uint256.NewInt(rate), bps)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// Whole returns the number of whole tokens in a base-unit amount: floor(amount / scale).
func Whole(amount, scale *uint256.Int) *uint256.Int {
	return new(uint256.Int).Div(amount, scale)
}

// Cost prices an amount of base units at a per-whole-token price:
// price * floor(amount / scale). Fractions of a whole token are not charged.
func Cost(price, amount, scale *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(price, Whole(amount, scale))
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// UnitPrice derives the per-whole-token price of an order: floor(cost / floor(amount / scale)).
// Returns zero when the amount holds no whole token.
func UnitPrice(cost, amount, scale *uint256.Int) *uint256.Int {
	whole := Whole(amount, scale)
	if whole.IsZero() {
		return new(uint256.Int)
	}
	return new(uint256.Int).Div(cost, whole)
}

// MintAmount sizes a sale round: floor(volume / price) whole tokens expressed in base units.
func MintAmount(volume, price, scale *uint256.Int) (*uint256.Int, error) {
	if price.IsZero() {
		return new(uint256.Int), nil
	}
	whole := new(uint256.Int).Div(volume, price)
	out, overflow := new(uint256.Int).MulOverflow(whole, scale)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// StepUp applies the sale price step: old + floor(old * rate / 10000) + increment.
func StepUp(old *uint256.Int, rate uint64, increment *uint256.Int) (*uint256.Int, error) {
	step, err := Share(old, rate)
	if err != nil {
		return nil, err
	}
	out, overflow := new(uint256.Int).AddOverflow(old, step)
	if overflow {
		return nil, ErrOverflow
	}
	out, overflow = out.AddOverflow(out, increment)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// Add returns x + y or ErrOverflow.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// Sub returns x - y or ErrOverflow on underflow.
func Sub(x, y *uint256.Int) (*uint256.Int, error) {
	out, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// Pow10 returns 10^n.
func Pow10(n uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))
}
