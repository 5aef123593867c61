// Package payment computes how a purchase's value is split between the receiving party
// and up to two levels of referrers, and executes the resulting sends.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/roundmarket/pkg/app/core/referral"
	"github.com/uhyunpark/roundmarket/pkg/app/core/units"
)

var (
	ErrTransferFailed = errors.New("value transfer failed")
	ErrInvalidRate    = errors.New("invalid rate")
)

// Rates are the referral rates in basis points.
type Rates struct {
	SaleRef1 uint64 `json:"saleRef1Bps"`
	SaleRef2 uint64 `json:"saleRef2Bps"`
	Trade    uint64 `json:"tradeRefBps"`
}

// Validate keeps every split within the paid sum.
func (r Rates) Validate() error {
	if r.SaleRef1+r.SaleRef2 > units.BasisPoints {
		return fmt.Errorf("%w: sale rates %d+%d exceed %d", ErrInvalidRate, r.SaleRef1, r.SaleRef2, units.BasisPoints)
	}
	if r.Trade*2 > units.BasisPoints {
		return fmt.Errorf("%w: trade rate %d exceeds half of %d", ErrInvalidRate, r.Trade, units.BasisPoints)
	}
	return nil
}

// Role identifies who a payout goes to.
type Role uint8

const (
	RoleSeller Role = iota
	RoleRef1
	RoleRef2
)

func (r Role) String() string {
	switch r {
	case RoleSeller:
		return "seller"
	case RoleRef1:
		return "ref1"
	case RoleRef2:
		return "ref2"
	default:
		return "unknown"
	}
}

type Payout struct {
	To     common.Address
	Amount *uint256.Int
	Role   Role
}

// Split is the outcome of a distribution. Retained is what stays in custody.
type Split struct {
	Payouts  []Payout
	Retained *uint256.Int
}

// Sender moves native value between accounts.
type Sender interface {
	Send(ctx context.Context, from, to common.Address, amount *uint256.Int) error
}

// Distributor computes and executes referral splits. It holds no balances; the paid sum
// must already sit in the custody account when Pay runs.
type Distributor struct {
	rates Rates
}

func NewDistributor(rates Rates) *Distributor {
	return &Distributor{rates: rates}
}

func (d *Distributor) Rates() Rates { return d.rates }

func (d *Distributor) SetRates(r Rates) error {
	if err := r.Validate(); err != nil {
		return err
	}
	d.rates = r
	return nil
}

// SaleSplit distributes a list-price purchase along the buyer's chain. Whatever is not
// paid to referrers is retained by the treasury.
func (d *Distributor) SaleSplit(sum *uint256.Int, chain referral.Chain) (Split, error) {
	split := Split{Retained: sum.Clone()}
	if !chain.HasRef1 {
		return split, nil
	}

	share1, err := units.Share(sum, d.rates.SaleRef1)
	if err != nil {
		return Split{}, err
	}
	if err := split.pay(chain.Ref1, share1, RoleRef1); err != nil {
		return Split{}, err
	}

	if chain.HasRef2 {
		share2, err := units.Share(sum, d.rates.SaleRef2)
		if err != nil {
			return Split{}, err
		}
		if err := split.pay(chain.Ref2, share2, RoleRef2); err != nil {
			return Split{}, err
		}
	}
	return split, nil
}

// TradeSplit distributes an order fill along the seller's chain. With a level-1 referrer
// the seller is always docked two trade shares, even when level 2 goes unpaid; that
// share stays in custody.
func (d *Distributor) TradeSplit(sum *uint256.Int, seller common.Address, chain referral.Chain) (Split, error) {
	split := Split{Retained: sum.Clone()}
	if !chain.HasRef1 {
		if err := split.pay(seller, sum, RoleSeller); err != nil {
			return Split{}, err
		}
		return split, nil
	}

	share, err := units.Share(sum, d.rates.Trade)
	if err != nil {
		return Split{}, err
	}
	docked, overflow := new(uint256.Int).MulOverflow(share, uint256.NewInt(2))
	if overflow {
		return Split{}, units.ErrOverflow
	}
	sellerGets, err := units.Sub(sum, docked)
	if err != nil {
		return Split{}, err
	}

	if err := split.pay(seller, sellerGets, RoleSeller); err != nil {
		return Split{}, err
	}
	if err := split.pay(chain.Ref1, share, RoleRef1); err != nil {
		return Split{}, err
	}
	if chain.HasRef2 {
		if err := split.pay(chain.Ref2, share, RoleRef2); err != nil {
			return Split{}, err
		}
	}
	return split, nil
}

func (s *Split) pay(to common.Address, amount *uint256.Int, role Role) error {
	left, err := units.Sub(s.Retained, amount)
	if err != nil {
		return err
	}
	s.Retained = left
	s.Payouts = append(s.Payouts, Payout{To: to, Amount: amount.Clone(), Role: role})
	return nil
}

// Pay executes every payout of split from custody. Zero payouts are skipped. The first
// rejected send aborts with ErrTransferFailed; the caller reverts the earlier ones.
func (d *Distributor) Pay(ctx context.Context, sender Sender, custody common.Address, split Split) error {
	for _, p := range split.Payouts {
		if p.Amount.IsZero() {
			continue
		}
		if err := sender.Send(ctx, custody, p.To, p.Amount); err != nil {
			return fmt.Errorf("%w: %s payout to %s: %w", ErrTransferFailed, p.Role, p.To.Hex(), err)
		}
	}
	return nil
}
