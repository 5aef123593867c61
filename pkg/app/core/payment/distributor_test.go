package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/roundmarket/pkg/app/core/referral"
)

var (
	treasury = common.HexToAddress("0x7000000000000000000000000000000000000000")
	alice    = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob      = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	carol    = common.HexToAddress("0xCC00000000000000000000000000000000000000")
	dave     = common.HexToAddress("0xDD00000000000000000000000000000000000000")
)

var testRates = Rates{SaleRef1: 500, SaleRef2: 300, Trade: 250}

type recordingSender struct {
	sent   map[common.Address]uint64
	reject common.Address
}

func (s *recordingSender) Send(_ context.Context, from, to common.Address, amount *uint256.Int) error {
	if to == s.reject {
		return errors.New("receiver rejected")
	}
	if s.sent == nil {
		s.sent = make(map[common.Address]uint64)
	}
	s.sent[to] += amount.Uint64()
	return nil
}

func paid(split Split) map[Role]uint64 {
	out := make(map[Role]uint64)
	for _, p := range split.Payouts {
		out[p.Role] += p.Amount.Uint64()
	}
	return out
}

func TestSaleSplit(t *testing.T) {
	d := NewDistributor(testRates)
	sum := uint256.NewInt(10000)

	tests := []struct {
		name     string
		chain    referral.Chain
		ref1     uint64
		ref2     uint64
		retained uint64
	}{
		{name: "no referrer", chain: referral.Chain{}, retained: 10000},
		{name: "one hop", chain: referral.Chain{Ref1: bob, HasRef1: true}, ref1: 500, retained: 9500},
		{
			name:     "two hops",
			chain:    referral.Chain{Ref1: bob, HasRef1: true, Ref2: carol, HasRef2: true},
			ref1:     500,
			ref2:     300,
			retained: 9200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			split, err := d.SaleSplit(sum, tt.chain)
			if err != nil {
				t.Fatal(err)
			}
			got := paid(split)
			if got[RoleRef1] != tt.ref1 || got[RoleRef2] != tt.ref2 {
				t.Errorf("ref1/ref2 = %d/%d, want %d/%d", got[RoleRef1], got[RoleRef2], tt.ref1, tt.ref2)
			}
			if split.Retained.Uint64() != tt.retained {
				t.Errorf("retained = %d, want %d", split.Retained.Uint64(), tt.retained)
			}
		})
	}
}

func TestTradeSplit(t *testing.T) {
	d := NewDistributor(testRates)
	sum := uint256.NewInt(10000)

	tests := []struct {
		name     string
		chain    referral.Chain
		seller   uint64
		ref1     uint64
		ref2     uint64
		retained uint64
	}{
		{name: "no referrer pays seller in full", seller: 10000},
		{
			name:     "one hop docks two shares",
			chain:    referral.Chain{Ref1: bob, HasRef1: true},
			seller:   9500,
			ref1:     250,
			retained: 250,
		},
		{
			name:   "two hops",
			chain:  referral.Chain{Ref1: bob, HasRef1: true, Ref2: carol, HasRef2: true},
			seller: 9500,
			ref1:   250,
			ref2:   250,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			split, err := d.TradeSplit(sum, alice, tt.chain)
			if err != nil {
				t.Fatal(err)
			}
			got := paid(split)
			if got[RoleSeller] != tt.seller {
				t.Errorf("seller = %d, want %d", got[RoleSeller], tt.seller)
			}
			if got[RoleRef1] != tt.ref1 || got[RoleRef2] != tt.ref2 {
				t.Errorf("ref1/ref2 = %d/%d, want %d/%d", got[RoleRef1], got[RoleRef2], tt.ref1, tt.ref2)
			}
			if split.Retained.Uint64() != tt.retained {
				t.Errorf("retained = %d, want %d", split.Retained.Uint64(), tt.retained)
			}
		})
	}
}

func TestTwoCycleLeavesLevelTwoInTreasury(t *testing.T) {
	reg := referral.NewRegistry()
	if _, err := reg.Register(alice, bob); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Register(bob, alice); err != nil {
		t.Fatal(err)
	}

	d := NewDistributor(testRates)
	split, err := d.SaleSplit(uint256.NewInt(10000), reg.ChainOf(alice))
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range split.Payouts {
		if p.To == alice {
			t.Fatalf("payer received its own level-2 share: %+v", p)
		}
	}
	if split.Retained.Uint64() != 9500 {
		t.Errorf("retained = %d, want 9500", split.Retained.Uint64())
	}
}

func TestPay(t *testing.T) {
	d := NewDistributor(testRates)
	split, err := d.TradeSplit(uint256.NewInt(1000), alice, referral.Chain{Ref1: bob, HasRef1: true, Ref2: dave, HasRef2: true})
	if err != nil {
		t.Fatal(err)
	}

	s := &recordingSender{}
	if err := d.Pay(context.Background(), s, treasury, split); err != nil {
		t.Fatalf("pay: %v", err)
	}
	if s.sent[alice] != 950 || s.sent[bob] != 25 || s.sent[dave] != 25 {
		t.Errorf("sent = %v", s.sent)
	}

	s = &recordingSender{reject: dave}
	if err := d.Pay(context.Background(), s, treasury, split); !errors.Is(err, ErrTransferFailed) {
		t.Errorf("rejected send err = %v, want ErrTransferFailed", err)
	}
}

func TestRatesValidate(t *testing.T) {
	tests := []struct {
		rates Rates
		ok    bool
	}{
		{Rates{SaleRef1: 500, SaleRef2: 300, Trade: 250}, true},
		{Rates{SaleRef1: 10000}, true},
		{Rates{SaleRef1: 6000, SaleRef2: 5000}, false},
		{Rates{Trade: 5000}, true},
		{Rates{Trade: 5001}, false},
	}
	for _, tt := range tests {
		err := tt.rates.Validate()
		if (err == nil) != tt.ok {
			t.Errorf("Validate(%+v) = %v, want ok=%v", tt.rates, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrInvalidRate) {
			t.Errorf("Validate(%+v) err = %v, want ErrInvalidRate", tt.rates, err)
		}
	}
}
