package orderbook

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/roundmarket/pkg/app/core/units"
)

var (
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob   = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

// scale of 100 base units per whole token keeps the numbers readable
var scale = uint256.NewInt(100)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func TestPlaceDerivesUnitPrice(t *testing.T) {
	b := NewBook(scale)

	o, _, err := b.Place(2, alice, u(450), u(1000))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if o.ID != 0 || !o.Open {
		t.Fatalf("order = %+v", o)
	}
	// 1000 / floor(450/100) = 250
	if o.UnitPrice.Uint64() != 250 {
		t.Errorf("unit price = %d, want 250", o.UnitPrice.Uint64())
	}

	o2, _, err := b.Place(2, bob, u(100), u(10))
	if err != nil {
		t.Fatal(err)
	}
	if o2.ID != 1 {
		t.Errorf("second order id = %d, want 1", o2.ID)
	}
}

func TestPlaceRejectsZeroValues(t *testing.T) {
	b := NewBook(scale)
	tests := []struct {
		name   string
		amount uint64
		cost   uint64
		want   error
	}{
		{"zero amount", 0, 10, ErrZeroAmount},
		{"zero cost", 100, 0, ErrZeroCost},
		{"below one whole token", 99, 10, ErrZeroCost},
		{"price floors to zero", 500, 4, ErrZeroCost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := b.Place(2, alice, u(tt.amount), u(tt.cost)); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if n := len(b.Orders(2)); n != 0 {
		t.Errorf("rejected places left %d slots", n)
	}
}

func TestFullFillLeavesZeroAmountOpenOrder(t *testing.T) {
	b := NewBook(scale)
	o, _, err := b.Place(2, alice, u(300), u(900))
	if err != nil {
		t.Fatal(err)
	}

	_, cost, _, err := b.Fill(2, o.ID, bob, u(300))
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if cost.Uint64() != 900 {
		t.Errorf("cost = %d, want 900", cost.Uint64())
	}

	got, err := b.Order(2, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Open || !got.Amount.IsZero() {
		t.Errorf("after full fill: open=%v amount=%s, want open with zero", got.Open, got.Amount.Dec())
	}

	if _, _, _, err := b.Fill(2, o.ID, bob, u(1)); !errors.Is(err, ErrOrderInsufficientAmount) {
		t.Errorf("fill of empty order err = %v", err)
	}
}

func TestFillValidation(t *testing.T) {
	b := NewBook(scale)
	o, _, _ := b.Place(2, alice, u(300), u(900))

	tests := []struct {
		name      string
		id        uint64
		buyer     common.Address
		requested uint64
		want      error
	}{
		{"self trade", o.ID, alice, 100, ErrSelfTrade},
		{"zero amount", o.ID, bob, 0, ErrZeroAmount},
		{"oversized", o.ID, bob, 301, ErrOrderInsufficientAmount},
		{"missing order", 7, bob, 100, ErrOrderNotFound},
		{"sub-token fill is free", o.ID, bob, 50, ErrZeroCost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, _, err := b.Fill(2, tt.id, tt.buyer, u(tt.requested)); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCancelReturnsOnlyRemainder(t *testing.T) {
	b := NewBook(scale)
	o, _, _ := b.Place(2, alice, u(500), u(1000))
	if _, _, _, err := b.Fill(2, o.ID, bob, u(200)); err != nil {
		t.Fatal(err)
	}

	if _, _, err := b.Cancel(2, o.ID, bob); !errors.Is(err, ErrNotOwner) {
		t.Errorf("cancel by stranger err = %v", err)
	}

	returned, _, err := b.Cancel(2, o.ID, alice)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if returned.Uint64() != 300 {
		t.Errorf("returned = %d, want 300", returned.Uint64())
	}
	if _, _, err := b.Cancel(2, o.ID, alice); !errors.Is(err, ErrOrderClosed) {
		t.Errorf("second cancel err = %v", err)
	}
	if _, _, _, err := b.Fill(2, o.ID, bob, u(100)); !errors.Is(err, ErrOrderClosed) {
		t.Errorf("fill closed err = %v", err)
	}
}

func TestForceCloseAll(t *testing.T) {
	b := NewBook(scale)
	b.Place(2, alice, u(100), u(10))
	b.Place(2, bob, u(200), u(10))
	b.Place(2, alice, u(300), u(10))
	if _, _, err := b.Cancel(2, 1, bob); err != nil {
		t.Fatal(err)
	}

	closed, undo := b.ForceCloseAll(2)
	if len(closed) != 2 {
		t.Fatalf("closed %d orders, want 2", len(closed))
	}
	if closed[0].Order.ID != 0 || closed[1].Order.ID != 2 {
		t.Errorf("closed ids = %d,%d", closed[0].Order.ID, closed[1].Order.ID)
	}
	if closed[1].Returned.Uint64() != 300 {
		t.Errorf("returned = %d, want 300", closed[1].Returned.Uint64())
	}
	if open := b.OpenOrders(2); len(open) != 0 {
		t.Errorf("%d orders still open", len(open))
	}
	if n := len(b.Orders(2)); n != 3 {
		t.Errorf("slots = %d, want 3", n)
	}

	undo()
	if open := b.OpenOrders(2); len(open) != 2 {
		t.Errorf("after undo %d open, want 2", len(open))
	}
}

func TestUndoRestoresSlots(t *testing.T) {
	b := NewBook(scale)
	o, undoPlace, _ := b.Place(2, alice, u(500), u(1000))
	_, _, undoFill, err := b.Fill(2, o.ID, bob, u(200))
	if err != nil {
		t.Fatal(err)
	}
	undoFill()
	if got, _ := b.Order(2, o.ID); got.Amount.Uint64() != 500 {
		t.Errorf("amount after undo = %d, want 500", got.Amount.Uint64())
	}
	undoPlace()
	if n := len(b.Orders(2)); n != 0 {
		t.Errorf("slots after undo = %d", n)
	}
}

func TestBestOffers(t *testing.T) {
	b := NewBook(units.Pow10(2))
	b.Place(2, alice, u(100), u(30))
	b.Place(2, alice, u(100), u(10))
	b.Place(2, bob, u(100), u(20))
	b.Place(2, bob, u(100), u(10))

	got := b.BestOffers(2, 3)
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	wantIDs := []uint64{1, 3, 2}
	for i, o := range got {
		if o.ID != wantIDs[i] {
			t.Errorf("offer %d id = %d, want %d", i, o.ID, wantIDs[i])
		}
	}
}

func TestLoadRequiresSlotOrder(t *testing.T) {
	b := NewBook(scale)
	o := &Order{ID: 1, Round: 2, Owner: alice, Amount: u(1), Cost: u(1), UnitPrice: u(1), Open: true}
	if err := b.Load(o); err == nil {
		t.Fatal("load out of order succeeded")
	}
	o.ID = 0
	if err := b.Load(o); err != nil {
		t.Fatal(err)
	}
}
