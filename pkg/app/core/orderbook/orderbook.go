package orderbook

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/roundmarket/pkg/app/core/units"
)

var (
	ErrZeroAmount              = errors.New("amount must be positive")
	ErrZeroCost                = errors.New("cost must be positive")
	ErrOrderNotFound           = errors.New("order not found")
	ErrOrderClosed             = errors.New("order is closed")
	ErrNotOwner                = errors.New("caller does not own the order")
	ErrSelfTrade               = errors.New("cannot fill your own order")
	ErrOrderInsufficientAmount = errors.New("requested amount exceeds order")
)

// Order is a resale offer inside one trade round. ID is the zero-based slot index and
// never changes; closed slots stay in place.
type Order struct {
	ID        uint64         `json:"id"`
	Round     uint64         `json:"round"`
	Owner     common.Address `json:"owner"`
	Amount    *uint256.Int   `json:"amount"`
	Cost      *uint256.Int   `json:"cost"`
	UnitPrice *uint256.Int   `json:"unitPrice"`
	Open      bool           `json:"open"`
}

// Clone returns a deep copy safe to hand out of the book.
func (o *Order) Clone() *Order {
	c := *o
	c.Amount = units.Copy(o.Amount)
	c.Cost = units.Copy(o.Cost)
	c.UnitPrice = units.Copy(o.UnitPrice)
	return &c
}

// Closed is an order force-closed at round end together with the escrow it returned.
type Closed struct {
	Order    *Order
	Returned *uint256.Int
}

// Book holds the append-only order slots of every trade round. It only does the
// accounting; moving escrowed tokens is the caller's job. Not safe for concurrent use.
type Book struct {
	rounds map[uint64][]*Order
	scale  *uint256.Int
}

func NewBook(unitScale *uint256.Int) *Book {
	return &Book{
		rounds: make(map[uint64][]*Order),
		scale:  units.Copy(unitScale),
	}
}

// Place appends a new open order. The unit price is cost / whole tokens in amount and
// must come out non-zero. The returned func drops the slot again.
func (b *Book) Place(round uint64, owner common.Address, amount, cost *uint256.Int) (*Order, func(), error) {
	if units.IsZero(amount) {
		return nil, nil, ErrZeroAmount
	}
	if units.IsZero(cost) {
		return nil, nil, ErrZeroCost
	}
	price := units.UnitPrice(cost, amount, b.scale)
	if price.IsZero() {
		return nil, nil, fmt.Errorf("%w: unit price rounds to zero", ErrZeroCost)
	}

	slots := b.rounds[round]
	o := &Order{
		ID:        uint64(len(slots)),
		Round:     round,
		Owner:     owner,
		Amount:    amount.Clone(),
		Cost:      cost.Clone(),
		UnitPrice: price,
		Open:      true,
	}
	b.rounds[round] = append(slots, o)

	undo := func() { b.rounds[round] = b.rounds[round][:o.ID] }
	return o.Clone(), undo, nil
}

// Cancel closes an open order owned by caller and returns the escrow to hand back.
func (b *Book) Cancel(round, id uint64, caller common.Address) (*uint256.Int, func(), error) {
	o, err := b.lookup(round, id)
	if err != nil {
		return nil, nil, err
	}
	if o.Owner != caller {
		return nil, nil, ErrNotOwner
	}
	if !o.Open {
		return nil, nil, ErrOrderClosed
	}
	returned, undo := b.close(o)
	return returned, undo, nil
}

// Quote validates a fill without applying it and returns the order and the cost:
// unit price * whole tokens requested.
func (b *Book) Quote(round, id uint64, buyer common.Address, requested *uint256.Int) (*Order, *uint256.Int, error) {
	o, cost, err := b.quote(round, id, buyer, requested)
	if err != nil {
		return nil, nil, err
	}
	return o.Clone(), cost, nil
}

func (b *Book) quote(round, id uint64, buyer common.Address, requested *uint256.Int) (*Order, *uint256.Int, error) {
	o, err := b.lookup(round, id)
	if err != nil {
		return nil, nil, err
	}
	if !o.Open {
		return nil, nil, ErrOrderClosed
	}
	if o.Owner == buyer {
		return nil, nil, ErrSelfTrade
	}
	if units.IsZero(requested) {
		return nil, nil, ErrZeroAmount
	}
	if requested.Gt(o.Amount) {
		return nil, nil, fmt.Errorf("%w: requested %s, left %s", ErrOrderInsufficientAmount, requested.Dec(), o.Amount.Dec())
	}
	cost, err := units.Cost(o.UnitPrice, requested, b.scale)
	if err != nil {
		return nil, nil, err
	}
	if cost.IsZero() {
		return nil, nil, fmt.Errorf("%w: fill below one whole token", ErrZeroCost)
	}
	return o, cost, nil
}

// Fill takes requested base units out of an open order and returns what the buyer
// owes. The order stays open even at zero remaining.
func (b *Book) Fill(round, id uint64, buyer common.Address, requested *uint256.Int) (*Order, *uint256.Int, func(), error) {
	o, cost, err := b.quote(round, id, buyer, requested)
	if err != nil {
		return nil, nil, nil, err
	}

	prev := o.Amount
	o.Amount = new(uint256.Int).Sub(o.Amount, requested)
	undo := func() { o.Amount = prev }
	return o.Clone(), cost, undo, nil
}

// ForceCloseAll closes every open order of round, oldest first.
func (b *Book) ForceCloseAll(round uint64) ([]Closed, func()) {
	var (
		closed []Closed
		undos  []func()
	)
	for _, o := range b.rounds[round] {
		if !o.Open {
			continue
		}
		returned, undo := b.close(o)
		closed = append(closed, Closed{Order: o.Clone(), Returned: returned})
		undos = append(undos, undo)
	}
	return closed, func() {
		for i := len(undos) - 1; i >= 0; i-- {
			undos[i]()
		}
	}
}

func (b *Book) close(o *Order) (*uint256.Int, func()) {
	prev := o.Amount
	o.Open = false
	o.Amount = new(uint256.Int)
	return prev.Clone(), func() {
		o.Open = true
		o.Amount = prev
	}
}

func (b *Book) lookup(round, id uint64) (*Order, error) {
	slots := b.rounds[round]
	if id >= uint64(len(slots)) {
		return nil, fmt.Errorf("%w: round %d order %d", ErrOrderNotFound, round, id)
	}
	return slots[id], nil
}

// Order returns a copy of one slot.
func (b *Book) Order(round, id uint64) (*Order, error) {
	o, err := b.lookup(round, id)
	if err != nil {
		return nil, err
	}
	return o.Clone(), nil
}

// Orders returns copies of every slot in round, in slot order.
func (b *Book) Orders(round uint64) []*Order {
	slots := b.rounds[round]
	out := make([]*Order, len(slots))
	for i, o := range slots {
		out[i] = o.Clone()
	}
	return out
}

// OpenOrders returns copies of the open slots in round.
func (b *Book) OpenOrders(round uint64) []*Order {
	var out []*Order
	for _, o := range b.rounds[round] {
		if o.Open {
			out = append(out, o.Clone())
		}
	}
	return out
}

// Load installs a persisted order into its slot. Orders must arrive in slot order.
func (b *Book) Load(o *Order) error {
	slots := b.rounds[o.Round]
	if o.ID != uint64(len(slots)) {
		return fmt.Errorf("load order %d of round %d: next slot is %d", o.ID, o.Round, len(slots))
	}
	b.rounds[o.Round] = append(slots, o.Clone())
	return nil
}
