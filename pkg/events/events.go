// Package events defines the market's event records and the sinks they are
// dispatched to after a call commits.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

type Kind string

const (
	SaleRoundStarted   Kind = "sale_round_started"
	SaleRoundEnded     Kind = "sale_round_ended"
	TradeRoundStarted  Kind = "trade_round_started"
	TradeRoundEnded    Kind = "trade_round_ended"
	OrderPlaced        Kind = "order_placed"
	OrderCancelled     Kind = "order_cancelled"
	TokenPurchased     Kind = "token_purchased"
	ReferrerRegistered Kind = "referrer_registered"
	ReferralPaid       Kind = "referral_paid"
	FundsWithdrawn     Kind = "funds_withdrawn"
	MarketPaused       Kind = "market_paused"
	MarketUnpaused     Kind = "market_unpaused"
	RatesUpdated       Kind = "rates_updated"
)

// Event is one state transition. Which fields are set depends on Kind:
//
//	round started/ended: Round, Price, OldPrice, Amount (minted or burned), Volume, Closed
//	order placed/cancelled: Round, OrderID, Account (owner), Amount, Cost, Price
//	token purchased: Round, OrderID (trade only), Account (buyer), Counterparty
//	  (seller or treasury), Amount, Price (unit), Cost
//	referrer registered: Account (user), Counterparty (referrer)
//	referral paid: Account (payer), Counterparty (referrer), Level, Amount
//	funds withdrawn: Account (owner), Counterparty (recipient), Amount
type Event struct {
	Seq  uint64    `json:"seq"`
	Kind Kind      `json:"kind"`
	Time time.Time `json:"time"`

	Round        uint64          `json:"round,omitempty"`
	OrderID      *uint64         `json:"orderId,omitempty"`
	Account      *common.Address `json:"account,omitempty"`
	Counterparty *common.Address `json:"counterparty,omitempty"`

	Amount   *uint256.Int `json:"amount,omitempty"`
	Price    *uint256.Int `json:"price,omitempty"`
	OldPrice *uint256.Int `json:"oldPrice,omitempty"`
	Cost     *uint256.Int `json:"cost,omitempty"`
	Volume   *uint256.Int `json:"volume,omitempty"`
	Level    uint8        `json:"level,omitempty"`
	Closed   int          `json:"closed,omitempty"`
}

// Addr is a helper for the optional address fields.
func Addr(a common.Address) *common.Address { return &a }

// ID is a helper for the optional order id.
func ID(id uint64) *uint64 { return &id }

// Sink receives committed events. Publish runs on the committing caller after the
// market lock is released: it may read the market, but a mutating call must use the
// ctx it was given (and is then rejected as reentrant). Publish must not block long.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

// Fanout publishes to every sink in order.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, ev Event) {
	for _, s := range f {
		s.Publish(ctx, ev)
	}
}

// LogSink writes every event to a zap logger.
type LogSink struct {
	Log *zap.SugaredLogger
}

func (s LogSink) Publish(_ context.Context, ev Event) {
	s.Log.Infow("event", "seq", ev.Seq, "kind", ev.Kind, "round", ev.Round)
}

// Recorder keeps the last N events in memory.
type Recorder struct {
	mu     sync.RWMutex
	limit  int
	events []Event
}

// NewRecorder keeps at most limit events; limit <= 0 keeps everything.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) Publish(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = append(r.events[:0:0], r.events[len(r.events)-r.limit:]...)
	}
}

// Events returns a copy of the recorded events, oldest first.
func (r *Recorder) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfKind returns the recorded events of kind k.
func (r *Recorder) OfKind(k Kind) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
