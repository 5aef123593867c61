// Package market is the marketplace facade. It composes the round manager, the order
// book, the referral registry and the payment distributor, and runs every mutating
// call as one atomic step: checks, then effects, then value and token transfers,
// then a single storage batch. A failed step leaves no trace.
package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/roundmarket/pkg/app/core/account"
	"github.com/uhyunpark/roundmarket/pkg/app/core/admin"
	"github.com/uhyunpark/roundmarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/roundmarket/pkg/app/core/payment"
	"github.com/uhyunpark/roundmarket/pkg/app/core/referral"
	"github.com/uhyunpark/roundmarket/pkg/app/core/round"
	"github.com/uhyunpark/roundmarket/pkg/app/core/units"
	"github.com/uhyunpark/roundmarket/pkg/events"
	"github.com/uhyunpark/roundmarket/pkg/util"
)

// TokenLedger holds token balances.
type TokenLedger interface {
	Mint(to common.Address, amount *uint256.Int) error
	Burn(from common.Address, amount *uint256.Int) error
	Transfer(from, to common.Address, amount *uint256.Int) error
	TransferFrom(spender, owner, to common.Address, amount *uint256.Int) error
	Approve(owner, spender common.Address, amount *uint256.Int) error
	BalanceOf(addr common.Address) *uint256.Int
}

// ValueLedger holds native balances. Send receives the call's context, which carries
// the reentrancy marker; anything it calls back into the market must pass it on.
type ValueLedger interface {
	Send(ctx context.Context, from, to common.Address, amount *uint256.Int) error
	Deposit(to common.Address, amount *uint256.Int) error
	ValueOf(addr common.Address) *uint256.Int
}

// Journal rolls the ledger back after a failed call.
type Journal interface {
	Snapshot() int
	RevertToSnapshot(id int)
}

// Ledger is everything the market needs from the account layer.
type Ledger interface {
	TokenLedger
	ValueLedger
	Journal
	UseNonce(addr common.Address, nonce uint64) error
	NonceOf(addr common.Address) uint64
	Account(addr common.Address) *account.Account
	Dirty() []*account.Account
	Finalise()
}

// AdminGate guards owner-only and pausable calls.
type AdminGate interface {
	RequireNotPaused() error
	RequireOwner(caller common.Address) error
	Pause() error
	Unpause() error
	TransferOwnership(next common.Address) error
	Owner() common.Address
	Status() admin.Status
	Restore(owner common.Address, status admin.Status)
}

// Store opens write batches. A nil Store keeps the market in memory only.
type Store interface {
	NewBatch() Batch
}

type Batch interface {
	SaveRound(r *round.Round) error
	SaveOrder(o *orderbook.Order) error
	SaveReferral(user, referrer common.Address) error
	SaveMeta(m *Meta) error
	SaveEvent(ev events.Event) error
	SaveAccount(acc *account.Account) error
	Commit() error
	Close() error
}

// Loader reads back what Store wrote.
type Loader interface {
	LoadMeta() (*Meta, error)
	LoadRounds() ([]*round.Round, error)
	LoadOrders() ([]*orderbook.Order, error)
	LoadReferrals() (map[common.Address]common.Address, error)
}

// Rates is the full rate schedule, all in basis points.
type Rates struct {
	Step     uint64 `json:"stepBps"`
	SaleRef1 uint64 `json:"saleRef1Bps"`
	SaleRef2 uint64 `json:"saleRef2Bps"`
	Trade    uint64 `json:"tradeRefBps"`
}

func (r Rates) referral() payment.Rates {
	return payment.Rates{SaleRef1: r.SaleRef1, SaleRef2: r.SaleRef2, Trade: r.Trade}
}

func (r Rates) Validate() error {
	for _, f := range []struct {
		name string
		v    uint64
	}{{"step", r.Step}, {"saleRef1", r.SaleRef1}, {"saleRef2", r.SaleRef2}, {"trade", r.Trade}} {
		if f.v > units.BasisPoints {
			return fmt.Errorf("%w: %s rate %d exceeds %d", ErrInvalidRate, f.name, f.v, units.BasisPoints)
		}
	}
	return r.referral().Validate()
}

// Meta is the persisted market-wide state besides rounds, orders and referrals.
type Meta struct {
	Owner    common.Address `json:"owner"`
	Status   admin.Status   `json:"status"`
	Treasury common.Address `json:"treasury"`
	Rates    Rates          `json:"rates"`
	NextSeq  uint64         `json:"nextSeq"`
}

type Config struct {
	Treasury       common.Address // custody of minted supply, escrow and retained value
	UnitScale      *uint256.Int   // base units per whole token
	RoundDuration  time.Duration
	PriceIncrement *uint256.Int
	Rates          Rates
}

// Market is safe for concurrent use; one mutex serialises every call. Committed
// events are handed to the sink after mu is released, in sequence order.
type Market struct {
	mu sync.Mutex

	pubMu   sync.Mutex
	pending []events.Event // committed, not yet published; guarded by mu

	cfg    Config
	rounds *round.Manager
	book   *orderbook.Book
	refs   *referral.Registry
	dist   *payment.Distributor

	ledger Ledger
	gate   AdminGate
	store  Store
	sink   events.Sink
	clock  util.Clock
	log    *zap.SugaredLogger

	nextSeq uint64
}

// New wires a market. store and sink may be nil.
func New(cfg Config, ledger Ledger, gate AdminGate, store Store, sink events.Sink, clock util.Clock, log *zap.SugaredLogger) (*Market, error) {
	if cfg.Treasury == (common.Address{}) {
		return nil, fmt.Errorf("treasury: %w", ErrZeroAddress)
	}
	if units.IsZero(cfg.UnitScale) {
		return nil, fmt.Errorf("unit scale must be positive")
	}
	if cfg.RoundDuration <= 0 {
		return nil, fmt.Errorf("round duration must be positive: %s", cfg.RoundDuration)
	}
	if err := cfg.Rates.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	if sink == nil {
		sink = events.Fanout(nil)
	}

	return &Market{
		cfg: cfg,
		rounds: round.NewManager(round.Config{
			Duration:  cfg.RoundDuration,
			StepRate:  cfg.Rates.Step,
			Increment: cfg.PriceIncrement,
			UnitScale: cfg.UnitScale,
		}),
		book:    orderbook.NewBook(cfg.UnitScale),
		refs:    referral.NewRegistry(),
		dist:    payment.NewDistributor(cfg.Rates.referral()),
		ledger:  ledger,
		gate:    gate,
		store:   store,
		sink:    sink,
		clock:   clock,
		log:     log,
		nextSeq: 1,
	}, nil
}

// Restore rebuilds in-memory state from a loader. Call it once, before serving.
func (m *Market) Restore(l Loader) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta, err := l.LoadMeta()
	if err != nil {
		return fmt.Errorf("load meta: %w", err)
	}
	if meta == nil {
		return nil // fresh database
	}
	if meta.Treasury != m.cfg.Treasury {
		return fmt.Errorf("stored treasury %s does not match configured %s", meta.Treasury.Hex(), m.cfg.Treasury.Hex())
	}
	if err := m.applyRates(meta.Rates); err != nil {
		return err
	}
	m.gate.Restore(meta.Owner, meta.Status)
	m.nextSeq = meta.NextSeq

	rounds, err := l.LoadRounds()
	if err != nil {
		return fmt.Errorf("load rounds: %w", err)
	}
	for _, r := range rounds {
		if err := m.rounds.Load(r); err != nil {
			return err
		}
	}
	orders, err := l.LoadOrders()
	if err != nil {
		return fmt.Errorf("load orders: %w", err)
	}
	for _, o := range orders {
		if err := m.book.Load(o); err != nil {
			return err
		}
	}
	refs, err := l.LoadReferrals()
	if err != nil {
		return fmt.Errorf("load referrals: %w", err)
	}
	for user, ref := range refs {
		m.refs.Load(user, ref)
	}

	m.log.Infow("market_restored", "rounds", len(rounds), "orders", len(orders), "referrals", len(refs), "next_seq", m.nextSeq)
	return nil
}

func (m *Market) applyRates(r Rates) error {
	if err := m.dist.SetRates(r.referral()); err != nil {
		return err
	}
	m.rounds.SetStepRate(r.Step)
	m.cfg.Rates = r
	return nil
}

func (m *Market) meta() *Meta {
	return &Meta{
		Owner:    m.gate.Owner(),
		Status:   m.gate.Status(),
		Treasury: m.cfg.Treasury,
		Rates:    m.cfg.Rates,
		NextSeq:  m.nextSeq,
	}
}
