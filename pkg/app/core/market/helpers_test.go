package market

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/roundmarket/pkg/app/core/account"
	"github.com/uhyunpark/roundmarket/pkg/app/core/admin"
	"github.com/uhyunpark/roundmarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/roundmarket/pkg/app/core/round"
	"github.com/uhyunpark/roundmarket/pkg/app/core/units"
	"github.com/uhyunpark/roundmarket/pkg/events"
	"github.com/uhyunpark/roundmarket/pkg/util"
)

var (
	owner    = common.HexToAddress("0x0100000000000000000000000000000000000000")
	treasury = common.HexToAddress("0x7000000000000000000000000000000000000000")
	alice    = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob      = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	carol    = common.HexToAddress("0xCC00000000000000000000000000000000000000")
	dave     = common.HexToAddress("0xDD00000000000000000000000000000000000000")
)

var (
	t0         = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	scale      = units.Pow10(18)
	testRates  = Rates{Step: 500, SaleRef1: 500, SaleRef2: 300, Trade: 250}
	background = context.Background()
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

// tok returns k whole tokens in base units.
func tok(k uint64) *uint256.Int { return new(uint256.Int).Mul(u(k), scale) }

// memStore is an in-memory Store and Loader. Writes land only on Commit.
type memStore struct {
	commitErr error

	meta      *Meta
	rounds    map[uint64]*round.Round
	orders    map[[2]uint64]*orderbook.Order
	referrals map[common.Address]common.Address
	accounts  map[common.Address]*account.Account
	events    []events.Event
}

func newMemStore() *memStore {
	return &memStore{
		rounds:    make(map[uint64]*round.Round),
		orders:    make(map[[2]uint64]*orderbook.Order),
		referrals: make(map[common.Address]common.Address),
		accounts:  make(map[common.Address]*account.Account),
	}
}

func (s *memStore) NewBatch() Batch { return &memBatch{s: s} }

func (s *memStore) LoadMeta() (*Meta, error) { return s.meta, nil }

func (s *memStore) LoadRounds() ([]*round.Round, error) {
	var out []*round.Round
	for _, r := range s.rounds {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) LoadOrders() ([]*orderbook.Order, error) {
	var out []*orderbook.Order
	for _, o := range s.orders {
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Round != out[j].Round {
			return out[i].Round < out[j].Round
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memStore) LoadReferrals() (map[common.Address]common.Address, error) {
	out := make(map[common.Address]common.Address, len(s.referrals))
	for k, v := range s.referrals {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) LoadAccount(addr common.Address) (*account.Account, error) {
	if acc, ok := s.accounts[addr]; ok {
		return acc.Clone(), nil
	}
	return nil, nil
}

type memBatch struct {
	s   *memStore
	ops []func()
}

func (b *memBatch) SaveRound(r *round.Round) error {
	r = r.Clone()
	b.ops = append(b.ops, func() { b.s.rounds[r.ID] = r })
	return nil
}

func (b *memBatch) SaveOrder(o *orderbook.Order) error {
	o = o.Clone()
	b.ops = append(b.ops, func() { b.s.orders[[2]uint64{o.Round, o.ID}] = o })
	return nil
}

func (b *memBatch) SaveReferral(user, referrer common.Address) error {
	b.ops = append(b.ops, func() { b.s.referrals[user] = referrer })
	return nil
}

func (b *memBatch) SaveMeta(m *Meta) error {
	cp := *m
	b.ops = append(b.ops, func() { b.s.meta = &cp })
	return nil
}

func (b *memBatch) SaveEvent(ev events.Event) error {
	b.ops = append(b.ops, func() { b.s.events = append(b.s.events, ev) })
	return nil
}

func (b *memBatch) SaveAccount(acc *account.Account) error {
	acc = acc.Clone()
	b.ops = append(b.ops, func() { b.s.accounts[acc.Address] = acc })
	return nil
}

func (b *memBatch) Commit() error {
	if b.s.commitErr != nil {
		return b.s.commitErr
	}
	for _, op := range b.ops {
		op()
	}
	b.ops = nil
	return nil
}

func (b *memBatch) Close() error { return nil }

type harness struct {
	m      *Market
	ledger *account.Manager
	gate   *admin.Gate
	store  *memStore
	rec    *events.Recorder
	clock  *util.ManualClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := newMemStore()
	ledger := account.NewManager(store, nil)
	gate := admin.NewGate(owner)
	rec := events.NewRecorder(0)
	clock := util.NewManualClock(t0)

	m, err := New(Config{
		Treasury:       treasury,
		UnitScale:      scale,
		RoundDuration:  time.Hour,
		PriceIncrement: u(7),
		Rates:          testRates,
	}, ledger, gate, store, rec, clock, nil)
	if err != nil {
		t.Fatalf("new market: %v", err)
	}
	return &harness{m: m, ledger: ledger, gate: gate, store: store, rec: rec, clock: clock}
}

// initialized returns a harness with Sale round 1 open at price 1000 with 100 tokens.
func initialized(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t)
	if err := h.m.Initialize(background, owner, u(1000), u(100_000)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return h
}

// trading returns a harness in Trade round 2 where alice holds 5 tokens.
func trading(t *testing.T) *harness {
	t.Helper()
	h := initialized(t)
	h.fund(alice, 10_000)
	if err := h.m.BuyAtListPrice(background, alice, tok(5), u(5000)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	h.clock.Advance(time.Hour)
	if err := h.m.Advance(background, dave); err != nil {
		t.Fatalf("advance to trade: %v", err)
	}
	return h
}

func (h *harness) fund(addr common.Address, wei uint64) {
	if err := h.m.Faucet(background, addr, u(wei)); err != nil {
		panic(err)
	}
}

func (h *harness) native(addr common.Address) uint64 { return h.ledger.ValueOf(addr).Uint64() }

func (h *harness) tokens(addr common.Address) *uint256.Int { return h.ledger.BalanceOf(addr) }

func (h *harness) place(t *testing.T, seller common.Address, amount, cost *uint256.Int) uint64 {
	t.Helper()
	if err := h.m.Approve(background, seller, treasury, amount); err != nil {
		t.Fatalf("approve: %v", err)
	}
	id, err := h.m.PlaceOrder(background, seller, amount, cost)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	return id
}

func expectErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}
