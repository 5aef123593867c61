package round

import (
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestManager() *Manager {
	return NewManager(Config{
		Duration:  time.Hour,
		StepRate:  500,
		Increment: u(7),
		UnitScale: u(10),
	})
}

func TestInitializeMintsFloorVolumeOverPrice(t *testing.T) {
	m := newTestManager()

	r, mint, _, err := m.Initialize(t0, u(3), u(1000))
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	// floor(1000/3) = 333 whole tokens of 10 base units
	if mint.Uint64() != 3330 {
		t.Errorf("mint = %d, want 3330", mint.Uint64())
	}
	if r.ID != 1 || r.Kind != Sale || r.TokensLeft.Uint64() != 3330 {
		t.Errorf("round = %+v", r)
	}
	if !r.End.Equal(t0.Add(time.Hour)) {
		t.Errorf("end = %s", r.End)
	}

	if _, _, _, err := m.Initialize(t0, u(3), u(1000)); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("second initialize err = %v", err)
	}
}

func TestInitializeRejectsZero(t *testing.T) {
	m := newTestManager()
	if _, _, _, err := m.Initialize(t0, u(0), u(1000)); !errors.Is(err, ErrZeroPrice) {
		t.Errorf("zero price err = %v", err)
	}
	if _, _, _, err := m.Initialize(t0, u(3), u(0)); !errors.Is(err, ErrZeroVolume) {
		t.Errorf("zero volume err = %v", err)
	}
	if _, _, err := m.Advance(t0); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("advance before init err = %v", err)
	}
}

func TestAdvanceCycle(t *testing.T) {
	m := newTestManager()
	if _, _, _, err := m.Initialize(t0, u(1000), u(100000)); err != nil {
		t.Fatal(err)
	}

	if _, _, err := m.Advance(t0.Add(59 * time.Minute)); !errors.Is(err, ErrRoundNotEnded) {
		t.Fatalf("early advance err = %v", err)
	}

	// Sale -> Trade burns unsold supply and keeps the price.
	now := t0.Add(time.Hour)
	tr, _, err := m.Advance(now)
	if err != nil {
		t.Fatalf("advance to trade: %v", err)
	}
	if tr.Burn.Uint64() != 1000 {
		t.Errorf("burn = %d, want 1000", tr.Burn.Uint64())
	}
	if tr.Started.ID != 2 || tr.Started.Kind != Trade || tr.Started.Price.Uint64() != 1000 {
		t.Errorf("started = %+v", tr.Started)
	}
	if !tr.Started.TokensLeft.IsZero() || !tr.Started.TradeVolume.IsZero() {
		t.Errorf("trade round counters not zero")
	}

	if _, err := m.AddVolume(u(52800)); err != nil {
		t.Fatal(err)
	}

	// Trade -> Sale steps the price: 1000 + 50 + 7.
	now = now.Add(time.Hour)
	tr, _, err = m.Advance(now)
	if err != nil {
		t.Fatalf("advance to sale: %v", err)
	}
	if tr.Started.Price.Uint64() != 1057 {
		t.Errorf("new price = %d, want 1057", tr.Started.Price.Uint64())
	}
	// floor(52800/1057) = 49 whole tokens
	if tr.Mint.Uint64() != 490 || tr.Started.TokensLeft.Uint64() != 490 {
		t.Errorf("mint = %d, tokensLeft = %d, want 490", tr.Mint.Uint64(), tr.Started.TokensLeft.Uint64())
	}
	if tr.Started.ID != 3 || !tr.Started.Start.Equal(now) {
		t.Errorf("started = %+v", tr.Started)
	}
}

func TestZeroVolumeCyclesAreDeterministic(t *testing.T) {
	m := newTestManager()
	m.Initialize(t0, u(1000), u(1000))

	now := t0
	var prices []uint64
	for i := 0; i < 6; i++ {
		now = now.Add(time.Hour)
		tr, _, err := m.Advance(now)
		if err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
		if tr.Started.Kind == Sale {
			prices = append(prices, tr.Started.Price.Uint64())
		}
	}
	want := []uint64{1057, 1116, 1178}
	for i := range want {
		if prices[i] != want[i] {
			t.Errorf("sale price %d = %d, want %d", i, prices[i], want[i])
		}
	}
}

func TestSellEndsRoundWhenSoldOut(t *testing.T) {
	m := newTestManager()
	m.Initialize(t0, u(10), u(50)) // 5 tokens = 50 base units

	now := t0.Add(time.Minute)
	if err := m.CheckSale(now, u(60)); !errors.Is(err, ErrInsufficientSupply) {
		t.Errorf("oversized sale err = %v", err)
	}

	soldOut, _, err := m.Sell(now, u(20), u(20))
	if err != nil || soldOut {
		t.Fatalf("sell: soldOut=%v err=%v", soldOut, err)
	}
	soldOut, _, err = m.Sell(now, u(30), u(30))
	if err != nil || !soldOut {
		t.Fatalf("final sell: soldOut=%v err=%v", soldOut, err)
	}

	cur, _ := m.Current()
	if !cur.End.Equal(now) || cur.TradeVolume.Uint64() != 50 {
		t.Errorf("round after sell-out = %+v", cur)
	}
	if _, _, err := m.Advance(now); err != nil {
		t.Errorf("advance after sell-out: %v", err)
	}
}

func TestSellRules(t *testing.T) {
	m := newTestManager()
	m.Initialize(t0, u(10), u(50))

	if err := m.CheckSale(t0.Add(time.Hour), u(10)); !errors.Is(err, ErrRoundExpired) {
		t.Errorf("expired sale err = %v", err)
	}
	m.Advance(t0.Add(time.Hour))
	if err := m.CheckSale(t0.Add(time.Hour), u(10)); !errors.Is(err, ErrWrongRoundType) {
		t.Errorf("sale in trade round err = %v", err)
	}
	if _, err := m.RequireKind(Trade); err != nil {
		t.Errorf("RequireKind(Trade): %v", err)
	}
}

func TestUndo(t *testing.T) {
	m := newTestManager()
	m.Initialize(t0, u(10), u(50))

	_, undoSell, err := m.Sell(t0, u(50), u(50))
	if err != nil {
		t.Fatal(err)
	}
	undoSell()
	cur, _ := m.Current()
	if cur.TokensLeft.Uint64() != 50 || !cur.End.Equal(t0.Add(time.Hour)) {
		t.Errorf("after undo sell: %+v", cur)
	}

	_, undoAdvance, err := m.Advance(t0.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	undoAdvance()
	if n := len(m.Rounds()); n != 1 {
		t.Errorf("rounds after undo = %d, want 1", n)
	}
}

func TestEscrowCounters(t *testing.T) {
	m := newTestManager()
	m.Initialize(t0, u(10), u(50))
	m.Advance(t0.Add(time.Hour))

	if _, err := m.AddEscrow(u(30)); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ReleaseEscrow(u(40)); err == nil {
		t.Error("release beyond escrow succeeded")
	}
	if _, err := m.ReleaseEscrow(u(10)); err != nil {
		t.Fatal(err)
	}
	cur, _ := m.Current()
	if cur.TokensLeft.Uint64() != 20 {
		t.Errorf("tokensLeft = %d, want 20", cur.TokensLeft.Uint64())
	}
}
