// Package round implements the Sale/Trade round state machine: opening rounds, the
// price step-up between them, mint sizing and the per-round counters.
//
// The manager only does accounting. Minting, burning and returning escrow are reported
// back to the caller, which moves the tokens.
package round

import (
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/roundmarket/pkg/app/core/units"
)

var (
	ErrNotInitialized     = errors.New("market not initialized")
	ErrAlreadyInitialized = errors.New("market already initialized")
	ErrRoundNotEnded      = errors.New("round has not ended")
	ErrWrongRoundType     = errors.New("wrong round type")
	ErrRoundExpired       = errors.New("round expired")
	ErrInsufficientSupply = errors.New("not enough tokens left in round")
	ErrZeroPrice          = errors.New("start price must be positive")
	ErrZeroVolume         = errors.New("start volume must be positive")
)

type Kind uint8

const (
	Sale Kind = iota + 1
	Trade
)

func (k Kind) String() string {
	switch k {
	case Sale:
		return "sale"
	case Trade:
		return "trade"
	default:
		return "unknown"
	}
}

// Round is one phase of the market. Only the current round is ever mutated.
type Round struct {
	ID          uint64       `json:"id"`
	Kind        Kind         `json:"kind"`
	Start       time.Time    `json:"start"`
	End         time.Time    `json:"end"`
	Price       *uint256.Int `json:"price"`
	TokensLeft  *uint256.Int `json:"tokensLeft"`
	TradeVolume *uint256.Int `json:"tradeVolume"`
}

func (r *Round) Clone() *Round {
	c := *r
	c.Price = units.Copy(r.Price)
	c.TokensLeft = units.Copy(r.TokensLeft)
	c.TradeVolume = units.Copy(r.TradeVolume)
	return &c
}

// Ended reports whether now is at or past the round's end.
func (r *Round) Ended(now time.Time) bool { return !now.Before(r.End) }

type Config struct {
	Duration  time.Duration
	StepRate  uint64       // bps applied to the price on Trade -> Sale
	Increment *uint256.Int // added on top of the step
	UnitScale *uint256.Int // base units per whole token
}

// Transition describes one Advance. Burn is the unsold supply of an ending Sale round,
// Mint the supply of a starting Sale round.
type Transition struct {
	Ended   *Round
	Started *Round
	Burn    *uint256.Int
	Mint    *uint256.Int
}

// Manager owns the round history. Not safe for concurrent use.
type Manager struct {
	cfg    Config
	rounds []*Round // rounds[i].ID == i+1
}

func NewManager(cfg Config) *Manager {
	cfg.Increment = units.Copy(cfg.Increment)
	cfg.UnitScale = units.Copy(cfg.UnitScale)
	return &Manager{cfg: cfg}
}

func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) SetStepRate(rate uint64) { m.cfg.StepRate = rate }

func (m *Manager) Initialized() bool { return len(m.rounds) > 0 }

// Initialize opens Sale round 1 with floor(volume/price) whole tokens of supply and
// returns the amount to mint into custody.
func (m *Manager) Initialize(now time.Time, price, volume *uint256.Int) (*Round, *uint256.Int, func(), error) {
	if m.Initialized() {
		return nil, nil, nil, ErrAlreadyInitialized
	}
	if units.IsZero(price) {
		return nil, nil, nil, ErrZeroPrice
	}
	if units.IsZero(volume) {
		return nil, nil, nil, ErrZeroVolume
	}
	mint, err := units.MintAmount(volume, price, m.cfg.UnitScale)
	if err != nil {
		return nil, nil, nil, err
	}
	r := m.open(now, Sale, price.Clone(), mint.Clone())
	return r.Clone(), mint, m.truncate(0), nil
}

// Advance closes the current round once its end time has passed and opens the next.
func (m *Manager) Advance(now time.Time) (*Transition, func(), error) {
	cur, err := m.current()
	if err != nil {
		return nil, nil, err
	}
	if !cur.Ended(now) {
		return nil, nil, fmt.Errorf("%w: round %d ends at %s", ErrRoundNotEnded, cur.ID, cur.End.Format(time.RFC3339))
	}

	t := &Transition{Ended: cur.Clone(), Burn: new(uint256.Int), Mint: new(uint256.Int)}
	undo := m.truncate(len(m.rounds))

	switch cur.Kind {
	case Sale:
		t.Burn = units.Copy(cur.TokensLeft)
		t.Started = m.open(now, Trade, cur.Price.Clone(), new(uint256.Int)).Clone()
	case Trade:
		price, err := units.StepUp(cur.Price, m.cfg.StepRate, m.cfg.Increment)
		if err != nil {
			return nil, nil, err
		}
		mint, err := units.MintAmount(cur.TradeVolume, price, m.cfg.UnitScale)
		if err != nil {
			return nil, nil, err
		}
		t.Mint = mint
		t.Started = m.open(now, Sale, price, mint.Clone()).Clone()
	default:
		return nil, nil, fmt.Errorf("round %d has unknown kind %d", cur.ID, cur.Kind)
	}
	return t, undo, nil
}

func (m *Manager) open(now time.Time, kind Kind, price, supply *uint256.Int) *Round {
	r := &Round{
		ID:          uint64(len(m.rounds)) + 1,
		Kind:        kind,
		Start:       now,
		End:         now.Add(m.cfg.Duration),
		Price:       price,
		TokensLeft:  supply,
		TradeVolume: new(uint256.Int),
	}
	m.rounds = append(m.rounds, r)
	return r
}

func (m *Manager) truncate(n int) func() {
	return func() { m.rounds = m.rounds[:n] }
}

func (m *Manager) current() (*Round, error) {
	if len(m.rounds) == 0 {
		return nil, ErrNotInitialized
	}
	return m.rounds[len(m.rounds)-1], nil
}

// CheckSale validates a list-price purchase of amount against the current round.
func (m *Manager) CheckSale(now time.Time, amount *uint256.Int) error {
	cur, err := m.current()
	if err != nil {
		return err
	}
	if cur.Kind != Sale {
		return fmt.Errorf("%w: round %d is a %s round", ErrWrongRoundType, cur.ID, cur.Kind)
	}
	if cur.Ended(now) {
		return fmt.Errorf("%w: round %d", ErrRoundExpired, cur.ID)
	}
	if amount.Gt(cur.TokensLeft) {
		return fmt.Errorf("%w: want %s, left %s", ErrInsufficientSupply, amount.Dec(), cur.TokensLeft.Dec())
	}
	return nil
}

// Sell books a list-price sale. Selling the last token ends the round at now.
func (m *Manager) Sell(now time.Time, amount, cost *uint256.Int) (soldOut bool, undo func(), err error) {
	if err := m.CheckSale(now, amount); err != nil {
		return false, nil, err
	}
	cur, _ := m.current()
	volume, err := units.Add(cur.TradeVolume, cost)
	if err != nil {
		return false, nil, err
	}

	prev := cur.Clone()
	cur.TokensLeft = new(uint256.Int).Sub(cur.TokensLeft, amount)
	cur.TradeVolume = volume
	if cur.TokensLeft.IsZero() {
		cur.End = now
		soldOut = true
	}
	return soldOut, func() { *cur = *prev }, nil
}

// RequireKind fails with ErrWrongRoundType unless the current round is of kind k.
func (m *Manager) RequireKind(k Kind) (*Round, error) {
	cur, err := m.current()
	if err != nil {
		return nil, err
	}
	if cur.Kind != k {
		return nil, fmt.Errorf("%w: round %d is a %s round", ErrWrongRoundType, cur.ID, cur.Kind)
	}
	return cur.Clone(), nil
}

// AddEscrow raises the current round's tokensLeft by a placed order's amount.
func (m *Manager) AddEscrow(amount *uint256.Int) (func(), error) {
	return m.adjust(func(cur *Round) error {
		left, err := units.Add(cur.TokensLeft, amount)
		cur.TokensLeft = left
		return err
	})
}

// ReleaseEscrow lowers the current round's tokensLeft by a returned remainder.
func (m *Manager) ReleaseEscrow(amount *uint256.Int) (func(), error) {
	return m.adjust(func(cur *Round) error {
		left, err := units.Sub(cur.TokensLeft, amount)
		cur.TokensLeft = left
		return err
	})
}

// AddVolume adds a fill's cost to the current round's trade volume.
func (m *Manager) AddVolume(cost *uint256.Int) (func(), error) {
	return m.adjust(func(cur *Round) error {
		v, err := units.Add(cur.TradeVolume, cost)
		cur.TradeVolume = v
		return err
	})
}

func (m *Manager) adjust(fn func(*Round) error) (func(), error) {
	cur, err := m.current()
	if err != nil {
		return nil, err
	}
	prev := cur.Clone()
	if err := fn(cur); err != nil {
		*cur = *prev
		return nil, err
	}
	return func() { *cur = *prev }, nil
}

// Current returns a copy of the current round.
func (m *Manager) Current() (*Round, error) {
	cur, err := m.current()
	if err != nil {
		return nil, err
	}
	return cur.Clone(), nil
}

// Round returns a copy of round id.
func (m *Manager) Round(id uint64) (*Round, bool) {
	if id == 0 || id > uint64(len(m.rounds)) {
		return nil, false
	}
	return m.rounds[id-1].Clone(), true
}

// Rounds returns copies of every round, oldest first.
func (m *Manager) Rounds() []*Round {
	out := make([]*Round, len(m.rounds))
	for i, r := range m.rounds {
		out[i] = r.Clone()
	}
	return out
}

// Load installs a persisted round. Rounds must arrive in id order.
func (m *Manager) Load(r *Round) error {
	if r.ID != uint64(len(m.rounds))+1 {
		return fmt.Errorf("load round %d: next id is %d", r.ID, len(m.rounds)+1)
	}
	m.rounds = append(m.rounds, r.Clone())
	return nil
}
