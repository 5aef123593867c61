package market

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/roundmarket/pkg/app/core/account"
	"github.com/uhyunpark/roundmarket/pkg/app/core/admin"
	"github.com/uhyunpark/roundmarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/roundmarket/pkg/app/core/round"
	"github.com/uhyunpark/roundmarket/pkg/app/core/units"
)

// Status is a point-in-time view of the market.
type Status struct {
	Initialized bool
	Owner       common.Address
	Paused      bool
	Treasury    common.Address
	UnitScale   *uint256.Int
	Increment   *uint256.Int
	Rates       Rates
	Current     *round.Round // nil before Initialize
	Rounds      int
	OpenOrders  int
	Referrals   int
	NextSeq     uint64
}

func (m *Market) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{
		Initialized: m.rounds.Initialized(),
		Owner:       m.gate.Owner(),
		Paused:      m.gate.Status() == admin.Paused,
		Treasury:    m.cfg.Treasury,
		UnitScale:   units.Copy(m.cfg.UnitScale),
		Increment:   units.Copy(m.cfg.PriceIncrement),
		Rates:       m.cfg.Rates,
		Referrals:   m.refs.Len(),
		NextSeq:     m.nextSeq,
	}
	if cur, err := m.rounds.Current(); err == nil {
		s.Current = cur
		s.Rounds = int(cur.ID)
		s.OpenOrders = len(m.book.OpenOrders(cur.ID))
	}
	return s
}

func (m *Market) CurrentRound() (*round.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rounds.Current()
}

func (m *Market) Round(id uint64) (*round.Round, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rounds.Round(id)
}

func (m *Market) Rounds() []*round.Round {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rounds.Rounds()
}

func (m *Market) Order(roundID, orderID uint64) (*orderbook.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.Order(roundID, orderID)
}

func (m *Market) Orders(roundID uint64) []*orderbook.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.Orders(roundID)
}

func (m *Market) OpenOrders(roundID uint64) []*orderbook.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.OpenOrders(roundID)
}

// BestOffers returns up to n fillable orders of roundID, cheapest first.
func (m *Market) BestOffers(roundID uint64, n int) []*orderbook.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.BestOffers(roundID, n)
}

func (m *Market) ReferrerOf(user common.Address) (common.Address, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs.ReferrerOf(user)
}

func (m *Market) Rates() Rates {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Rates
}

// Account returns a copy of addr's ledger entry as of the last committed call.
func (m *Market) Account(addr common.Address) *account.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.Account(addr)
}

func (m *Market) Treasury() common.Address { return m.cfg.Treasury }

func (m *Market) UnitScale() *uint256.Int { return units.Copy(m.cfg.UnitScale) }
