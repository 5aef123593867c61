package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/roundmarket/pkg/app/core/account"
	"github.com/uhyunpark/roundmarket/pkg/app/core/market"
	"github.com/uhyunpark/roundmarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/roundmarket/pkg/app/core/round"
	"github.com/uhyunpark/roundmarket/pkg/events"
)

// PebbleStore persists the market: accounts, rounds, orders, referrals, meta, the
// event log and the transaction log.
type PebbleStore struct {
	db *pebble.DB

	txMu  sync.Mutex
	txSeq uint64
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	s := &PebbleStore{db: db}
	seq, err := s.get(keyTxSeq)
	if err != nil {
		db.Close()
		return nil, err
	}
	if seq != nil {
		if s.txSeq, err = decodeUint64(seq); err != nil {
			db.Close()
			return nil, fmt.Errorf("tx sequence: %w", err)
		}
	}
	return s, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// get returns a copy of the value at key, nil if absent.
func (s *PebbleStore) get(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

// scan calls fn for every key under prefix in key order until fn returns an error.
func (s *PebbleStore) scan(prefix []byte, fn func(key, val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// NewBatch opens a write batch. Nothing is visible until Commit.
func (s *PebbleStore) NewBatch() market.Batch {
	return &Batch{b: s.db.NewBatch()}
}

// ============================================================================
// Loaders
// ============================================================================

// LoadAccount loads an account from Pebble
// Returns nil if account doesn't exist
func (s *PebbleStore) LoadAccount(addr common.Address) (*account.Account, error) {
	data, err := s.get(accountKey(addr))
	if err != nil || data == nil {
		return nil, err
	}
	var acc account.Account
	if err := decode(data, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// LoadMeta returns nil on a fresh database.
func (s *PebbleStore) LoadMeta() (*market.Meta, error) {
	data, err := s.get(keyMeta)
	if err != nil || data == nil {
		return nil, err
	}
	var m market.Meta
	if err := decode(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PebbleStore) LoadRounds() ([]*round.Round, error) {
	var rounds []*round.Round
	err := s.scan([]byte(prefixRound), func(_, val []byte) error {
		var r round.Round
		if err := decode(val, &r); err != nil {
			return err
		}
		rounds = append(rounds, &r)
		return nil
	})
	return rounds, err
}

// LoadOrders returns every order, sorted by round then slot.
func (s *PebbleStore) LoadOrders() ([]*orderbook.Order, error) {
	var orders []*orderbook.Order
	err := s.scan([]byte(prefixOrder), func(_, val []byte) error {
		var o orderbook.Order
		if err := decode(val, &o); err != nil {
			return err
		}
		orders = append(orders, &o)
		return nil
	})
	return orders, err
}

func (s *PebbleStore) LoadReferrals() (map[common.Address]common.Address, error) {
	refs := make(map[common.Address]common.Address)
	err := s.scan([]byte(prefixReferral), func(key, val []byte) error {
		user, err := referralUser(key)
		if err != nil {
			return err
		}
		refs[user] = common.BytesToAddress(val)
		return nil
	})
	return refs, err
}

// Events returns up to limit events with seq > after, oldest first.
func (s *PebbleStore) Events(after uint64, limit int) ([]events.Event, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: eventKey(after + 1),
		UpperBound: keyUpperBound([]byte(prefixEvent)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []events.Event
	for iter.First(); iter.Valid() && len(out) < limit; iter.Next() {
		var ev events.Event
		if err := decode(iter.Value(), &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, iter.Error()
}

// RecentEvents returns the latest limit events, newest first.
func (s *PebbleStore) RecentEvents(limit int) ([]events.Event, error) {
	prefix := []byte(prefixEvent)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []events.Event
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var ev events.Event
		if err := decode(iter.Value(), &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, iter.Error()
}

// ============================================================================
// Batch
// ============================================================================

// Batch is one atomic market commit.
type Batch struct {
	b *pebble.Batch
}

func (b *Batch) set(key []byte, v any) error {
	val, err := encode(v)
	if err != nil {
		return err
	}
	return b.b.Set(key, val, nil)
}

func (b *Batch) SaveAccount(acc *account.Account) error {
	return b.set(accountKey(acc.Address), acc)
}

func (b *Batch) SaveRound(r *round.Round) error {
	return b.set(roundKey(r.ID), r)
}

func (b *Batch) SaveOrder(o *orderbook.Order) error {
	return b.set(orderKey(o.Round, o.ID), o)
}

func (b *Batch) SaveReferral(user, referrer common.Address) error {
	return b.b.Set(referralKey(user), referrer.Bytes(), nil)
}

func (b *Batch) SaveMeta(m *market.Meta) error {
	return b.set(keyMeta, m)
}

func (b *Batch) SaveEvent(ev events.Event) error {
	return b.set(eventKey(ev.Seq), ev)
}

func (b *Batch) Commit() error {
	if err := b.b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (b *Batch) Close() error { return b.b.Close() }

var (
	_ market.Store   = (*PebbleStore)(nil)
	_ market.Loader  = (*PebbleStore)(nil)
	_ account.Loader = (*PebbleStore)(nil)
	_ TxLog          = (*PebbleStore)(nil)
)
