package market

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/roundmarket/pkg/events"
)

type callKey struct{}

// entered reports whether ctx belongs to a market call that is still running.
func entered(ctx context.Context) bool {
	v, _ := ctx.Value(callKey{}).(bool)
	return v
}

type orderRef struct{ round, id uint64 }

// call collects one mutating call's undo steps, events and dirty records.
type call struct {
	ctx context.Context
	now time.Time

	undo      []func()
	events    []events.Event
	rounds    map[uint64]struct{}
	orders    []orderRef
	referrals [][2]common.Address
	meta      bool
}

func (c *call) onUndo(fn func()) {
	if fn != nil {
		c.undo = append(c.undo, fn)
	}
}

func (c *call) emit(ev events.Event) {
	ev.Time = c.now
	c.events = append(c.events, ev)
}

func (c *call) touchRound(id uint64) { c.rounds[id] = struct{}{} }

func (c *call) touchOrder(round, id uint64) {
	c.orders = append(c.orders, orderRef{round, id})
}

// exec runs fn as one atomic call. Failures unwind fn's effects and the ledger; on
// success everything fn touched is written in one batch and its events dispatched.
func (m *Market) exec(ctx context.Context, op string, fn func(c *call) error) error {
	if entered(ctx) {
		return fmt.Errorf("%w: %s", ErrReentrantCall, op)
	}

	m.mu.Lock()
	locked := true
	defer func() {
		if locked {
			m.mu.Unlock()
		}
	}()

	c := &call{
		ctx:    context.WithValue(ctx, callKey{}, true),
		now:    m.clock.Now(),
		rounds: make(map[uint64]struct{}),
	}
	snap := m.ledger.Snapshot()

	if err := fn(c); err != nil {
		m.rollback(c, snap)
		m.log.Debugw("call_failed", "op", op, "err", err)
		return err
	}
	if err := m.commit(c); err != nil {
		m.rollback(c, snap)
		m.log.Errorw("commit_failed", "op", op, "err", err)
		return fmt.Errorf("%w: %s: %w", ErrPersist, op, err)
	}
	m.ledger.Finalise()
	m.pending = append(m.pending, c.events...)

	locked = false
	m.mu.Unlock()
	m.publish(c.ctx)
	return nil
}

// publish drains committed events to the sink without holding mu, so sinks may
// query the market. pubMu keeps batches from concurrent calls in sequence order.
// ctx carries the call marker; a mutating call made with it fails as reentrant.
func (m *Market) publish(ctx context.Context) {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()
	for {
		m.mu.Lock()
		batch := m.pending
		m.pending = nil
		m.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			m.sink.Publish(ctx, ev)
		}
	}
}

func (m *Market) rollback(c *call, snap int) {
	for i := len(c.undo) - 1; i >= 0; i-- {
		c.undo[i]()
	}
	m.ledger.RevertToSnapshot(snap)
}

// commit numbers the call's events and writes all dirty state in one batch.
func (m *Market) commit(c *call) error {
	seq := m.nextSeq
	for i := range c.events {
		c.events[i].Seq = seq
		seq++
	}
	if m.store == nil {
		m.nextSeq = seq
		return nil
	}

	b := m.store.NewBatch()
	defer b.Close()

	for _, acc := range m.ledger.Dirty() {
		if err := b.SaveAccount(acc); err != nil {
			return err
		}
	}
	for id := range c.rounds {
		r, ok := m.rounds.Round(id)
		if !ok {
			continue
		}
		if err := b.SaveRound(r); err != nil {
			return err
		}
	}
	for _, ref := range c.orders {
		o, err := m.book.Order(ref.round, ref.id)
		if err != nil {
			return err
		}
		if err := b.SaveOrder(o); err != nil {
			return err
		}
	}
	for _, edge := range c.referrals {
		if err := b.SaveReferral(edge[0], edge[1]); err != nil {
			return err
		}
	}
	for _, ev := range c.events {
		if err := b.SaveEvent(ev); err != nil {
			return err
		}
	}

	prevSeq := m.nextSeq
	m.nextSeq = seq
	if len(c.events) > 0 || c.meta {
		if err := b.SaveMeta(m.meta()); err != nil {
			m.nextSeq = prevSeq
			return err
		}
	}
	if err := b.Commit(); err != nil {
		m.nextSeq = prevSeq
		return err
	}
	return nil
}
