package market

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/roundmarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/roundmarket/pkg/app/core/payment"
	"github.com/uhyunpark/roundmarket/pkg/app/core/round"
	"github.com/uhyunpark/roundmarket/pkg/app/core/units"
	"github.com/uhyunpark/roundmarket/pkg/events"
)

func (m *Market) requireOwner(caller common.Address) error {
	if err := m.gate.RequireOwner(caller); err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return nil
}

// Initialize opens Sale round 1 and mints floor(volume/price) whole tokens into the
// treasury. Owner only, once.
func (m *Market) Initialize(ctx context.Context, caller common.Address, startPrice, startVolume *uint256.Int) error {
	return m.exec(ctx, "initialize", func(c *call) error {
		if err := m.requireOwner(caller); err != nil {
			return err
		}
		r, mint, undo, err := m.rounds.Initialize(c.now, startPrice, startVolume)
		if err != nil {
			return err
		}
		c.onUndo(undo)
		if !mint.IsZero() {
			if err := m.ledger.Mint(m.cfg.Treasury, mint); err != nil {
				return fmt.Errorf("mint initial supply: %w", err)
			}
		}
		c.touchRound(r.ID)
		c.meta = true
		c.emit(events.Event{Kind: events.SaleRoundStarted, Round: r.ID, Price: r.Price, Amount: mint})

		m.log.Infow("market_initialized", "round", r.ID, "price", r.Price.Dec(), "minted", mint.Dec())
		return nil
	})
}

// BuyAtListPrice sells amount base units from the current Sale round. value is what
// the buyer attaches; the excess over the cost is refunded.
func (m *Market) BuyAtListPrice(ctx context.Context, buyer common.Address, amount, value *uint256.Int) error {
	return m.exec(ctx, "buy_at_list_price", func(c *call) error {
		if err := m.gate.RequireNotPaused(); err != nil {
			return err
		}
		cur, err := m.rounds.RequireKind(round.Sale)
		if err != nil {
			return err
		}
		if units.IsZero(amount) {
			return ErrZeroAmount
		}
		if err := m.rounds.CheckSale(c.now, amount); err != nil {
			return err
		}
		cost, err := units.Cost(cur.Price, amount, m.cfg.UnitScale)
		if err != nil {
			return err
		}
		if cost.IsZero() {
			return fmt.Errorf("%w: amount %s is below one whole token", ErrZeroCost, amount.Dec())
		}
		value = units.Copy(value)
		if value.Lt(cost) {
			return fmt.Errorf("%w: sent %s, cost %s", ErrInsufficientPayment, value.Dec(), cost.Dec())
		}
		split, err := m.dist.SaleSplit(cost, m.refs.ChainOf(buyer))
		if err != nil {
			return err
		}

		// effects
		soldOut, undo, err := m.rounds.Sell(c.now, amount, cost)
		if err != nil {
			return err
		}
		c.onUndo(undo)
		c.touchRound(cur.ID)

		// interactions
		if err := m.ledger.Transfer(m.cfg.Treasury, buyer, amount); err != nil {
			return fmt.Errorf("deliver tokens: %w", err)
		}
		if err := m.settle(c, buyer, value, cost, split); err != nil {
			return err
		}

		c.emit(events.Event{
			Kind:         events.TokenPurchased,
			Round:        cur.ID,
			Account:      events.Addr(buyer),
			Counterparty: events.Addr(m.cfg.Treasury),
			Amount:       amount.Clone(),
			Price:        cur.Price,
			Cost:         cost,
		})
		m.emitReferrals(c, cur.ID, buyer, split)

		m.log.Infow("tokens_purchased", "round", cur.ID, "buyer", buyer.Hex(), "amount", amount.Dec(), "cost", cost.Dec())
		if soldOut {
			m.log.Infow("sale_round_sold_out", "round", cur.ID)
		}
		return nil
	})
}

// BuyFromOrder fills amount base units of order orderID in the current Trade round.
func (m *Market) BuyFromOrder(ctx context.Context, buyer common.Address, orderID uint64, amount, value *uint256.Int) error {
	return m.exec(ctx, "buy_from_order", func(c *call) error {
		if err := m.gate.RequireNotPaused(); err != nil {
			return err
		}
		cur, err := m.rounds.RequireKind(round.Trade)
		if err != nil {
			return err
		}
		o, cost, err := m.book.Quote(cur.ID, orderID, buyer, amount)
		if err != nil {
			return err
		}
		value = units.Copy(value)
		if value.Lt(cost) {
			return fmt.Errorf("%w: sent %s, cost %s", ErrInsufficientPayment, value.Dec(), cost.Dec())
		}
		split, err := m.dist.TradeSplit(cost, o.Owner, m.refs.ChainOf(o.Owner))
		if err != nil {
			return err
		}

		// effects
		_, _, undoFill, err := m.book.Fill(cur.ID, orderID, buyer, amount)
		if err != nil {
			return err
		}
		c.onUndo(undoFill)
		undoVolume, err := m.rounds.AddVolume(cost)
		if err != nil {
			return err
		}
		c.onUndo(undoVolume)
		c.touchOrder(cur.ID, orderID)
		c.touchRound(cur.ID)

		// interactions
		if err := m.ledger.Transfer(m.cfg.Treasury, buyer, amount); err != nil {
			return fmt.Errorf("release escrow: %w", err)
		}
		if err := m.settle(c, buyer, value, cost, split); err != nil {
			return err
		}

		c.emit(events.Event{
			Kind:         events.TokenPurchased,
			Round:        cur.ID,
			OrderID:      events.ID(orderID),
			Account:      events.Addr(buyer),
			Counterparty: events.Addr(o.Owner),
			Amount:       amount.Clone(),
			Price:        o.UnitPrice,
			Cost:         cost,
		})
		m.emitReferrals(c, cur.ID, o.Owner, split)

		m.log.Infow("order_filled", "round", cur.ID, "order", orderID, "buyer", buyer.Hex(), "seller", o.Owner.Hex(), "amount", amount.Dec(), "cost", cost.Dec())
		return nil
	})
}

// settle pulls value from the payer into the treasury, pays split out of it and
// refunds value - cost.
func (m *Market) settle(c *call, payer common.Address, value, cost *uint256.Int, split payment.Split) error {
	if !value.IsZero() {
		if err := m.ledger.Send(c.ctx, payer, m.cfg.Treasury, value); err != nil {
			if errors.Is(err, ErrInsufficientBalance) {
				return fmt.Errorf("%w: %w", ErrInsufficientPayment, err)
			}
			return fmt.Errorf("%w: collect payment: %w", ErrTransferFailed, err)
		}
	}
	if err := m.dist.Pay(c.ctx, m.ledger, m.cfg.Treasury, split); err != nil {
		return err
	}
	refund := new(uint256.Int).Sub(value, cost)
	if refund.IsZero() {
		return nil
	}
	if err := m.ledger.Send(c.ctx, m.cfg.Treasury, payer, refund); err != nil {
		return fmt.Errorf("%w: refund %s: %w", ErrTransferFailed, refund.Dec(), err)
	}
	return nil
}

func (m *Market) emitReferrals(c *call, roundID uint64, payer common.Address, split payment.Split) {
	for _, p := range split.Payouts {
		if p.Role == payment.RoleSeller || p.Amount.IsZero() {
			continue
		}
		c.emit(events.Event{
			Kind:         events.ReferralPaid,
			Round:        roundID,
			Account:      events.Addr(payer),
			Counterparty: events.Addr(p.To),
			Level:        uint8(p.Role),
			Amount:       p.Amount,
		})
	}
}

// PlaceOrder escrows amount tokens from owner into the treasury and lists them for
// cost. The owner must have approved the treasury for amount.
func (m *Market) PlaceOrder(ctx context.Context, owner common.Address, amount, cost *uint256.Int) (uint64, error) {
	var id uint64
	err := m.exec(ctx, "place_order", func(c *call) error {
		if err := m.gate.RequireNotPaused(); err != nil {
			return err
		}
		cur, err := m.rounds.RequireKind(round.Trade)
		if err != nil {
			return err
		}
		o, undo, err := m.book.Place(cur.ID, owner, amount, cost)
		if err != nil {
			return err
		}
		c.onUndo(undo)
		undoEscrow, err := m.rounds.AddEscrow(amount)
		if err != nil {
			return err
		}
		c.onUndo(undoEscrow)
		c.touchOrder(cur.ID, o.ID)
		c.touchRound(cur.ID)

		if err := m.ledger.TransferFrom(m.cfg.Treasury, owner, m.cfg.Treasury, amount); err != nil {
			return fmt.Errorf("escrow: %w", err)
		}

		c.emit(events.Event{
			Kind:    events.OrderPlaced,
			Round:   cur.ID,
			OrderID: events.ID(o.ID),
			Account: events.Addr(owner),
			Amount:  o.Amount,
			Cost:    o.Cost,
			Price:   o.UnitPrice,
		})
		m.log.Infow("order_placed", "round", cur.ID, "order", o.ID, "owner", owner.Hex(), "amount", amount.Dec(), "unit_price", o.UnitPrice.Dec())
		id = o.ID
		return nil
	})
	return id, err
}

// CancelOrder closes caller's open order in the current round and returns what is
// left of its escrow. Rejected while paused like every other mutating call.
func (m *Market) CancelOrder(ctx context.Context, caller common.Address, orderID uint64) error {
	return m.exec(ctx, "cancel_order", func(c *call) error {
		if err := m.gate.RequireNotPaused(); err != nil {
			return err
		}
		cur, err := m.rounds.Current()
		if err != nil {
			return err
		}
		returned, undo, err := m.book.Cancel(cur.ID, orderID, caller)
		if errors.Is(err, orderbook.ErrNotOwner) {
			return fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		if err != nil {
			return err
		}
		c.onUndo(undo)
		if err := m.releaseEscrow(c, caller, returned); err != nil {
			return err
		}
		c.touchOrder(cur.ID, orderID)
		c.touchRound(cur.ID)

		c.emit(events.Event{
			Kind:    events.OrderCancelled,
			Round:   cur.ID,
			OrderID: events.ID(orderID),
			Account: events.Addr(caller),
			Amount:  returned,
		})
		m.log.Infow("order_cancelled", "round", cur.ID, "order", orderID, "returned", returned.Dec())
		return nil
	})
}

func (m *Market) releaseEscrow(c *call, owner common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	undo, err := m.rounds.ReleaseEscrow(amount)
	if err != nil {
		return err
	}
	c.onUndo(undo)
	if err := m.ledger.Transfer(m.cfg.Treasury, owner, amount); err != nil {
		return fmt.Errorf("return escrow: %w", err)
	}
	return nil
}

// Advance ends the current round once its end time has passed and opens the next one.
// Anyone may call it.
func (m *Market) Advance(ctx context.Context, caller common.Address) error {
	return m.exec(ctx, "advance", func(c *call) error {
		if err := m.gate.RequireNotPaused(); err != nil {
			return err
		}
		cur, err := m.rounds.Current()
		if err != nil {
			return err
		}
		if !cur.Ended(c.now) {
			return fmt.Errorf("%w: round %d ends at %s", ErrRoundNotEnded, cur.ID, cur.End)
		}

		closed, undoClose := m.book.ForceCloseAll(cur.ID)
		c.onUndo(undoClose)
		for _, cl := range closed {
			if err := m.releaseEscrow(c, cl.Order.Owner, cl.Returned); err != nil {
				return err
			}
			c.touchOrder(cur.ID, cl.Order.ID)
			c.emit(events.Event{
				Kind:    events.OrderCancelled,
				Round:   cur.ID,
				OrderID: events.ID(cl.Order.ID),
				Account: events.Addr(cl.Order.Owner),
				Amount:  cl.Returned,
			})
		}

		t, undo, err := m.rounds.Advance(c.now)
		if err != nil {
			return err
		}
		c.onUndo(undo)
		c.touchRound(t.Ended.ID)
		c.touchRound(t.Started.ID)

		if !t.Burn.IsZero() {
			if err := m.ledger.Burn(m.cfg.Treasury, t.Burn); err != nil {
				return fmt.Errorf("burn unsold supply: %w", err)
			}
		}
		if !t.Mint.IsZero() {
			if err := m.ledger.Mint(m.cfg.Treasury, t.Mint); err != nil {
				return fmt.Errorf("mint supply: %w", err)
			}
		}

		switch t.Ended.Kind {
		case round.Sale:
			c.emit(events.Event{Kind: events.SaleRoundEnded, Round: t.Ended.ID, Price: t.Ended.Price, Amount: t.Burn, Volume: t.Ended.TradeVolume})
			c.emit(events.Event{Kind: events.TradeRoundStarted, Round: t.Started.ID, OldPrice: t.Ended.Price, Price: t.Started.Price})
		case round.Trade:
			c.emit(events.Event{Kind: events.TradeRoundEnded, Round: t.Ended.ID, Volume: t.Ended.TradeVolume, Closed: len(closed)})
			c.emit(events.Event{Kind: events.SaleRoundStarted, Round: t.Started.ID, OldPrice: t.Ended.Price, Price: t.Started.Price, Amount: t.Mint})
		}

		m.log.Infow("round_advanced",
			"caller", caller.Hex(),
			"ended", t.Ended.ID,
			"started", t.Started.ID,
			"kind", t.Started.Kind.String(),
			"price", t.Started.Price.Dec(),
			"burned", t.Burn.Dec(),
			"minted", t.Mint.Dec(),
			"force_closed", len(closed),
		)
		return nil
	})
}

// RegisterReferrer records referrer as user's upstream. Set once, never to self.
func (m *Market) RegisterReferrer(ctx context.Context, user, referrer common.Address) error {
	return m.exec(ctx, "register_referrer", func(c *call) error {
		if err := m.gate.RequireNotPaused(); err != nil {
			return err
		}
		undo, err := m.refs.Register(user, referrer)
		if err != nil {
			return err
		}
		c.onUndo(undo)
		c.referrals = append(c.referrals, [2]common.Address{user, referrer})
		c.emit(events.Event{Kind: events.ReferrerRegistered, Account: events.Addr(user), Counterparty: events.Addr(referrer)})
		m.log.Infow("referrer_registered", "user", user.Hex(), "referrer", referrer.Hex())
		return nil
	})
}

// Withdraw moves retained value out of the treasury. Owner only.
func (m *Market) Withdraw(ctx context.Context, caller, to common.Address, amount *uint256.Int) error {
	return m.exec(ctx, "withdraw", func(c *call) error {
		if err := m.gate.RequireNotPaused(); err != nil {
			return err
		}
		if err := m.requireOwner(caller); err != nil {
			return err
		}
		if to == (common.Address{}) {
			return ErrZeroAddress
		}
		if units.IsZero(amount) {
			return ErrZeroAmount
		}
		if err := m.ledger.Send(c.ctx, m.cfg.Treasury, to, amount); err != nil {
			return fmt.Errorf("%w: withdraw: %w", ErrTransferFailed, err)
		}
		c.emit(events.Event{Kind: events.FundsWithdrawn, Account: events.Addr(caller), Counterparty: events.Addr(to), Amount: amount.Clone()})
		m.log.Infow("funds_withdrawn", "to", to.Hex(), "amount", amount.Dec())
		return nil
	})
}

// SetRates replaces the rate schedule. Owner only.
func (m *Market) SetRates(ctx context.Context, caller common.Address, rates Rates) error {
	return m.exec(ctx, "set_rates", func(c *call) error {
		if err := m.gate.RequireNotPaused(); err != nil {
			return err
		}
		if err := m.requireOwner(caller); err != nil {
			return err
		}
		if err := rates.Validate(); err != nil {
			return err
		}
		prev := m.cfg.Rates
		if err := m.applyRates(rates); err != nil {
			return err
		}
		c.onUndo(func() { _ = m.applyRates(prev) })
		c.meta = true
		c.emit(events.Event{Kind: events.RatesUpdated, Account: events.Addr(caller)})
		m.log.Infow("rates_updated", "step", rates.Step, "sale_ref1", rates.SaleRef1, "sale_ref2", rates.SaleRef2, "trade", rates.Trade)
		return nil
	})
}

// Pause halts every mutating call except Unpause and nonce bookkeeping. Owner only.
func (m *Market) Pause(ctx context.Context, caller common.Address) error {
	return m.exec(ctx, "pause", func(c *call) error {
		if err := m.requireOwner(caller); err != nil {
			return err
		}
		if err := m.gate.Pause(); err != nil {
			return err
		}
		c.onUndo(func() { _ = m.gate.Unpause() })
		c.meta = true
		c.emit(events.Event{Kind: events.MarketPaused, Account: events.Addr(caller)})
		m.log.Warnw("market_paused", "by", caller.Hex())
		return nil
	})
}

// Unpause resumes the market. Owner only.
func (m *Market) Unpause(ctx context.Context, caller common.Address) error {
	return m.exec(ctx, "unpause", func(c *call) error {
		if err := m.requireOwner(caller); err != nil {
			return err
		}
		if err := m.gate.Unpause(); err != nil {
			return err
		}
		c.onUndo(func() { _ = m.gate.Pause() })
		c.meta = true
		c.emit(events.Event{Kind: events.MarketUnpaused, Account: events.Addr(caller)})
		m.log.Infow("market_unpaused", "by", caller.Hex())
		return nil
	})
}

// TransferOwnership hands the owner role to next. Owner only.
func (m *Market) TransferOwnership(ctx context.Context, caller, next common.Address) error {
	return m.exec(ctx, "transfer_ownership", func(c *call) error {
		if err := m.gate.RequireNotPaused(); err != nil {
			return err
		}
		if err := m.requireOwner(caller); err != nil {
			return err
		}
		if err := m.gate.TransferOwnership(next); err != nil {
			return err
		}
		c.onUndo(func() { m.gate.Restore(caller, m.gate.Status()) })
		c.meta = true
		m.log.Infow("ownership_transferred", "from", caller.Hex(), "to", next.Hex())
		return nil
	})
}

// Approve sets spender's token allowance over owner's balance.
func (m *Market) Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error {
	return m.exec(ctx, "approve", func(c *call) error {
		if err := m.gate.RequireNotPaused(); err != nil {
			return err
		}
		return m.ledger.Approve(owner, spender, units.Copy(amount))
	})
}

// UseNonce consumes a signed transaction's nonce. It commits on its own so a nonce
// stays used even when the transaction's action fails. Not gated by pause: the
// owner's signed unpause must get through.
func (m *Market) UseNonce(ctx context.Context, addr common.Address, nonce uint64) error {
	return m.exec(ctx, "use_nonce", func(c *call) error {
		return m.ledger.UseNonce(addr, nonce)
	})
}

// Faucet credits native value to an account. Devnet only; the caller gates it.
func (m *Market) Faucet(ctx context.Context, to common.Address, amount *uint256.Int) error {
	return m.exec(ctx, "faucet", func(c *call) error {
		if err := m.gate.RequireNotPaused(); err != nil {
			return err
		}
		if units.IsZero(amount) {
			return ErrZeroAmount
		}
		return m.ledger.Deposit(to, amount)
	})
}
