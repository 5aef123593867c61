// Package exchange applies signed transactions to the market. Each transaction is
// verified, its nonce consumed, and its action dispatched to the matching market call;
// the outcome goes to the transaction log and the metrics.
package exchange

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/roundmarket/pkg/app/core/market"
	"github.com/uhyunpark/roundmarket/pkg/app/core/transaction"
	"github.com/uhyunpark/roundmarket/pkg/metrics"
	"github.com/uhyunpark/roundmarket/pkg/storage"
	"github.com/uhyunpark/roundmarket/pkg/util"
)

// Result describes an applied transaction.
type Result struct {
	Seq     uint64         `json:"seq"`
	Hash    common.Hash    `json:"hash"`
	Kind    string         `json:"kind"`
	Account common.Address `json:"account"`
	Nonce   uint64         `json:"nonce"`
	OrderID *uint64        `json:"orderId,omitempty"` // set by place
}

// App is the node's transaction entry point.
type App struct {
	market   *market.Market
	verifier *transaction.Verifier
	txlog    storage.TxLog
	metrics  *metrics.Metrics
	clock    util.Clock
	log      *zap.SugaredLogger
}

// New wires an App. txlog, mets, clock and log may be nil.
func New(m *market.Market, verifier *transaction.Verifier, txlog storage.TxLog, mets *metrics.Metrics, clock util.Clock, log *zap.SugaredLogger) *App {
	if txlog == nil {
		txlog = storage.NopTxLog{}
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &App{market: m, verifier: verifier, txlog: txlog, metrics: mets, clock: clock, log: log}
}

func (a *App) Market() *market.Market { return a.market }

// Submit parses, verifies and applies one JSON-encoded signed transaction.
func (a *App) Submit(ctx context.Context, raw []byte) (*Result, error) {
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		a.observe("invalid", err)
		return nil, err
	}
	return a.Apply(ctx, tx)
}

// Apply verifies and applies a parsed transaction. A verified transaction uses up its
// nonce even when the action itself is rejected.
func (a *App) Apply(ctx context.Context, tx *transaction.SignedTransaction) (*Result, error) {
	v, err := a.verifier.Verify(tx)
	if err != nil {
		a.observe("invalid", err)
		a.log.Debugw("tx_rejected", "stage", "verify", "err", err)
		return nil, err
	}
	act := v.Action
	res := &Result{Hash: v.Hash, Kind: act.Kind.String(), Account: act.Account, Nonce: act.Nonce}

	if err := a.market.UseNonce(ctx, act.Account, act.Nonce); err != nil {
		a.observe(res.Kind, err)
		a.log.Debugw("tx_rejected", "stage", "nonce", "hash", v.Hash.Hex(), "err", err)
		return nil, err
	}

	applyErr := a.dispatch(ctx, act, res)

	rec := storage.TxRecord{
		Hash:    v.Hash,
		Account: act.Account,
		Kind:    res.Kind,
		Nonce:   act.Nonce,
		Applied: applyErr == nil,
		Time:    a.clock.Now().UTC(),
	}
	if applyErr != nil {
		rec.Error = applyErr.Error()
	}
	seq, logErr := a.txlog.AppendTx(rec)
	if logErr != nil {
		a.log.Errorw("txlog_append_failed", "hash", v.Hash.Hex(), "err", logErr)
	}
	res.Seq = seq
	a.observe(res.Kind, applyErr)

	if applyErr != nil {
		a.log.Infow("tx_failed", "hash", v.Hash.Hex(), "kind", res.Kind, "account", act.Account.Hex(), "err", applyErr)
		return res, applyErr
	}
	a.log.Infow("tx_applied", "hash", v.Hash.Hex(), "kind", res.Kind, "account", act.Account.Hex(), "seq", seq)
	return res, nil
}

func (a *App) dispatch(ctx context.Context, act *transaction.Action, res *Result) error {
	m := a.market
	switch act.Kind {
	case transaction.KindBuy:
		return m.BuyAtListPrice(ctx, act.Account, act.Amount, act.Value)
	case transaction.KindFill:
		return m.BuyFromOrder(ctx, act.Account, act.OrderID, act.Amount, act.Value)
	case transaction.KindPlace:
		id, err := m.PlaceOrder(ctx, act.Account, act.Amount, act.Cost)
		if err != nil {
			return err
		}
		res.OrderID = &id
		return nil
	case transaction.KindCancel:
		return m.CancelOrder(ctx, act.Account, act.OrderID)
	case transaction.KindRegister:
		return m.RegisterReferrer(ctx, act.Account, act.Referrer)
	case transaction.KindAdvance:
		return m.Advance(ctx, act.Account)
	case transaction.KindApprove:
		return m.Approve(ctx, act.Account, act.Recipient, act.Amount)
	case transaction.KindWithdraw:
		return m.Withdraw(ctx, act.Account, act.Recipient, act.Amount)
	case transaction.KindPause:
		return m.Pause(ctx, act.Account)
	case transaction.KindUnpause:
		return m.Unpause(ctx, act.Account)
	default:
		return fmt.Errorf("%w: unsupported kind %d", transaction.ErrMalformed, act.Kind)
	}
}

func (a *App) observe(kind string, err error) {
	if a.metrics != nil {
		a.metrics.ObserveTx(kind, err)
	}
}
