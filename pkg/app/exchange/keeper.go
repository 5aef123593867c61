package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/roundmarket/pkg/app/core/market"
	"github.com/uhyunpark/roundmarket/pkg/util"
)

// KeeperConfig controls the round keeper.
type KeeperConfig struct {
	Interval time.Duration  // how often the current round is checked
	Caller   common.Address // account the keeper advances rounds as
}

// DefaultKeeperConfig returns a one second poll.
func DefaultKeeperConfig(caller common.Address) KeeperConfig {
	return KeeperConfig{Interval: time.Second, Caller: caller}
}

// Keeper advances the market once the current round's end time has passed. It is an
// ordinary caller; anyone may advance an ended round.
type Keeper struct {
	market *market.Market
	cfg    KeeperConfig
	clock  util.Clock
	log    *zap.SugaredLogger
}

func NewKeeper(m *market.Market, cfg KeeperConfig, clock util.Clock, log *zap.SugaredLogger) *Keeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Keeper{market: m, cfg: cfg, clock: clock, log: log}
}

// Tick advances the round if it has ended. It reports whether a round was advanced.
func (k *Keeper) Tick(ctx context.Context) (bool, error) {
	cur, err := k.market.CurrentRound()
	if errors.Is(err, market.ErrNotInitialized) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !cur.Ended(k.clock.Now()) {
		return false, nil
	}
	if err := k.market.Advance(ctx, k.cfg.Caller); err != nil {
		// someone else advanced first, or the market is paused
		if errors.Is(err, market.ErrRoundNotEnded) || errors.Is(err, market.ErrPaused) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Start runs Tick every interval until ctx is done or the returned cancel is called.
func (k *Keeper) Start(ctx context.Context) context.CancelFunc {
	runCtx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(k.cfg.Interval)
		defer ticker.Stop()

		k.log.Infow("keeper_started", "interval", k.cfg.Interval, "caller", k.cfg.Caller.Hex())
		advanced := 0
		for {
			select {
			case <-runCtx.Done():
				k.log.Infow("keeper_stopped", "rounds_advanced", advanced)
				return
			case <-ticker.C:
				ok, err := k.Tick(runCtx)
				if err != nil {
					k.log.Warnw("keeper_advance_failed", "err", err)
					continue
				}
				if ok {
					advanced++
					if cur, err := k.market.CurrentRound(); err == nil {
						k.log.Infow("round_advanced", "round", cur.ID, "kind", cur.Kind.String(), "price", cur.Price.Dec())
					}
				}
			}
		}
	}()

	return cancel
}
