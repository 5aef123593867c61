package account

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/roundmarket/pkg/app/core/units"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrZeroAddress           = errors.New("zero address")
	ErrStaleNonce            = errors.New("nonce must increase")
)

// Loader reads a persisted account. A nil account with nil error means not found.
type Loader interface {
	LoadAccount(addr common.Address) (*Account, error)
}

// ReceiveHook runs after native value lands in an account. A non-nil error rejects
// the transfer. Hooks stand in for contract receivers and are not persisted.
//
// A hook runs inside the market call that sent the value, with that call's lock held.
// Calls back into the market must pass the hook's ctx (they then fail as reentrant);
// market queries, or calls made with any other context, block until the outer call
// returns and so deadlock.
type ReceiveHook func(ctx context.Context, from common.Address, amount *uint256.Int) error

// Manager is the token and native-value ledger. Every mutation is journaled so a
// failed call can be rolled back to a snapshot; accounts touched since the last
// Finalise are reported by Dirty for persistence.
type Manager struct {
	mu       sync.RWMutex
	accounts map[common.Address]*Account // address -> account (in-memory cache)
	loader   Loader                      // may be nil

	journal []func()
	dirty   map[common.Address]struct{}
	hooks   map[common.Address]ReceiveHook

	log *zap.SugaredLogger
}

// NewManager creates a ledger that lazily loads accounts through loader.
func NewManager(loader Loader, log *zap.SugaredLogger) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{
		accounts: make(map[common.Address]*Account),
		loader:   loader,
		dirty:    make(map[common.Address]struct{}),
		hooks:    make(map[common.Address]ReceiveHook),
		log:      log,
	}
}

// getLocked returns the live account, loading or creating it. Assumes mu is held.
func (m *Manager) getLocked(addr common.Address) *Account {
	if acc, ok := m.accounts[addr]; ok {
		return acc
	}
	var acc *Account
	if m.loader != nil {
		loaded, err := m.loader.LoadAccount(addr)
		if err != nil {
			// Don't fail, start from an empty account.
			m.log.Warnw("account_load_failed", "address", addr.Hex(), "err", err)
		}
		acc = loaded
	}
	if acc == nil {
		acc = NewAccount(addr)
	}
	acc.normalize()
	m.accounts[addr] = acc
	return acc
}

// touch journals the current state of addr so it can be restored, then marks it dirty.
func (m *Manager) touch(addr common.Address) *Account {
	acc := m.getLocked(addr)
	prev := acc.Clone()
	m.journal = append(m.journal, func() { *m.accounts[addr] = *prev })
	m.dirty[addr] = struct{}{}
	return acc
}

// Account returns a copy of addr's account.
func (m *Manager) Account(addr common.Address) *Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(addr).Clone()
}

// BalanceOf returns the token balance of addr.
func (m *Manager) BalanceOf(addr common.Address) *uint256.Int {
	return m.Account(addr).Tokens
}

// ValueOf returns the native balance of addr.
func (m *Manager) ValueOf(addr common.Address) *uint256.Int {
	return m.Account(addr).Native
}

func (m *Manager) Allowance(owner, spender common.Address) *uint256.Int {
	return m.Account(owner).Allowance(spender)
}

func (m *Manager) NonceOf(addr common.Address) uint64 {
	return m.Account(addr).Nonce
}

// UseNonce records nonce as addr's latest; it must be greater than the current one.
func (m *Manager) UseNonce(addr common.Address, nonce uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc := m.getLocked(addr)
	if nonce <= acc.Nonce {
		return fmt.Errorf("%w: got %d, last %d", ErrStaleNonce, nonce, acc.Nonce)
	}
	m.touch(addr).Nonce = nonce
	return nil
}

// Mint creates tokens in to.
func (m *Manager) Mint(to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acc := m.getLocked(to)
	sum, err := units.Add(acc.Tokens, amount)
	if err != nil {
		return err
	}
	m.touch(to).Tokens = sum
	return nil
}

// Burn destroys tokens held by from.
func (m *Manager) Burn(from common.Address, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc := m.getLocked(from)
	if amount.Gt(acc.Tokens) {
		return fmt.Errorf("%w: burn %s from %s holding %s", ErrInsufficientBalance, amount.Dec(), from.Hex(), acc.Tokens.Dec())
	}
	m.touch(from).Tokens = new(uint256.Int).Sub(acc.Tokens, amount)
	return nil
}

// Transfer moves tokens between accounts.
func (m *Manager) Transfer(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transferLocked(from, to, amount)
}

func (m *Manager) transferLocked(from, to common.Address, amount *uint256.Int) error {
	src := m.getLocked(from)
	if amount.Gt(src.Tokens) {
		return fmt.Errorf("%w: %s holds %s tokens, needs %s", ErrInsufficientBalance, from.Hex(), src.Tokens.Dec(), amount.Dec())
	}
	if from == to {
		return nil
	}
	dst := m.getLocked(to)
	sum, err := units.Add(dst.Tokens, amount)
	if err != nil {
		return err
	}
	m.touch(from).Tokens = new(uint256.Int).Sub(src.Tokens, amount)
	m.touch(to).Tokens = sum
	return nil
}

// Approve sets spender's token allowance over owner's balance.
func (m *Manager) Approve(owner, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch(owner).Allowances[spender] = amount.Clone()
	return nil
}

// TransferFrom moves owner's tokens on behalf of spender, consuming allowance.
func (m *Manager) TransferFrom(spender, owner, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := m.getLocked(owner).Allowance(spender)
	if amount.Gt(allowed) {
		return fmt.Errorf("%w: %s may move %s of %s, needs %s", ErrInsufficientAllowance, spender.Hex(), allowed.Dec(), owner.Hex(), amount.Dec())
	}
	snap := len(m.journal)
	m.touch(owner).Allowances[spender] = new(uint256.Int).Sub(allowed, amount)
	if err := m.transferLocked(owner, to, amount); err != nil {
		m.revertLocked(snap)
		return err
	}
	return nil
}

// Deposit credits native value out of thin air. Used by the devnet faucet.
func (m *Manager) Deposit(to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sum, err := units.Add(m.getLocked(to).Native, amount)
	if err != nil {
		return err
	}
	m.touch(to).Native = sum
	return nil
}

// Send moves native value and then runs the receiver's hook, if any. The hook runs
// without the ledger lock held and receives ctx unchanged. A rejecting hook undoes the
// move.
func (m *Manager) Send(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}

	m.mu.Lock()
	snap := len(m.journal)
	src := m.getLocked(from)
	if amount.Gt(src.Native) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), src.Native.Dec(), amount.Dec())
	}
	if from != to {
		sum, err := units.Add(m.getLocked(to).Native, amount)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		m.touch(from).Native = new(uint256.Int).Sub(src.Native, amount)
		m.touch(to).Native = sum
	}
	hook := m.hooks[to]
	m.mu.Unlock()

	if hook == nil {
		return nil
	}
	if err := hook(ctx, from, amount); err != nil {
		m.mu.Lock()
		m.revertLocked(snap)
		m.mu.Unlock()
		return fmt.Errorf("receiver %s rejected transfer: %w", to.Hex(), err)
	}
	return nil
}

// OnReceive installs (or with nil, removes) the receive hook of addr.
func (m *Manager) OnReceive(addr common.Address, hook ReceiveHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hook == nil {
		delete(m.hooks, addr)
		return
	}
	m.hooks[addr] = hook
}

// Snapshot returns an id to revert to.
func (m *Manager) Snapshot() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.journal)
}

// RevertToSnapshot undoes every change made after Snapshot returned id.
func (m *Manager) RevertToSnapshot(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revertLocked(id)
}

func (m *Manager) revertLocked(id int) {
	if id < 0 || id > len(m.journal) {
		return
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		m.journal[i]()
	}
	m.journal = m.journal[:id]
}

// Dirty returns copies of every account touched since the last Finalise, sorted by
// address.
func (m *Manager) Dirty() []*Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Account, 0, len(m.dirty))
	for addr := range m.dirty {
		out = append(out, m.accounts[addr].Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Cmp(out[j].Address) < 0
	})
	return out
}

// Finalise drops the journal and dirty set once changes are persisted.
func (m *Manager) Finalise() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.journal = m.journal[:0]
	m.dirty = make(map[common.Address]struct{})
}
