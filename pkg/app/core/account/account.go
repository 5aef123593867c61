package account

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/roundmarket/pkg/app/core/units"
)

// Account is one participant's ledger entry.
type Account struct {
	Address common.Address // EVM 20-byte address (0x...)
	Nonce   uint64         // last accepted transaction nonce

	Native *uint256.Int // currency balance in wei-like base units
	Tokens *uint256.Int // token balance in base units (unit scale per whole token)

	// spender -> remaining token allowance
	Allowances map[common.Address]*uint256.Int
}

// NewAccount creates an account with zero balances.
func NewAccount(addr common.Address) *Account {
	return &Account{
		Address:    addr,
		Native:     new(uint256.Int),
		Tokens:     new(uint256.Int),
		Allowances: make(map[common.Address]*uint256.Int),
	}
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	c := &Account{
		Address:    a.Address,
		Nonce:      a.Nonce,
		Native:     units.Copy(a.Native),
		Tokens:     units.Copy(a.Tokens),
		Allowances: make(map[common.Address]*uint256.Int, len(a.Allowances)),
	}
	for spender, amt := range a.Allowances {
		c.Allowances[spender] = units.Copy(amt)
	}
	return c
}

// Allowance returns the remaining allowance of spender, zero if none.
func (a *Account) Allowance(spender common.Address) *uint256.Int {
	return units.Copy(a.Allowances[spender])
}

// normalize fills fields a JSON decode may leave nil.
func (a *Account) normalize() {
	if a.Native == nil {
		a.Native = new(uint256.Int)
	}
	if a.Tokens == nil {
		a.Tokens = new(uint256.Int)
	}
	if a.Allowances == nil {
		a.Allowances = make(map[common.Address]*uint256.Int)
	}
}
