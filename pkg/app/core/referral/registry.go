// Package referral keeps the one-shot participant -> referrer edges and answers the
// fixed two-hop lookup used by the payment split.
package referral

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrSelfReferral    = errors.New("cannot refer yourself")
	ErrAlreadyReferred = errors.New("referrer already registered")
	ErrZeroAddress     = errors.New("zero address")
)

// Chain is the upstream of a paying party. Ref2 is only set when it differs from the
// payer, so a 2-cycle (A -> B -> A) never pays A its own level-2 share.
type Chain struct {
	Ref1    common.Address
	HasRef1 bool
	Ref2    common.Address
	HasRef2 bool
}

// Registry maps each participant to at most one referrer. Every node has out-degree
// at most one. Not safe for concurrent use; the market serialises access.
type Registry struct {
	parents map[common.Address]common.Address
}

func NewRegistry() *Registry {
	return &Registry{parents: make(map[common.Address]common.Address)}
}

// Register sets user's referrer once. The returned func removes the edge again and is
// only meant for unwinding a call that failed later on.
func (r *Registry) Register(user, referrer common.Address) (func(), error) {
	if user == (common.Address{}) || referrer == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if user == referrer {
		return nil, ErrSelfReferral
	}
	if _, exists := r.parents[user]; exists {
		return nil, ErrAlreadyReferred
	}
	r.parents[user] = referrer
	return func() { delete(r.parents, user) }, nil
}

// ReferrerOf returns the direct referrer of user.
func (r *Registry) ReferrerOf(user common.Address) (common.Address, bool) {
	ref, ok := r.parents[user]
	return ref, ok
}

// ChainOf walks at most two hops up from payer.
func (r *Registry) ChainOf(payer common.Address) Chain {
	var c Chain
	ref1, ok := r.parents[payer]
	if !ok {
		return c
	}
	c.Ref1, c.HasRef1 = ref1, true

	ref2, ok := r.parents[ref1]
	if ok && ref2 != payer {
		c.Ref2, c.HasRef2 = ref2, true
	}
	return c
}

// Load installs a persisted edge without validation.
func (r *Registry) Load(user, referrer common.Address) {
	r.parents[user] = referrer
}

// Len returns the number of registered edges.
func (r *Registry) Len() int { return len(r.parents) }
