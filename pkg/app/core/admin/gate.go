// Package admin is the owner and pause switch guarding the market's mutating calls.
package admin

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotOwner      = errors.New("caller is not the owner")
	ErrPaused        = errors.New("market is paused")
	ErrAlreadyPaused = errors.New("market already paused")
	ErrNotPaused     = errors.New("market is not paused")
	ErrZeroAddress   = errors.New("zero address")
)

// Status defines whether mutating calls are accepted.
type Status int8

const (
	Active Status = iota // calls accepted
	Paused               // mutating calls halted (emergency)
)

func (s Status) String() string {
	switch s {
	case Active:
		return "Active"
	case Paused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// Gate holds the owner and the pause status.
type Gate struct {
	mu     sync.RWMutex
	owner  common.Address
	status Status
}

func NewGate(owner common.Address) *Gate {
	return &Gate{owner: owner, status: Active}
}

func (g *Gate) Owner() common.Address {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.owner
}

func (g *Gate) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status
}

func (g *Gate) RequireOwner(caller common.Address) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if caller != g.owner {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller.Hex())
	}
	return nil
}

func (g *Gate) RequireNotPaused() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.status == Paused {
		return ErrPaused
	}
	return nil
}

// Pause halts mutating calls. Active -> Paused only.
func (g *Gate) Pause() error {
	return g.transition(Active, Paused, ErrAlreadyPaused)
}

// Unpause resumes mutating calls. Paused -> Active only.
func (g *Gate) Unpause() error {
	return g.transition(Paused, Active, ErrNotPaused)
}

func (g *Gate) transition(from, to Status, invalid error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status != from {
		return invalid
	}
	g.status = to
	return nil
}

// TransferOwnership hands the owner role to next.
func (g *Gate) TransferOwnership(next common.Address) error {
	if next == (common.Address{}) {
		return ErrZeroAddress
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.owner = next
	return nil
}

// Restore installs persisted state.
func (g *Gate) Restore(owner common.Address, status Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.owner = owner
	g.status = status
}
