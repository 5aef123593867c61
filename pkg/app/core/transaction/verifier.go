package transaction

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/roundmarket/pkg/crypto"
	"github.com/uhyunpark/roundmarket/pkg/util"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrSignerMismatch   = errors.New("signer is not the action account")
	ErrExpired          = errors.New("transaction deadline passed")
	ErrStaleNonce       = errors.New("nonce already used")
)

// NonceSource reports the last nonce accepted for an account.
type NonceSource interface {
	NonceOf(addr common.Address) uint64
}

// Verified is a transaction whose signature, deadline and nonce checked out.
type Verified struct {
	Action *Action
	Signer common.Address
	Hash   common.Hash // EIP-712 digest, doubles as the transaction id
}

// Verifier checks signed transactions against one EIP-712 domain.
type Verifier struct {
	eip712 *crypto.EIP712Signer
	nonces NonceSource
	clock  util.Clock
}

// NewVerifier creates a verifier. nonces may be nil to skip the early nonce check;
// the market enforces it again when the nonce is consumed.
func NewVerifier(domain crypto.EIP712Domain, nonces NonceSource, clock util.Clock) *Verifier {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Verifier{eip712: crypto.NewEIP712Signer(domain), nonces: nonces, clock: clock}
}

func (v *Verifier) Domain() crypto.EIP712Domain { return v.eip712.Domain() }

// Verify decodes tx and checks that its account signed it, that it has not expired
// and that its nonce is above the account's last one.
func (v *Verifier) Verify(tx *SignedTransaction) (*Verified, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	action, err := tx.Action.Decode()
	if err != nil {
		return nil, err
	}
	sig, err := decodeSignature(tx.Signature)
	if err != nil {
		return nil, err
	}

	hash, err := v.eip712.HashAction(action.ToEIP712())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	signer, err := crypto.RecoverAddress(hash, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if signer != action.Account {
		return nil, fmt.Errorf("%w: recovered %s, account %s", ErrSignerMismatch, signer.Hex(), action.Account.Hex())
	}

	if action.Deadline != 0 && uint64(v.clock.Now().Unix()) > action.Deadline {
		return nil, fmt.Errorf("%w: deadline %d", ErrExpired, action.Deadline)
	}
	if v.nonces != nil {
		if last := v.nonces.NonceOf(action.Account); action.Nonce <= last {
			return nil, fmt.Errorf("%w: got %d, last %d", ErrStaleNonce, action.Nonce, last)
		}
	}

	return &Verified{Action: action, Signer: signer, Hash: common.BytesToHash(hash)}, nil
}

// Sign builds a signed envelope for action. Used by the offline signer and tests.
func Sign(e *crypto.EIP712Signer, signer *crypto.Signer, action *Action) (*SignedTransaction, error) {
	sig, err := e.SignAction(signer, action.ToEIP712())
	if err != nil {
		return nil, err
	}
	return &SignedTransaction{
		Type:      TxTypeAction,
		Action:    action.Payload(),
		Signature: "0x" + hex.EncodeToString(sig),
	}, nil
}

// decodeSignature decodes hex-encoded signature (with or without 0x prefix)
func decodeSignature(sig string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: not hex: %v", ErrInvalidSignature, err)
	}
	if len(b) != 65 {
		return nil, fmt.Errorf("%w: must be 65 bytes, got %d", ErrInvalidSignature, len(b))
	}
	return b, nil
}
