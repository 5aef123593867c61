package transaction

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/roundmarket/pkg/crypto"
	"github.com/uhyunpark/roundmarket/pkg/util"
)

type nonces map[common.Address]uint64

func (n nonces) NonceOf(addr common.Address) uint64 { return n[addr] }

func setup(t *testing.T) (*crypto.Signer, *crypto.EIP712Signer, *util.ManualClock) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return key, crypto.NewEIP712Signer(crypto.DefaultDomain()), util.NewManualClock(time.Unix(1_700_000_000, 0))
}

func fillAction(account common.Address, nonce uint64) *Action {
	return &Action{
		Kind:    KindFill,
		Account: account,
		Amount:  uint256.NewInt(2_000_000),
		Cost:    new(uint256.Int),
		Value:   uint256.NewInt(4000),
		OrderID: 3,
		Nonce:   nonce,
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	key, e, clock := setup(t)
	tx, err := Sign(e, key, fillAction(key.Address(), 5))
	if err != nil {
		t.Fatal(err)
	}

	// through the wire format
	raw, err := tx.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParseTransaction(raw)
	if err != nil {
		t.Fatal(err)
	}

	v := NewVerifier(crypto.DefaultDomain(), nonces{key.Address(): 4}, clock)
	got, err := v.Verify(parsed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.Signer != key.Address() || got.Action.Kind != KindFill || got.Action.OrderID != 3 {
		t.Errorf("verified = %+v", got)
	}
	if !got.Action.Value.Eq(uint256.NewInt(4000)) {
		t.Errorf("value = %s", got.Action.Value.Dec())
	}
	if got.Hash == (common.Hash{}) {
		t.Error("empty tx hash")
	}
}

func TestVerifyRejects(t *testing.T) {
	key, e, clock := setup(t)
	other, _ := crypto.GenerateKey()

	sign := func(a *Action) *SignedTransaction {
		tx, err := Sign(e, key, a)
		if err != nil {
			t.Fatal(err)
		}
		return tx
	}

	expired := fillAction(key.Address(), 1)
	expired.Deadline = uint64(clock.Now().Unix()) - 1

	forged := sign(fillAction(key.Address(), 1))
	forged.Action.Value = "1"

	impersonated := sign(fillAction(key.Address(), 1))
	impersonated.Action.Account = other.Address().Hex()

	badSig := sign(fillAction(key.Address(), 1))
	badSig.Signature = "0x1234"

	tests := []struct {
		name string
		tx   *SignedTransaction
		want error
	}{
		{"stale nonce", sign(fillAction(key.Address(), 4)), ErrStaleNonce},
		{"expired", sign(expired), ErrExpired},
		{"tampered value", forged, ErrSignerMismatch},
		{"other account", impersonated, ErrSignerMismatch},
		{"short signature", badSig, ErrInvalidSignature},
		{"wrong type", &SignedTransaction{Type: "order", Action: &ActionPayload{}, Signature: "0x00"}, ErrMalformed},
	}
	v := NewVerifier(crypto.DefaultDomain(), nonces{key.Address(): 4}, clock)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Verify(tt.tx); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestVerifyOtherDomainFails(t *testing.T) {
	key, e, clock := setup(t)
	tx, _ := Sign(e, key, fillAction(key.Address(), 1))

	d := crypto.DefaultDomain()
	d.Name = "SomethingElse"
	if _, err := NewVerifier(d, nil, clock).Verify(tx); !errors.Is(err, ErrSignerMismatch) {
		t.Fatalf("err = %v, want ErrSignerMismatch", err)
	}
}

func TestDecodeValidation(t *testing.T) {
	acct := "0xAA00000000000000000000000000000000000000"
	tests := []struct {
		name string
		p    ActionPayload
		ok   bool
	}{
		{"buy", ActionPayload{Kind: "buy", Account: acct, Amount: "10", Value: "10", Nonce: "1"}, true},
		{"buy by number", ActionPayload{Kind: "1", Account: acct, Amount: "10", Nonce: "1"}, true},
		{"buy without amount", ActionPayload{Kind: "buy", Account: acct, Nonce: "1"}, false},
		{"place without cost", ActionPayload{Kind: "place", Account: acct, Amount: "10", Nonce: "1"}, false},
		{"register without referrer", ActionPayload{Kind: "register", Account: acct, Nonce: "1"}, false},
		{"withdraw", ActionPayload{Kind: "withdraw", Account: acct, Recipient: acct, Amount: "5", Nonce: "1"}, true},
		{"advance", ActionPayload{Kind: "advance", Account: acct, Nonce: "9"}, true},
		{"zero nonce", ActionPayload{Kind: "advance", Account: acct, Nonce: "0"}, false},
		{"bad account", ActionPayload{Kind: "advance", Account: "bob", Nonce: "1"}, false},
		{"negative amount", ActionPayload{Kind: "buy", Account: acct, Amount: "-1", Nonce: "1"}, false},
		{"unknown kind", ActionPayload{Kind: "mint", Account: acct, Nonce: "1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.p.Decode()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrMalformed) {
				t.Fatalf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	a := fillAction(common.HexToAddress("0xAA00000000000000000000000000000000000000"), 8)
	a.OrderID = 0
	back, err := a.Payload().Decode()
	if err != nil {
		t.Fatal(err)
	}
	if back.OrderID != 0 || back.Nonce != 8 || !back.Amount.Eq(a.Amount) {
		t.Errorf("round trip = %+v", back)
	}
}
