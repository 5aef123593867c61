package crypto

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
)

func TestFromPrivateKeyHex(t *testing.T) {
	signer1, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	privHex := signer1.PrivateKeyHex()
	if len(privHex) != 64 {
		t.Fatalf("private key hex length = %d, want 64", len(privHex))
	}

	for _, in := range []string{privHex, "0x" + privHex, " " + privHex + "\n"} {
		signer2, err := FromPrivateKeyHex(in)
		if err != nil {
			t.Fatalf("load %q: %v", in, err)
		}
		if signer2.Address() != signer1.Address() {
			t.Errorf("address = %s, want %s", signer2.Address().Hex(), signer1.Address().Hex())
		}
	}

	if _, err := FromPrivateKeyHex("zz"); err == nil {
		t.Error("expected parse error")
	}
}

func TestSignAndRecover(t *testing.T) {
	signer, _ := GenerateKey()
	hash := eth_crypto.Keccak256([]byte("round market"))

	sig, err := signer.Sign(hash)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}

	got, err := RecoverAddress(hash, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got != signer.Address() {
		t.Errorf("recovered %s, want %s", got.Hex(), signer.Address().Hex())
	}

	// wallets send V as 27/28
	walletSig := append([]byte(nil), sig...)
	walletSig[64] += 27
	if !VerifySignature(signer.Address(), hash, walletSig) {
		t.Error("27/28 signature did not verify")
	}
	if walletSig[64] < 27 {
		t.Error("RecoverAddress mutated its input")
	}

	wrong := common.HexToAddress("0x0000000000000000000000000000000000000001")
	if VerifySignature(wrong, hash, sig) {
		t.Error("signature verified for the wrong address")
	}
}

func TestInvalidSignature(t *testing.T) {
	signer, _ := GenerateKey()
	hash := common.BytesToHash([]byte("test")).Bytes()

	if VerifySignature(signer.Address(), hash, []byte{1, 2, 3}) {
		t.Error("short signature should not verify")
	}
	if VerifySignature(signer.Address(), []byte("short"), make([]byte, 65)) {
		t.Error("short hash should not verify")
	}
	if _, err := signer.Sign([]byte("short")); err == nil {
		t.Error("signing a short hash should fail")
	}
}

func testAction(account common.Address) *ActionEIP712 {
	return &ActionEIP712{
		Kind:     2,
		Account:  account,
		Amount:   big.NewInt(3_000_000),
		Value:    big.NewInt(3000),
		OrderID:  big.NewInt(4),
		Nonce:    big.NewInt(7),
		Deadline: big.NewInt(0),
	}
}

func TestActionSignatureRoundTrip(t *testing.T) {
	signer, _ := GenerateKey()
	e := NewEIP712Signer(DefaultDomain())
	a := testAction(signer.Address())

	sig, err := e.SignAction(signer, a)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	got, err := e.RecoverActionSigner(a, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got != signer.Address() {
		t.Fatalf("recovered %s, want %s", got.Hex(), signer.Address().Hex())
	}

	// any field change moves the digest
	tampered := testAction(signer.Address())
	tampered.Value = big.NewInt(1)
	if got, _ := e.RecoverActionSigner(tampered, sig); got == signer.Address() {
		t.Error("tampered action still recovers the signer")
	}
}

func TestActionHashDependsOnDomain(t *testing.T) {
	a := testAction(common.HexToAddress("0xAA00000000000000000000000000000000000000"))

	local := NewEIP712Signer(DefaultDomain())
	other := DefaultDomain()
	other.ChainID = big.NewInt(1)
	mainnet := NewEIP712Signer(other)

	h1, err := local.HashAction(a)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := mainnet.HashAction(a)
	if err != nil {
		t.Fatal(err)
	}
	if common.BytesToHash(h1) == common.BytesToHash(h2) {
		t.Error("digest ignores chain id")
	}

	again, _ := local.HashAction(testAction(a.Account))
	if common.BytesToHash(h1) != common.BytesToHash(again) {
		t.Error("digest is not deterministic")
	}
}

func TestActionToJSON(t *testing.T) {
	e := NewEIP712Signer(DefaultDomain())
	out, err := e.ActionToJSON(testAction(common.HexToAddress("0xAA00000000000000000000000000000000000000")))
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		PrimaryType string         `json:"primaryType"`
		Message     map[string]any `json:"message"`
	}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.PrimaryType != "Action" || doc.Message["orderId"] != "4" {
		t.Errorf("typed data = %+v", doc)
	}
}
