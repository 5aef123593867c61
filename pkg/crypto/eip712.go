package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain separates signatures across deployments and chains.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address // zero for off-chain signing
}

// DefaultDomain is the local devnet domain.
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:    "RoundMarket",
		Version: "1",
		ChainID: big.NewInt(1337),
	}
}

// ActionEIP712 is the typed struct a wallet signs for every market action. Fields an
// action does not use are zero.
type ActionEIP712 struct {
	Kind      uint8          // see transaction.Kind
	Account   common.Address // signer and acting participant
	Amount    *big.Int       // token base units
	Cost      *big.Int       // order total cost
	Value     *big.Int       // native value attached to a purchase
	OrderID   *big.Int
	Referrer  common.Address
	Recipient common.Address // approve spender, withdraw target
	Nonce     *big.Int
	Deadline  *big.Int // unix seconds, 0 = no expiry
}

var actionTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Action": []apitypes.Type{
		{Name: "kind", Type: "uint8"},
		{Name: "account", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "cost", Type: "uint256"},
		{Name: "value", Type: "uint256"},
		{Name: "orderId", Type: "uint256"},
		{Name: "referrer", Type: "address"},
		{Name: "recipient", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
}

// EIP712Signer hashes, signs and verifies actions under one domain.
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	if domain.ChainID == nil {
		domain.ChainID = new(big.Int)
	}
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func (e *EIP712Signer) typedData(a *ActionEIP712) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       actionTypes,
		PrimaryType: "Action",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"kind":      fmt.Sprintf("%d", a.Kind),
			"account":   a.Account.Hex(),
			"amount":    bigString(a.Amount),
			"cost":      bigString(a.Cost),
			"value":     bigString(a.Value),
			"orderId":   bigString(a.OrderID),
			"referrer":  a.Referrer.Hex(),
			"recipient": a.Recipient.Hex(),
			"nonce":     bigString(a.Nonce),
			"deadline":  bigString(a.Deadline),
		},
	}
}

// HashAction returns the EIP-712 digest of a:
// keccak256("\x19\x01" || domainSeparator || hashStruct(action)).
func (e *EIP712Signer) HashAction(a *ActionEIP712) ([]byte, error) {
	td := e.typedData(a)

	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	structHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash action: %w", err)
	}

	raw := make([]byte, 0, 2+len(domainSeparator)+len(structHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, structHash...)
	return crypto.Keccak256(raw), nil
}

func (e *EIP712Signer) SignAction(signer *Signer, a *ActionEIP712) ([]byte, error) {
	hash, err := e.HashAction(a)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign action: %w", err)
	}
	return sig, nil
}

// RecoverActionSigner returns the address that signed a.
func (e *EIP712Signer) RecoverActionSigner(a *ActionEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashAction(a)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, signature)
}

// ActionToJSON renders a as eth_signTypedData_v4 input for browser wallets.
func (e *EIP712Signer) ActionToJSON(a *ActionEIP712) (string, error) {
	b, err := json.MarshalIndent(e.typedData(a), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal typed data: %w", err)
	}
	return string(b), nil
}
