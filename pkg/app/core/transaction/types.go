package transaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/roundmarket/pkg/crypto"
)

var ErrMalformed = errors.New("malformed transaction")

// TxType represents the type of transaction
type TxType string

const (
	TxTypeAction TxType = "action" // EIP-712 signed market action
)

// Kind is the market operation an action invokes.
type Kind uint8

const (
	KindBuy      Kind = iota + 1 // buy at list price in a sale round
	KindFill                     // buy from an order in a trade round
	KindPlace                    // list tokens in a trade round
	KindCancel                   // cancel own order
	KindRegister                 // register a referrer
	KindAdvance                  // advance an ended round
	KindApprove                  // set the treasury's token allowance
	KindWithdraw                 // owner: move treasury value out
	KindPause                    // owner
	KindUnpause                  // owner
)

var kindNames = map[Kind]string{
	KindBuy:      "buy",
	KindFill:     "fill",
	KindPlace:    "place",
	KindCancel:   "cancel",
	KindRegister: "register",
	KindAdvance:  "advance",
	KindApprove:  "approve",
	KindWithdraw: "withdraw",
	KindPause:    "pause",
	KindUnpause:  "unpause",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind accepts a kind name or its number.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		if _, ok := kindNames[Kind(n)]; ok {
			return Kind(n), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown action kind %q", ErrMalformed, s)
}

// SignedTransaction is the wire envelope submitted to the node.
type SignedTransaction struct {
	Type      TxType         `json:"type"`
	Action    *ActionPayload `json:"action"`
	Signature string         `json:"signature"` // hex, 65 bytes, 0x optional
}

// ActionPayload is the JSON form of an action. Amounts are decimal strings; empty
// means zero.
type ActionPayload struct {
	Kind      string `json:"kind"`
	Account   string `json:"account"`
	Amount    string `json:"amount,omitempty"`
	Cost      string `json:"cost,omitempty"`
	Value     string `json:"value,omitempty"`
	OrderID   string `json:"orderId,omitempty"`
	Referrer  string `json:"referrer,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Nonce     string `json:"nonce"`
	Deadline  string `json:"deadline,omitempty"`
}

// Action is a decoded, typed ActionPayload.
type Action struct {
	Kind      Kind
	Account   common.Address
	Amount    *uint256.Int
	Cost      *uint256.Int
	Value     *uint256.Int
	OrderID   uint64
	Referrer  common.Address
	Recipient common.Address
	Nonce     uint64
	Deadline  uint64
}

func parseAmount(field, s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q: %v", ErrMalformed, field, s, err)
	}
	return v, nil
}

func parseUint(field, s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrMalformed, field, s)
	}
	return n, nil
}

func parseAddress(field, s string, required bool) (common.Address, error) {
	if s == "" && !required {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s %q is not an address", ErrMalformed, field, s)
	}
	return common.HexToAddress(s), nil
}

// Decode parses and validates the payload's fields for its kind.
func (p *ActionPayload) Decode() (*Action, error) {
	kind, err := ParseKind(p.Kind)
	if err != nil {
		return nil, err
	}
	a := &Action{Kind: kind}

	if a.Account, err = parseAddress("account", p.Account, true); err != nil {
		return nil, err
	}
	if a.Referrer, err = parseAddress("referrer", p.Referrer, false); err != nil {
		return nil, err
	}
	if a.Recipient, err = parseAddress("recipient", p.Recipient, false); err != nil {
		return nil, err
	}
	if a.Amount, err = parseAmount("amount", p.Amount); err != nil {
		return nil, err
	}
	if a.Cost, err = parseAmount("cost", p.Cost); err != nil {
		return nil, err
	}
	if a.Value, err = parseAmount("value", p.Value); err != nil {
		return nil, err
	}
	if a.OrderID, err = parseUint("orderId", p.OrderID); err != nil {
		return nil, err
	}
	if a.Nonce, err = parseUint("nonce", p.Nonce); err != nil {
		return nil, err
	}
	if a.Deadline, err = parseUint("deadline", p.Deadline); err != nil {
		return nil, err
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// validate checks the fields each kind needs. Market rules are enforced by the market.
func (a *Action) validate() error {
	if a.Nonce == 0 {
		return fmt.Errorf("%w: nonce must be positive", ErrMalformed)
	}
	missing := func(field string) error {
		return fmt.Errorf("%w: %s requires %s", ErrMalformed, a.Kind, field)
	}
	switch a.Kind {
	case KindBuy, KindFill:
		if a.Amount.IsZero() {
			return missing("amount")
		}
	case KindPlace:
		if a.Amount.IsZero() {
			return missing("amount")
		}
		if a.Cost.IsZero() {
			return missing("cost")
		}
	case KindRegister:
		if a.Referrer == (common.Address{}) {
			return missing("referrer")
		}
	case KindApprove:
		if a.Recipient == (common.Address{}) {
			return missing("recipient")
		}
	case KindWithdraw:
		if a.Recipient == (common.Address{}) {
			return missing("recipient")
		}
		if a.Amount.IsZero() {
			return missing("amount")
		}
	}
	return nil
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

// ToEIP712 converts the action to the struct that is signed.
func (a *Action) ToEIP712() *crypto.ActionEIP712 {
	return &crypto.ActionEIP712{
		Kind:      uint8(a.Kind),
		Account:   a.Account,
		Amount:    toBig(a.Amount),
		Cost:      toBig(a.Cost),
		Value:     toBig(a.Value),
		OrderID:   new(big.Int).SetUint64(a.OrderID),
		Referrer:  a.Referrer,
		Recipient: a.Recipient,
		Nonce:     new(big.Int).SetUint64(a.Nonce),
		Deadline:  new(big.Int).SetUint64(a.Deadline),
	}
}

// Payload renders the action back to its JSON form.
func (a *Action) Payload() *ActionPayload {
	p := &ActionPayload{
		Kind:    a.Kind.String(),
		Account: a.Account.Hex(),
		Nonce:   strconv.FormatUint(a.Nonce, 10),
	}
	if a.Amount != nil && !a.Amount.IsZero() {
		p.Amount = a.Amount.Dec()
	}
	if a.Cost != nil && !a.Cost.IsZero() {
		p.Cost = a.Cost.Dec()
	}
	if a.Value != nil && !a.Value.IsZero() {
		p.Value = a.Value.Dec()
	}
	if a.OrderID != 0 || a.Kind == KindFill || a.Kind == KindCancel {
		p.OrderID = strconv.FormatUint(a.OrderID, 10)
	}
	if a.Referrer != (common.Address{}) {
		p.Referrer = a.Referrer.Hex()
	}
	if a.Recipient != (common.Address{}) {
		p.Recipient = a.Recipient.Hex()
	}
	if a.Deadline != 0 {
		p.Deadline = strconv.FormatUint(a.Deadline, 10)
	}
	return p
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Validate performs basic validation on transaction structure
func (tx *SignedTransaction) Validate() error {
	if tx.Type != TxTypeAction {
		return fmt.Errorf("%w: unknown transaction type %q", ErrMalformed, tx.Type)
	}
	if tx.Signature == "" {
		return fmt.Errorf("%w: missing signature", ErrMalformed)
	}
	if tx.Action == nil {
		return fmt.Errorf("%w: missing action payload", ErrMalformed)
	}
	return nil
}

// ParseTransaction decodes and structurally validates a JSON envelope.
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Example:
//
//	{
//	  "type": "action",
//	  "action": {
//	    "kind": "fill",
//	    "account": "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
//	    "amount": "2000000000000000000",
//	    "value": "4000",
//	    "orderId": "3",
//	    "nonce": "12"
//	  },
//	  "signature": "0x1234567890abcdef..."
//	}
