package api

// API response types for REST endpoints and WebSocket messages. Amounts are decimal
// strings in base units; the *Display fields render token amounts in whole tokens.

import (
	"time"

	"github.com/uhyunpark/roundmarket/pkg/app/core/market"
	"github.com/uhyunpark/roundmarket/pkg/events"
)

// ==============================
// REST Response Types
// ==============================

// MarketInfo is the market-wide status.
type MarketInfo struct {
	Initialized    bool         `json:"initialized"`
	Owner          string       `json:"owner"`
	Treasury       string       `json:"treasury"`
	Paused         bool         `json:"paused"`
	UnitScale      string       `json:"unitScale"`      // base units per whole token
	PriceIncrement string       `json:"priceIncrement"` // added on each sale step
	Rates          market.Rates `json:"rates"`
	Current        *RoundInfo   `json:"currentRound,omitempty"`
	Rounds         int          `json:"rounds"`
	OpenOrders     int          `json:"openOrders"`
	Referrals      int          `json:"referrals"`
	LastEventSeq   uint64       `json:"lastEventSeq"`
}

// RoundInfo is one round.
type RoundInfo struct {
	ID                uint64    `json:"id"`
	Kind              string    `json:"kind"` // "sale" or "trade"
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	Ended             bool      `json:"ended"`
	Price             string    `json:"price"` // per whole token
	TokensLeft        string    `json:"tokensLeft"`
	TokensLeftDisplay string    `json:"tokensLeftDisplay"`
	TradeVolume       string    `json:"tradeVolume"`
}

// OrderInfo is one order slot.
type OrderInfo struct {
	ID            uint64 `json:"id"`
	Round         uint64 `json:"round"`
	Owner         string `json:"owner"`
	Amount        string `json:"amount"`
	AmountDisplay string `json:"amountDisplay"`
	Cost          string `json:"cost"`
	UnitPrice     string `json:"unitPrice"`
	Open          bool   `json:"open"`
}

// AccountInfo is one account's balances.
type AccountInfo struct {
	Address           string `json:"address"`
	Nonce             uint64 `json:"nonce"`
	Native            string `json:"native"`
	Tokens            string `json:"tokens"`
	TokensDisplay     string `json:"tokensDisplay"`
	TreasuryAllowance string `json:"treasuryAllowance"`
	Referrer          string `json:"referrer,omitempty"`
}

// EventsResponse is a page of the event log.
type EventsResponse struct {
	Events []events.Event `json:"events"`
}

// ==============================
// REST Request Types
// ==============================

// Signed transactions are posted as-is to POST /api/v1/tx; see
// pkg/app/core/transaction for the envelope.

// FaucetRequest is the payload for POST /api/v1/faucet.
type FaucetRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"` // base units
}

// SubmitTxResponse is the response from transaction submission
type SubmitTxResponse struct {
	Status  string  `json:"status"` // "applied"
	Seq     uint64  `json:"seq"`
	Hash    string  `json:"hash"`
	Kind    string  `json:"kind"`
	OrderID *uint64 `json:"orderId,omitempty"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the base structure for all WebSocket messages
type WSMessage struct {
	Type    string      `json:"type"`    // "event", "subscribed", "error"
	Channel string      `json:"channel"` // channel the message was published on
	Data    interface{} `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. ["events", "round", "orders:2"]
}
