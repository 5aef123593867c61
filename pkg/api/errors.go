package api

import (
	"errors"
	"net/http"

	"github.com/uhyunpark/roundmarket/pkg/app/core/market"
	"github.com/uhyunpark/roundmarket/pkg/app/core/transaction"
)

type errorKind struct {
	err    error
	status int
	code   string
}

// errorKinds is checked in order; the first match wins.
var errorKinds = []errorKind{
	{market.ErrPersist, http.StatusInternalServerError, "persist_failed"},

	{transaction.ErrMalformed, http.StatusBadRequest, "malformed_transaction"},
	{transaction.ErrInvalidSignature, http.StatusBadRequest, "invalid_signature"},
	{transaction.ErrExpired, http.StatusBadRequest, "expired"},
	{market.ErrZeroAmount, http.StatusBadRequest, "zero_amount"},
	{market.ErrZeroCost, http.StatusBadRequest, "zero_cost"},
	{market.ErrZeroPrice, http.StatusBadRequest, "zero_price"},
	{market.ErrZeroVolume, http.StatusBadRequest, "zero_volume"},
	{market.ErrZeroAddress, http.StatusBadRequest, "zero_address"},
	{market.ErrInsufficientPayment, http.StatusBadRequest, "insufficient_payment"},
	{market.ErrInsufficientBalance, http.StatusBadRequest, "insufficient_balance"},
	{market.ErrInsufficientAllowance, http.StatusBadRequest, "insufficient_allowance"},
	{market.ErrOrderInsufficientAmount, http.StatusBadRequest, "order_insufficient_amount"},
	{market.ErrSelfTrade, http.StatusBadRequest, "self_trade"},
	{market.ErrSelfReferral, http.StatusBadRequest, "self_referral"},
	{market.ErrInvalidRate, http.StatusBadRequest, "invalid_rate"},
	{market.ErrOverflow, http.StatusBadRequest, "overflow"},
	{market.ErrTransferFailed, http.StatusBadRequest, "transfer_failed"},

	{market.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{transaction.ErrSignerMismatch, http.StatusForbidden, "signer_mismatch"},

	{market.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{market.ErrNotInitialized, http.StatusNotFound, "not_initialized"},

	{market.ErrAlreadyInitialized, http.StatusConflict, "already_initialized"},
	{market.ErrRoundNotEnded, http.StatusConflict, "round_not_ended"},
	{market.ErrWrongRoundType, http.StatusConflict, "wrong_round_type"},
	{market.ErrRoundExpired, http.StatusConflict, "round_expired"},
	{market.ErrInsufficientSupply, http.StatusConflict, "insufficient_supply"},
	{market.ErrOrderClosed, http.StatusConflict, "order_closed"},
	{market.ErrAlreadyReferred, http.StatusConflict, "already_referred"},
	{market.ErrPaused, http.StatusConflict, "paused"},
	{market.ErrAlreadyPaused, http.StatusConflict, "already_paused"},
	{market.ErrNotPaused, http.StatusConflict, "not_paused"},
	{market.ErrStaleNonce, http.StatusConflict, "stale_nonce"},
	{transaction.ErrStaleNonce, http.StatusConflict, "stale_nonce"},
	{market.ErrReentrantCall, http.StatusConflict, "reentrant_call"},
}

// classify maps a market or transaction error to its HTTP status and error code.
func classify(err error) (int, string) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.status, k.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func respondErr(w http.ResponseWriter, err error) {
	status, code := classify(err)
	respondError(w, status, code, err.Error())
}
