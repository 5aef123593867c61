package market

import (
	"errors"

	"github.com/uhyunpark/roundmarket/pkg/app/core/account"
	"github.com/uhyunpark/roundmarket/pkg/app/core/admin"
	"github.com/uhyunpark/roundmarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/roundmarket/pkg/app/core/payment"
	"github.com/uhyunpark/roundmarket/pkg/app/core/referral"
	"github.com/uhyunpark/roundmarket/pkg/app/core/round"
	"github.com/uhyunpark/roundmarket/pkg/app/core/units"
)

// Errors returned by the market. Callers match them with errors.Is.
var (
	ErrNotInitialized     = round.ErrNotInitialized
	ErrAlreadyInitialized = round.ErrAlreadyInitialized
	ErrRoundNotEnded      = round.ErrRoundNotEnded
	ErrWrongRoundType     = round.ErrWrongRoundType
	ErrRoundExpired       = round.ErrRoundExpired
	ErrInsufficientSupply = round.ErrInsufficientSupply
	ErrZeroPrice          = round.ErrZeroPrice
	ErrZeroVolume         = round.ErrZeroVolume

	ErrZeroAmount              = orderbook.ErrZeroAmount
	ErrZeroCost                = orderbook.ErrZeroCost
	ErrOrderNotFound           = orderbook.ErrOrderNotFound
	ErrOrderClosed             = orderbook.ErrOrderClosed
	ErrSelfTrade               = orderbook.ErrSelfTrade
	ErrOrderInsufficientAmount = orderbook.ErrOrderInsufficientAmount

	ErrSelfReferral    = referral.ErrSelfReferral
	ErrAlreadyReferred = referral.ErrAlreadyReferred
	ErrZeroAddress     = referral.ErrZeroAddress

	ErrTransferFailed = payment.ErrTransferFailed
	ErrInvalidRate    = payment.ErrInvalidRate

	ErrInsufficientBalance   = account.ErrInsufficientBalance
	ErrInsufficientAllowance = account.ErrInsufficientAllowance
	ErrStaleNonce            = account.ErrStaleNonce

	ErrPaused        = admin.ErrPaused
	ErrAlreadyPaused = admin.ErrAlreadyPaused
	ErrNotPaused     = admin.ErrNotPaused

	ErrOverflow = units.ErrOverflow

	ErrUnauthorized        = errors.New("unauthorized")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrReentrantCall       = errors.New("reentrant call")
	ErrPersist             = errors.New("persist market state")
)
