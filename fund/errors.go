package fund

import (
	"errors"
	"fmt"
)

// Error kinds. Every rejection returned by a Fund wraps exactly one of these, so callers
// can branch on the kind with errors.Is and still match the specific cause.
var (
	ErrAuthorization   = errors.New("unauthorized")
	ErrValidation      = errors.New("invalid argument")
	ErrStateConflict   = errors.New("state conflict")
	ErrSlippage        = errors.New("slippage")
	ErrDeadlineExpired = errors.New("deadline expired")
)

// Authorization
var (
	ErrNotManager = fmt.Errorf("%w: caller is not the fund manager", ErrAuthorization)
)

// Validation
var (
	ErrZeroAmount            = fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	ErrAmountTooSmall        = fmt.Errorf("%w: amount too small to deploy", ErrValidation)
	ErrInsufficientIdle      = fmt.Errorf("%w: amount exceeds idle balance", ErrValidation)
	ErrInsufficientFunds     = fmt.Errorf("%w: depositor funds or allowance insufficient", ErrValidation)
	ErrInsufficientShares    = fmt.Errorf("%w: share amount exceeds balance", ErrValidation)
	ErrInsufficientAllowance = fmt.Errorf("%w: share allowance exceeded", ErrValidation)
	ErrZeroAddress           = fmt.Errorf("%w: zero address", ErrValidation)
	ErrIndexOutOfRange       = fmt.Errorf("%w: index out of range", ErrValidation)
	ErrInvalidTicks          = fmt.Errorf("%w: invalid tick range", ErrValidation)
	ErrInvalidProportion     = fmt.Errorf("%w: proportion must be in (0, 100*2^128]", ErrValidation)
	ErrUnsortedTokens        = fmt.Errorf("%w: tokens not in canonical order", ErrValidation)
	ErrInvalidPath           = fmt.Errorf("%w: malformed path", ErrValidation)
	ErrPathMismatch          = fmt.Errorf("%w: path endpoints do not match", ErrValidation)
	ErrUnverifiedToken       = fmt.Errorf("%w: token not verified", ErrValidation)
	ErrSamePosition          = fmt.Errorf("%w: source and target positions coincide", ErrValidation)
)

// State conflicts
var (
	ErrDuplicatePosition = fmt.Errorf("%w: position already exists", ErrStateConflict)
	ErrAssetsNotZero     = fmt.Errorf("%w: token still has assets in positions", ErrStateConflict)
	ErrPositionEmpty     = fmt.Errorf("%w: position is empty", ErrStateConflict)
	ErrPathNotSet        = fmt.Errorf("%w: route not configured", ErrStateConflict)
	ErrPoolNotFound      = fmt.Errorf("%w: pool not found", ErrStateConflict)
	ErrNoAssets          = fmt.Errorf("%w: shares outstanding but fund holds no assets", ErrStateConflict)
)

// Slippage
var (
	ErrPriceImpact  = fmt.Errorf("%w: price impact above maximum", ErrSlippage)
	ErrMinAmountOut = fmt.Errorf("%w: amount out below minimum", ErrSlippage)
)
