package synth

import "errors"

// Every rejected operation surfaces one of these, wrapped with context.
// Nothing is retried or swallowed internally.
var (
	// Input validation
	ErrInvalidPrice   = errors.New("price must be positive")
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrRatioTooLow    = errors.New("collateral ratio below 1100 bps minimum")
	ErrPenaltyTooHigh = errors.New("liquidation penalty exceeds 10000 bps")

	// Not found
	ErrAssetExists   = errors.New("asset already exists")
	ErrAssetNotFound = errors.New("asset not found or inactive")
	ErrNoPosition    = errors.New("no open position")

	// Policy violations
	ErrInsufficientCollateral = errors.New("insufficient collateral for mint")
	ErrInsufficientSynthetic  = errors.New("insufficient synthetic balance")
	ErrNotLiquidatable        = errors.New("position is not liquidatable")

	// External collaborators
	ErrTransferFailed = errors.New("collateral transfer failed")
	ErrUnauthorized   = errors.New("caller not authorized")

	// Concurrency guard
	ErrReentrantCall = errors.New("reentrant call rejected")
)
