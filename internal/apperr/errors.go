// Package apperr holds the error taxonomy shared by the escrow engine.
//
// Callers classify errors with errors.Is against the sentinels below; every
// component wraps them with fmt.Errorf("...: %w", ...) so context survives.
package apperr

import "errors"

// Validation errors. Surfaced immediately, never retried.
var (
	ErrInvalidPublicKey          = errors.New("invalid public key")
	ErrInvalidAmount             = errors.New("invalid amount")
	ErrInvalidDistributionConfig = errors.New("invalid fee distribution config")
	ErrInvalidTransition         = errors.New("invalid escrow transition")
	ErrAlreadyFinalized          = errors.New("escrow already finalized")
	ErrInvalidSigner             = errors.New("invalid signer key")
	ErrInvalidChannel            = errors.New("invalid payment channel")
	ErrInvalidDecision           = errors.New("invalid dispute decision")
	ErrInvalidAddress            = errors.New("invalid bitcoin address")
	ErrNotFound                  = errors.New("not found")
	ErrConflict                  = errors.New("concurrent modification")
	ErrInvalidRequest            = errors.New("invalid request")
	ErrEscrowHalted              = errors.New("escrow halted pending operator review")
)

// ErrInvalidState is the name used for guard failures on confirmDelivery.
var ErrInvalidState = ErrInvalidTransition

// Funding errors raised while building a spend.
var (
	ErrNoFundsAvailable  = errors.New("no funds available at escrow address")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Chain errors. ErrNetwork is the only retryable class.
var (
	ErrNetwork           = errors.New("network error")
	ErrRejectedByNetwork = errors.New("transaction rejected by network")
)

// Fatal inconsistencies that require manual reconciliation.
var (
	ErrPartialSplitFailure = errors.New("partial split failure")
	ErrStateUnrecorded     = errors.New("funds moved but escrow state not recorded")
)

// IsRetryable reports whether err may be retried automatically.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// IsFatal reports whether err must halt automated processing of an escrow.
func IsFatal(err error) bool {
	return errors.Is(err, ErrRejectedByNetwork) ||
		errors.Is(err, ErrPartialSplitFailure) ||
		errors.Is(err, ErrStateUnrecorded)
}

var validation = []error{
	ErrInvalidPublicKey,
	ErrInvalidAmount,
	ErrInvalidDistributionConfig,
	ErrInvalidTransition,
	ErrAlreadyFinalized,
	ErrInvalidSigner,
	ErrInvalidChannel,
	ErrInvalidDecision,
	ErrInvalidAddress,
	ErrEscrowHalted,
	ErrConflict,
	ErrInvalidRequest,
}

// IsValidation reports whether err is a caller mistake rather than a fault.
func IsValidation(err error) bool {
	for _, target := range validation {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
