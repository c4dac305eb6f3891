package protocol

import (
	"errors"
	"fmt"
)

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Capability gate.
	ErrAccessDenied = "E_ACCESS_DENIED"

	// Shared input validation.
	ErrInvalidAmount    = "E_INVALID_AMOUNT"
	ErrInvalidInput     = "E_INVALID_INPUT"
	ErrInputTooLarge    = "E_INPUT_TOO_LARGE"
	ErrInvalidGroupSize = "E_INVALID_GROUP_SIZE"
	ErrNotFound         = "E_NOT_FOUND"

	// Ownership/authorization.
	ErrNotOwner      = "E_NOT_OWNER"
	ErrNotAuthorized = "E_NOT_AUTHORIZED"

	// Box engine.
	ErrNoSupply         = "E_NO_SUPPLY"
	ErrUnconfigured     = "E_UNCONFIGURED"
	ErrNotWhitelisted   = "E_NOT_WHITELISTED"
	ErrHourlyLimit      = "E_HOURLY_LIMIT"
	ErrAlreadyFulfilled = "E_ALREADY_FULFILLED"

	// Shard engine.
	ErrHeroMismatch    = "E_HERO_MISMATCH"
	ErrInvalidHeroTier = "E_INVALID_HERO_TIER"

	// Settlement.
	ErrPriceMismatch         = "E_PRICE_MISMATCH"
	ErrInsufficientBalance   = "E_INSUFFICIENT_BALANCE"
	ErrInsufficientAllowance = "E_INSUFFICIENT_ALLOWANCE"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:       {},
	ErrAccessDenied:          {},
	ErrInvalidAmount:         {},
	ErrInvalidInput:          {},
	ErrInputTooLarge:         {},
	ErrInvalidGroupSize:      {},
	ErrNotFound:              {},
	ErrNotOwner:              {},
	ErrNotAuthorized:         {},
	ErrNoSupply:              {},
	ErrUnconfigured:          {},
	ErrNotWhitelisted:        {},
	ErrHourlyLimit:           {},
	ErrAlreadyFulfilled:      {},
	ErrHeroMismatch:          {},
	ErrInvalidHeroTier:       {},
	ErrPriceMismatch:         {},
	ErrInsufficientBalance:   {},
	ErrInsufficientAllowance: {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// Coded is a domain error carrying one of the codes above. Operations
// surface it synchronously to the caller; the transports copy Code and
// Message into the RESULT frame verbatim.
type Coded struct {
	Code    string
	Message string
}

func (e *Coded) Error() string { return e.Code + ": " + e.Message }

func Errf(code, format string, args ...any) *Coded {
	return &Coded{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the domain code from err, or E_PROTO_BAD_REQUEST for
// errors that originated outside the state machine.
func CodeOf(err error) string {
	var c *Coded
	if errors.As(err, &c) {
		return c.Code
	}
	return ErrProtoBadRequest
}

// MessageOf returns the human-readable half of a coded error.
func MessageOf(err error) string {
	var c *Coded
	if errors.As(err, &c) {
		return c.Message
	}
	return err.Error()
}
