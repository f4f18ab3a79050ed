package escrow

import "errors"

// Guard failures surfaced by the engine. Every error aborts the whole
// operation with no partial state change; none of them is retryable without
// the caller changing the input or the timing.
var (
	// Validation failures on initiation input.
	ErrInvalidID     = errors.New("escrow: id must be between 1 and 32 bytes")
	ErrSameParty     = errors.New("escrow: buyer and seller must differ")
	ErrSameAsset     = errors.New("escrow: deposit and receive assets must differ")
	ErrZeroAmount    = errors.New("escrow: amount must be positive")
	ErrInvalidExpiry = errors.New("escrow: expiry must be after creation time")

	// ErrDefinitionMismatch is returned when an initiation reuses an existing
	// identifier with different terms.
	ErrDefinitionMismatch = errors.New("escrow: identifier already exists with different definition")

	// Authorization failures.
	ErrUnauthorized       = errors.New("escrow: unauthorized caller")
	ErrUnauthorizedBuyer  = errors.New("escrow: only the buyer may perform this action")
	ErrUnauthorizedSeller = errors.New("escrow: only the seller may perform this action")
	ErrVaultRestricted    = errors.New("escrow: vault funds move only through escrow transitions")

	// State machine failures.
	ErrNotFound        = errors.New("escrow: not found")
	ErrInvalidState    = errors.New("escrow: state transition not allowed")
	ErrNothingToRefund = errors.New("escrow: no funds custodied for this side")
	ErrAlreadyRefunded = errors.New("escrow: side already refunded")

	// Temporal failures.
	ErrExpired    = errors.New("escrow: expired")
	ErrNotExpired = errors.New("escrow: expiry not reached")

	// Balance and asset failures raised by the transfer layer.
	ErrInsufficientBalance = errors.New("escrow: insufficient balance")
	ErrOverflow            = errors.New("escrow: balance overflow")
	ErrInvalidAssetType    = errors.New("escrow: invalid asset type")

	// ErrVaultNotEmpty blocks Close while custodied funds are outstanding.
	ErrVaultNotEmpty = errors.New("escrow: vault balance outstanding")
)
