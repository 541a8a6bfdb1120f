package engine

import "errors"

// Engine-level error kinds. Callers should compare with errors.Is; the
// concrete values never carry per-call state so they are safe sentinels.
var (
	// ErrValidation reports malformed input: bad side, non-positive qty/price.
	ErrValidation = errors.New("validation error")

	// ErrNotFound reports that cancel/modify/status targeted an unknown
	// order id for the given symbol.
	ErrNotFound = errors.New("order not found")

	// ErrInvalidQuantity reports a modify with new_qty below the order's
	// current filled_qty.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrDuplicateOrder is part of the §7 error taxonomy for a submit
	// reusing a previously accepted id. The engine mints order ids itself
	// (uuid.New in Submit), so this can never actually occur under the
	// current server-assigned-id model; kept defined so the taxonomy stays
	// complete for a future client-supplied-id mode.
	ErrDuplicateOrder = errors.New("duplicate order id")

	// ErrPersistence reports that the journal or snapshot write backing a
	// mutation failed; the mutation itself is rolled back before this is
	// returned.
	ErrPersistence = errors.New("persistence error")

	// ErrCorruption reports that recovery found a snapshot or journal that
	// failed its checksum or was internally inconsistent.
	ErrCorruption = errors.New("corruption detected during recovery")
)
