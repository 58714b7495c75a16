package mediator

import "errors"

var (
	// ErrDuplicateAdapter is returned when an adapter name is already registered.
	ErrDuplicateAdapter = errors.New("adapter already registered")

	// ErrUnknownAdapter is returned for an adapter name that is not registered.
	ErrUnknownAdapter = errors.New("adapter not registered")

	// ErrUnknownName is returned when a value is requested for a name the pool does not hold.
	ErrUnknownName = errors.New("name not in pool")

	// ErrOrdering is returned when a call order is not a permutation of the registered adapters.
	ErrOrdering = errors.New("invalid call order")
)
