package adapter

import "errors"

// Adapter errors. Errors returned by a wrapped function itself are never
// wrapped in any of these.
var (
	// ErrNotFunction is returned when the wrapped value is not a function.
	ErrNotFunction = errors.New("adapter target is not a function")

	// ErrUninspectable is returned when a function's source cannot be located or parsed.
	ErrUninspectable = errors.New("function source cannot be inspected")

	// ErrMissingArgument is returned when a required argument has no value and no default.
	ErrMissingArgument = errors.New("missing required argument")

	// ErrInvalidArgType is returned when an argument has the wrong type.
	ErrInvalidArgType = errors.New("invalid argument type")

	// ErrInvalidMapping is returned for a name mapping that cannot apply to the function.
	ErrInvalidMapping = errors.New("invalid name mapping")

	// ErrInvalidSignature is returned when declared inputs or outputs do not fit the function.
	ErrInvalidSignature = errors.New("invalid adapter signature")
)
