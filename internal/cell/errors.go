package cell

import "errors"

// Cell errors.
var (
	// ErrInvalidName is returned when a cell name is not a valid identifier.
	ErrInvalidName = errors.New("invalid cell name")

	// ErrImmutable is returned when writing a different value to an immutable cell.
	ErrImmutable = errors.New("cell is immutable")

	// ErrRestricted is returned when a cell's restriction rejects a value.
	ErrRestricted = errors.New("value rejected by cell restriction")

	// ErrTypeMismatch is returned when a value cannot be stored as the declared type.
	ErrTypeMismatch = errors.New("value does not match declared type")
)
