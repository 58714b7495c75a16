package script

import "errors"

var (
	// ErrParse is returned when model source does not parse.
	ErrParse = errors.New("script parse failed")

	// ErrForbiddenImport is returned when source imports a package outside the allowlist.
	ErrForbiddenImport = errors.New("forbidden import")

	// ErrEval is returned when the interpreter rejects the source.
	ErrEval = errors.New("script evaluation failed")

	// ErrUnknownFunc is returned for a function the source does not declare.
	ErrUnknownFunc = errors.New("function not declared in script")
)
