package domain

import "errors"

var (
	// ErrInvalidParameter reports a bad window length, aggregation kind or reference date.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrQueryFailure reports an unreachable data source, a malformed metric
	// expression or a schema mismatch.
	ErrQueryFailure = errors.New("query failure")

	// ErrDivisionUndefined reports a delta computed against a zero current value.
	ErrDivisionUndefined = errors.New("division undefined")
)
