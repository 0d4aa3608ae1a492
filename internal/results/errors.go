package results

import "errors"

var (
	// ErrUnknownColumn is returned when an operation names a missing column.
	ErrUnknownColumn = errors.New("unknown column")

	// ErrUnsupportedJoin is returned for join methods outside inner/left/right/outer.
	ErrUnsupportedJoin = errors.New("unsupported join method")
)
