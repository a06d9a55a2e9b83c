package contracts

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the pipeline.
var (
	// ErrNotFound is returned by repositories when no row matches.
	ErrNotFound = errors.New("not found")

	// ErrEmptyUniverse is returned when screening leaves nothing to rank.
	ErrEmptyUniverse = errors.New("empty universe")

	// ErrNoScores is returned when scoring produced no usable entries.
	ErrNoScores = errors.New("no factor scores")

	// ErrZeroWeights is returned when configured factor weights sum to zero.
	ErrZeroWeights = errors.New("factor weights sum to zero")
)

// MissingDataError reports that a security lacks the inputs a computation
// requires, for example too little price history for 12-month momentum.
type MissingDataError struct {
	Symbol string
	Field  string
	Want   int
	Have   int
}

func (e *MissingDataError) Error() string {
	if e.Want > 0 {
		return fmt.Sprintf("%s: missing %s: need %d observations, have %d", e.Symbol, e.Field, e.Want, e.Have)
	}
	return fmt.Sprintf("%s: missing %s", e.Symbol, e.Field)
}

// DegenerateInputError reports inputs a statistic cannot be computed from,
// such as an all-identical winsorized column.
type DegenerateInputError struct {
	Stage  string
	Reason string
}

func (e *DegenerateInputError) Error() string {
	return fmt.Sprintf("%s: degenerate input: %s", e.Stage, e.Reason)
}

// IsMissingData reports whether err is a MissingDataError.
func IsMissingData(err error) bool {
	var target *MissingDataError
	return errors.As(err, &target)
}
