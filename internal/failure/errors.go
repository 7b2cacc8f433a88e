// Package failure defines the error taxonomy shared by the UTRI pipeline stages.
package failure

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	// DataQuality marks malformed or insufficient input: an empty graph, an
	// all-missing column, a cohort smaller than two units.
	DataQuality Kind = "data_quality"
	// NumericDegeneracy marks a computation that hit a singular or zero-variance
	// case and was recovered locally.
	NumericDegeneracy Kind = "numeric_degeneracy"
	// Configuration marks invalid settings detected before computation starts.
	Configuration Kind = "configuration"
)

// Error is a classified pipeline error, optionally scoped to one spatial unit.
type Error struct {
	Kind  Kind
	GEOID string
	Err   error
}

func (e *Error) Error() string {
	if e.GEOID != "" {
		return fmt.Sprintf("%s [%s]: %v", e.Kind, e.GEOID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error from a message. The cause carries an eris
// stack trace.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: eris.Errorf(format, args...)}
}

// ForUnit creates a classified error scoped to a spatial unit.
func ForUnit(kind Kind, geoid string, format string, args ...any) *Error {
	return &Error{Kind: kind, GEOID: geoid, Err: eris.Errorf(format, args...)}
}

// Wrap classifies an existing error. Returns nil for a nil error.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// IsKind reports whether err (or any error in its chain) has the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// UnitOf returns the GEOID carried by the first classified error in err's chain.
func UnitOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.GEOID
	}
	return ""
}
