package utils

import (
	"github.com/pkg/errors"
)

// NewUnexpectedTypeError is used when there is a type mismatch.
func NewUnexpectedTypeError(expected interface{}, actual interface{}) error {
	return errors.Errorf("expected %T but got %T", expected, actual)
}

// NewDimensionMismatchError is used when two inputs are expected to have the same length.
func NewDimensionMismatchError(what string, expected, actual int) error {
	return errors.Errorf("%s: expected %d elements but got %d", what, expected, actual)
}
