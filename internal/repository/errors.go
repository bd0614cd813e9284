package repository

import "github.com/pkg/errors"

var (
	ErrNotFound = errors.New("notification not found")
	// ErrNotEligible is returned when a conditional update matched an
	// existing record whose current state does not allow the transition.
	ErrNotEligible = errors.New("notification not eligible for this transition")
)
