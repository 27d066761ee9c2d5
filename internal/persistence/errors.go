package persistence

import (
	"errors"
	"fmt"

	pkgerrors "github.com/realestate-ai/enhance-pipeline/internal/pkg/errors"
)

var (
	// ErrInsufficientCredits is returned by a credit hold that would drive
	// the user's balance negative.
	ErrInsufficientCredits = fmt.Errorf("persistence: insufficient credits: %w", pkgerrors.ErrInvalidArgument)
	// ErrCASExhausted is returned when a compare-and-set update loses every
	// retry attempt to a concurrent writer.
	ErrCASExhausted = errors.New("persistence: compare-and-set retries exhausted")
	// ErrNotFound wraps the shared not-found sentinel, kept local to this
	// package so callers don't need to import pkg/errors just to compare
	// against it.
	ErrNotFound = fmt.Errorf("persistence: record not found: %w", pkgerrors.ErrNotFound)
)
