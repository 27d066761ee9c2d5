package batchcoord

import (
	"fmt"

	pkgerrors "github.com/realestate-ai/enhance-pipeline/internal/pkg/errors"
)

var (
	// ErrUserNotFound is returned when the upload or single-image retry
	// caller's userID doesn't resolve to a row.
	ErrUserNotFound = fmt.Errorf("batchcoord: user not found: %w", pkgerrors.ErrNotFound)
	// ErrQuotaExceeded is returned when the user's credit balance can't
	// cover every job in the batch at its derived per-job cost.
	ErrQuotaExceeded = fmt.Errorf("batchcoord: quota exceeded: %w", pkgerrors.ErrInvalidArgument)
	// ErrBatchNotFound is returned when a status/cancel lookup's batchID
	// doesn't resolve to a row.
	ErrBatchNotFound = fmt.Errorf("batchcoord: batch not found: %w", pkgerrors.ErrNotFound)
	// ErrEmptyBatch is returned when an upload carries zero images.
	ErrEmptyBatch = fmt.Errorf("batchcoord: batch must contain at least one image: %w", pkgerrors.ErrInvalidArgument)
	// ErrImageNotFound is returned by RetrySingle when the original job
	// doesn't exist, or exists under a batch the caller doesn't own.
	ErrImageNotFound = fmt.Errorf("batchcoord: original image not found: %w", pkgerrors.ErrNotFound)
)
