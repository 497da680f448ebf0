package groupbuy

import (
	"errors"

	"github.com/noah-isme/backend-groupbuy/internal/tier"
)

var (
	// ErrUnknownProduct is returned when no tier schedule is registered for the product.
	ErrUnknownProduct = errors.New("group buy: unknown product")
	// ErrBatchClosed indicates a mutation against a batch that has already been finalized.
	ErrBatchClosed = errors.New("group buy: batch closed")
	// ErrNoOpenBatch indicates the engine was asked to finalize with no open batch.
	// Service.Finalize opens one first, so this signals a broken invariant.
	ErrNoOpenBatch = errors.New("group buy: no open batch")
	// ErrInvalidQuantity is returned for negative quantities and quantities above
	// the per-contribution maximum.
	ErrInvalidQuantity = errors.New("group buy: invalid quantity")
	// ErrQuantityLimit is returned when a change would push the product total past
	// the batch maximum.
	ErrQuantityLimit = errors.New("group buy: batch quantity limit reached")
	// ErrScheduleExists is returned when a product is registered twice.
	ErrScheduleExists = errors.New("group buy: schedule already registered")
	// ErrInvalidSchedule aliases the tier validation error so callers only import this package.
	ErrInvalidSchedule = tier.ErrInvalidSchedule
)
