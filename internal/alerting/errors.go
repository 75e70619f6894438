package alerting

import (
	"errors"

	"github.com/plantops/maintwatch/internal/store"
)

// Error taxonomy shared by the pipeline, the lifecycle manager and the
// HTTP layer. Storage-level sentinels are the store's own values so
// errors.Is works across package boundaries without remapping.
var (
	ErrNotFound    = store.ErrNotFound
	ErrDuplicate   = store.ErrDuplicate
	ErrConflict    = store.ErrConflict
	ErrUnavailable = store.ErrUnavailable

	ErrInvalidState = errors.New("invalid state")
	ErrInvalidInput = errors.New("invalid input")
	ErrRateLimited  = errors.New("rate limited")
)
