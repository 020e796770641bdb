package es

import "errors"

var (
	// aggregate
	ErrInvalidIdentifier           = errors.New("invalid identifier")
	ErrAttemptToChangeClosedStream = errors.New("attempt to change closed stream")
	ErrAggregateNotFound           = errors.New("aggregate not found")
	ErrUnknownAggregateType        = errors.New("unknown aggregate type")

	// store
	ErrStreamDoesNotExist        = errors.New("event stream does not exist")
	ErrUniqueConstraintViolation = errors.New("unique constraint violation")
	ErrIntegrityCheckFailed      = errors.New("integrity check failed")
	ErrStoreNoEvents             = errors.New("no events to store")

	// serialization
	ErrSerialization     = errors.New("serialization failed")
	ErrUnknownEventType  = errors.New("unknown event type")
	ErrSnapshotNotFound  = errors.New("snapshot not found")
	ErrInvalidRevertMode = errors.New("invalid revert mode")

	// provider
	ErrDuplicateAggregate    = errors.New("duplicate aggregate")
	ErrLoadAggregateFailed   = errors.New("load aggregate failed")
	ErrSaveAggregateFailed   = errors.New("save aggregate failed")
	ErrRevertAggregateFailed = errors.New("revert aggregate failed")
	ErrPublishFailed         = errors.New("publish failed")
	ErrLockNotHeld           = errors.New("lock not held")
)
