package store

import "errors"

var (
	// ErrStorageUnavailable means the store could not be opened,
	// created or locked. Fatal to the calling operation; never
	// retried inside this package.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrDuplicateTraining means the message is already trained
	// under the requested label. Non-fatal; the batch continues.
	ErrDuplicateTraining = errors.New("message already trained for label")

	// ErrLabelConflict means the message is trained under the other
	// label and must be retrained, not trained again.
	ErrLabelConflict = errors.New("message trained under conflicting label")

	// ErrUntrainMismatch means an untrain was requested for a
	// message not on record under that label. The operation is a
	// no-op.
	ErrUntrainMismatch = errors.New("message not trained for label")

	// ErrWriterActive means another training batch holds the write
	// lock.
	ErrWriterActive = errors.New("another training batch is active")

	// ErrReadOnly means a mutation was attempted through a handle
	// opened in read-only mode.
	ErrReadOnly = errors.New("store opened read-only")
)
