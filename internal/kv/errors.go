package kv

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed store or partition.
	ErrClosed = errors.New("kv: closed")

	// ErrCapacity is wrapped by every *CapacityError.
	ErrCapacity = errors.New("kv: capacity exceeded")

	// ErrPartitionExists is returned when a partition name is already open.
	ErrPartitionExists = errors.New("kv: partition already open")

	// ErrUnknownPartition is returned when dropping a partition that was
	// never opened by this store.
	ErrUnknownPartition = errors.New("kv: unknown partition")
)

// Limit names a capacity limit.
type Limit string

const (
	LimitKeySize   Limit = "max_key_size"
	LimitValueSize Limit = "max_value_size"
	LimitStoreSize Limit = "max_store_size"
)

// CapacityError reports a write rejected by a configured limit.
type CapacityError struct {
	Limit Limit
	Size  int64
	Max   int64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("kv: %s exceeded: %d > %d", e.Limit, e.Size, e.Max)
}

// Unwrap returns ErrCapacity.
func (e *CapacityError) Unwrap() error { return ErrCapacity }

// IsCapacityError returns true if err is (or wraps) a *CapacityError.
func IsCapacityError(err error) bool {
	var ce *CapacityError
	return errors.As(err, &ce)
}

// corruption is the panic value raised when a merge policy rejects stored
// bytes.
func corruption(key []byte, err error) error {
	return fmt.Errorf("kv: corrupt record %x: %w", key, err)
}
