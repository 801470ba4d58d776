package dberrors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidKey        = errors.New("chimeradb: invalid key")
	ErrValueTooLarge     = errors.New("chimeradb: value too large")
	ErrInvalidValue      = errors.New("chimeradb: invalid value")
	ErrKeyNotFound       = errors.New("chimeradb: key not found")
	ErrDurability        = errors.New("chimeradb: write not durable")
	ErrCorruption        = errors.New("chimeradb: corruption detected")
	ErrNotReady          = errors.New("chimeradb: engine not ready")
	ErrClosed            = errors.New("chimeradb: closed")
	ErrQueryNotSupported = errors.New("chimeradb: query not supported by engine")
	ErrNotImplemented    = errors.New("chimeradb: engine not implemented")
)

// InvalidKey reports a rejected collection name or record key.
func InvalidKey(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidKey, fmt.Sprintf(format, args...))
}

// ValueTooLarge reports a value over the configured size limit.
func ValueTooLarge(size, limit int) error {
	return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrValueTooLarge, size, limit)
}

// InvalidValue reports a value that fails structural checks.
func InvalidValue(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidValue, fmt.Sprintf(format, args...))
}

// KeyNotFound reports a missing collection or key.
func KeyNotFound(collection, key string) error {
	if key == "" {
		return fmt.Errorf("%w: collection %q", ErrKeyNotFound, collection)
	}
	return fmt.Errorf("%w: %s/%s", ErrKeyNotFound, collection, key)
}

// Durability wraps an I/O failure that kept a WAL append from becoming durable.
func Durability(err error) error {
	return fmt.Errorf("%w: %w", ErrDurability, err)
}

// Corruption reports a checksum or format failure that recovery must not skip.
func Corruption(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruption, fmt.Sprintf(format, args...))
}
