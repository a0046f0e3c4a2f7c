// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package database defines the key-value storage the chain state is committed
// to, with an in-memory and a badger backed implementation.
package database

import "errors"

// ErrNotFound is returned when a key is not present in the database.
var ErrNotFound = errors.New("not found")

// KeyValueReader wraps the read methods of a backing store.
type KeyValueReader interface {
	// Has returns true if the key is present.
	Has(key []byte) (bool, error)

	// Get returns the value for the key or ErrNotFound.
	Get(key []byte) ([]byte, error)
}

// Batch buffers writes until Write is called. Writes of a single batch are
// applied atomically.
type Batch interface {
	Put(key, value []byte) error
	Write() error
	Reset()
}

// Database is a key-value store supporting atomic batches.
type Database interface {
	KeyValueReader

	NewBatch() Batch
	Close() error
}

// IsNotFound reports whether err is a missing key error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
