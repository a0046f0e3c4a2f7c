// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state provides the per-transaction overlay that contracts read and
// write. Nothing reaches the database until Commit; a discarded StateDB leaves
// no trace.
package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/luxfi/geth/core/types"

	"github.com/luxfi/cipherboard/database"
)

var errInvalidUint64 = errors.New("stored value is not a uint64")

// Reader reads committed or pending state.
type Reader interface {
	// GetState returns the value for key or database.ErrNotFound.
	GetState(key []byte) ([]byte, error)
}

// ReadWriter is a Reader that can buffer writes.
type ReadWriter interface {
	Reader
	SetState(key, value []byte)
}

var (
	_ ReadWriter = (*StateDB)(nil)
	_ Reader     = ReaderFunc(nil)
)

// ReaderFunc adapts a plain lookup function to Reader.
type ReaderFunc func(key []byte) ([]byte, error)

func (f ReaderFunc) GetState(key []byte) ([]byte, error) {
	return f(key)
}

// StateDB buffers writes and logs of one transaction on top of a database.
type StateDB struct {
	db    database.KeyValueReader
	dirty map[string][]byte
	logs  []*types.Log
}

// New returns an empty overlay over db.
func New(db database.KeyValueReader) *StateDB {
	return &StateDB{
		db:    db,
		dirty: make(map[string][]byte),
	}
}

// GetState returns the pending value for key if one was written in this
// transaction, otherwise the committed value.
func (s *StateDB) GetState(key []byte) ([]byte, error) {
	if value, ok := s.dirty[string(key)]; ok {
		return slices.Clone(value), nil
	}
	return s.db.Get(key)
}

// SetState buffers a write. The value is copied.
func (s *StateDB) SetState(key, value []byte) {
	s.dirty[string(key)] = slices.Clone(value)
}

// AddLog records an event emitted by the transaction.
func (s *StateDB) AddLog(log *types.Log) {
	log.Index = uint(len(s.logs))
	s.logs = append(s.logs, log)
}

// Logs returns the events emitted so far.
func (s *StateDB) Logs() []*types.Log {
	return s.logs
}

// Dirty returns the number of pending writes.
func (s *StateDB) Dirty() int {
	return len(s.dirty)
}

// Commit writes every pending entry into batch in key order and flushes it.
// The overlay is cleared on success.
func (s *StateDB) Commit(batch database.Batch) error {
	keys := make([]string, 0, len(s.dirty))
	for key := range s.dirty {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	for _, key := range keys {
		if err := batch.Put([]byte(key), s.dirty[key]); err != nil {
			batch.Reset()
			return fmt.Errorf("failed to stage %x: %w", key, err)
		}
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("failed to write state batch: %w", err)
	}
	clear(s.dirty)
	return nil
}

// GetUint64 reads a big-endian uint64 stored at key. A missing key reads as 0.
func GetUint64(r Reader, key []byte) (uint64, error) {
	value, err := r.GetState(key)
	if database.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(value) != 8 {
		return 0, fmt.Errorf("%w: key %x has %d bytes", errInvalidUint64, key, len(value))
	}
	return binary.BigEndian.Uint64(value), nil
}

// SetUint64 stores v big-endian at key.
func SetUint64(w ReadWriter, key []byte, v uint64) {
	w.SetState(key, binary.BigEndian.AppendUint64(nil, v))
}

// Key joins a namespace and its parts into a flat state key.
func Key(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p)
	}
	key := make([]byte, 0, size)
	key = append(key, prefix...)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}
