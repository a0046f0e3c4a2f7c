// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package database

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

var _ Database = (*BadgerDB)(nil)

// BadgerDB is a durable Database stored in a badger directory.
type BadgerDB struct {
	db *badger.DB
}

// NewBadgerDB opens (or creates) the badger database at path.
func NewBadgerDB(path string) (*BadgerDB, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", path, err)
	}
	return &BadgerDB{db: db}, nil
}

func (b *BadgerDB) Has(key []byte) (bool, error) {
	_, err := b.Get(key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (b *BadgerDB) Get(key []byte) ([]byte, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (b *BadgerDB) NewBatch() Batch {
	return &badgerBatch{db: b.db}
}

func (b *BadgerDB) Close() error {
	return b.db.Close()
}

type keyValue struct {
	key   []byte
	value []byte
}

// badgerBatch applies all buffered writes inside one badger transaction.
type badgerBatch struct {
	db     *badger.DB
	writes []keyValue
}

func (b *badgerBatch) Put(key, value []byte) error {
	b.writes = append(b.writes, keyValue{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
	return nil
}

func (b *badgerBatch) Write() error {
	return b.db.Update(func(txn *badger.Txn) error {
		for _, kv := range b.writes {
			if err := txn.Set(kv.key, kv.value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *badgerBatch) Reset() {
	b.writes = b.writes[:0]
}
