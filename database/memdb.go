// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package database

import (
	"github.com/luxfi/geth/ethdb"
	"github.com/luxfi/geth/ethdb/memorydb"
)

var _ Database = (*MemDB)(nil)

// MemDB is an ephemeral Database backed by the ethdb in-memory store.
type MemDB struct {
	db *memorydb.Database
}

// NewMemDB returns an empty in-memory database.
func NewMemDB() *MemDB {
	return &MemDB{db: memorydb.New()}
}

func (m *MemDB) Has(key []byte) (bool, error) {
	return m.db.Has(key)
}

// Get returns ErrNotFound for missing keys instead of the memorydb sentinel.
func (m *MemDB) Get(key []byte) ([]byte, error) {
	ok, err := m.db.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return m.db.Get(key)
}

func (m *MemDB) NewBatch() Batch {
	return &memBatch{batch: m.db.NewBatch()}
}

func (m *MemDB) Close() error {
	return m.db.Close()
}

type memBatch struct {
	batch ethdb.Batch
}

func (b *memBatch) Put(key, value []byte) error {
	return b.batch.Put(key, value)
}

func (b *memBatch) Write() error {
	return b.batch.Write()
}

func (b *memBatch) Reset() {
	b.batch.Reset()
}
