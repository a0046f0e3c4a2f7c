// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package chain executes calls against the registered contracts. Every
// state-changing call runs alone, on its own state overlay, and becomes one
// block: it either commits entirely or leaves nothing behind. Read-only calls
// run concurrently against committed state.
package chain

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/event"
	"github.com/luxfi/log"

	"github.com/luxfi/cipherboard/database"
	"github.com/luxfi/cipherboard/precompile"
	"github.com/luxfi/cipherboard/state"
)

// StaticCallGas is the gas budget of read-only calls.
const StaticCallGas = 10_000_000

var (
	ErrUnknownContract   = errors.New("no contract at address")
	ErrDuplicateContract = errors.New("contract already registered")

	heightKey    = []byte("chain/height")
	timestampKey = []byte("chain/timestamp")
)

// Receipt describes a committed call.
type Receipt struct {
	TxHash      common.Hash    `json:"txHash"`
	BlockNumber uint64         `json:"blockNumber"`
	Timestamp   uint64         `json:"timestamp"`
	From        common.Address `json:"from"`
	To          common.Address `json:"to"`
	GasUsed     uint64         `json:"gasUsed"`
	ReturnData  []byte         `json:"returnData"`
	Logs        []*types.Log   `json:"logs"`
}

// blockState is the view a contract gets during one call.
type blockState struct {
	*state.StateDB
	number    uint64
	timestamp uint64
}

func (b *blockState) BlockNumber() uint64 {
	return b.number
}

func (b *blockState) BlockTimestamp() uint64 {
	return b.timestamp
}

// Chain owns the database and serializes every write to it.
type Chain struct {
	lock      sync.RWMutex
	db        database.Database
	contracts map[common.Address]precompile.StatefulPrecompiledContract
	height    uint64
	timestamp uint64
	clock     func() time.Time

	// Logs of committed blocks wait in pending, in block order, until the
	// dispatcher hands them to logsFeed. Calls never wait on subscribers.
	pendingLock sync.Mutex
	pending     [][]*types.Log
	notify      chan struct{}
	closing     chan struct{}
	closeOnce   sync.Once
	logsFeed    event.Feed

	log log.Logger
}

// New opens a chain over db, resuming from the last committed block.
func New(db database.Database, clock func() time.Time, logger log.Logger) (*Chain, error) {
	if clock == nil {
		clock = time.Now
	}
	reader := state.ReaderFunc(db.Get)
	height, err := state.GetUint64(reader, heightKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain height: %w", err)
	}
	timestamp, err := state.GetUint64(reader, timestampKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain timestamp: %w", err)
	}
	logger.Info("chain opened",
		log.Uint64("height", height),
		log.Uint64("timestamp", timestamp),
	)
	c := &Chain{
		db:        db,
		contracts: make(map[common.Address]precompile.StatefulPrecompiledContract),
		height:    height,
		timestamp: timestamp,
		clock:     clock,
		notify:    make(chan struct{}, 1),
		closing:   make(chan struct{}),
		log:       logger,
	}
	go c.dispatch()
	return c, nil
}

// Register installs contract at its address.
func (c *Chain) Register(contract precompile.StatefulPrecompiledContract) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	addr := contract.Address()
	if _, ok := c.contracts[addr]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateContract, addr)
	}
	c.contracts[addr] = contract
	return nil
}

// Height returns the number of the last committed block.
func (c *Chain) Height() uint64 {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.height
}

// Call executes a state-changing call from from to to as a new block.
func (c *Chain) Call(
	ctx context.Context,
	from common.Address,
	to common.Address,
	input []byte,
	value *uint256.Int,
	gas uint64,
) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.lock.Lock()
	receipt, err := c.call(from, to, input, value, gas)
	if err != nil {
		c.lock.Unlock()
		c.log.Debug("call failed",
			log.Stringer("from", from),
			log.Stringer("to", to),
			log.Err(err),
		)
		return nil, err
	}
	if len(receipt.Logs) > 0 {
		c.enqueue(receipt.Logs)
	}
	c.lock.Unlock()
	return receipt, nil
}

// enqueue schedules logs for delivery. c.lock must be held so that logs are
// queued in block order.
func (c *Chain) enqueue(logs []*types.Log) {
	c.pendingLock.Lock()
	c.pending = append(c.pending, logs)
	c.pendingLock.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// dispatch delivers queued logs until the chain is closed. A subscriber that
// stops reading delays later deliveries but never a call.
func (c *Chain) dispatch() {
	for {
		select {
		case <-c.notify:
		case <-c.closing:
			return
		}

		c.pendingLock.Lock()
		batch := c.pending
		c.pending = nil
		c.pendingLock.Unlock()

		for _, logs := range batch {
			c.logsFeed.Send(logs)
		}
	}
}

func (c *Chain) call(from, to common.Address, input []byte, value *uint256.Int, gas uint64) (*Receipt, error) {
	contract, ok := c.contracts[to]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, to)
	}

	number := c.height + 1
	timestamp := max(uint64(c.clock().Unix()), c.timestamp)
	st := &blockState{
		StateDB:   state.New(c.db),
		number:    number,
		timestamp: timestamp,
	}
	ret, remaining, err := contract.Run(st, from, input, value, gas, false)
	if err != nil {
		return nil, err
	}

	txHash := common.BytesToHash(crypto.Keccak256(
		from.Bytes(),
		to.Bytes(),
		input,
		binary.BigEndian.AppendUint64(nil, number),
	))
	logs := st.Logs()
	for _, l := range logs {
		l.TxHash = txHash
		l.BlockNumber = number
	}

	state.SetUint64(st, heightKey, number)
	state.SetUint64(st, timestampKey, timestamp)
	if err := st.Commit(c.db.NewBatch()); err != nil {
		return nil, fmt.Errorf("failed to commit block %d: %w", number, err)
	}
	c.height = number
	c.timestamp = timestamp

	c.log.Debug("block committed",
		log.Uint64("height", number),
		log.Stringer("txHash", txHash),
		log.Int("logs", len(logs)),
	)
	return &Receipt{
		TxHash:      txHash,
		BlockNumber: number,
		Timestamp:   timestamp,
		From:        from,
		To:          to,
		GasUsed:     gas - remaining,
		ReturnData:  ret,
		Logs:        logs,
	}, nil
}

// StaticCall executes a read-only call against committed state.
func (c *Chain) StaticCall(ctx context.Context, from, to common.Address, input []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.lock.RLock()
	defer c.lock.RUnlock()

	contract, ok := c.contracts[to]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, to)
	}
	st := &blockState{
		StateDB:   state.New(c.db),
		number:    c.height,
		timestamp: c.timestamp,
	}
	ret, _, err := contract.Run(st, from, input, nil, StaticCallGas, true)
	return ret, err
}

// View runs fn against committed state, concurrently with other readers.
func (c *Chain) View(fn func(st state.Reader) error) error {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return fn(state.New(c.db))
}

// Update runs fn on a fresh overlay and commits it if fn succeeds. It is
// serialized with Call but does not produce a block.
func (c *Chain) Update(fn func(st state.ReadWriter) error) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	st := state.New(c.db)
	if err := fn(st); err != nil {
		return err
	}
	return st.Commit(c.db.NewBatch())
}

// SubscribeLogs delivers the logs of every committed block, in order.
func (c *Chain) SubscribeLogs(ch chan<- []*types.Log) event.Subscription {
	return c.logsFeed.Subscribe(ch)
}

// HealthCheck reports an error if committed state can't be read.
func (c *Chain) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.lock.RLock()
	defer c.lock.RUnlock()
	if _, err := state.GetUint64(state.ReaderFunc(c.db.Get), heightKey); err != nil {
		return fmt.Errorf("failed to read chain height: %w", err)
	}
	return nil
}

// Close stops log delivery and closes the underlying database.
func (c *Chain) Close() error {
	c.closeOnce.Do(func() { close(c.closing) })

	c.lock.Lock()
	defer c.lock.Unlock()
	return c.db.Close()
}
