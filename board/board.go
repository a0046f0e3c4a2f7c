// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package board implements the message registry: an append-only arena of
// encrypted messages indexed by sender and recipient, plus the access gate
// that lets both parties decrypt what they exchanged.
package board

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/cipherboard"
	"github.com/luxfi/cipherboard/cache"
	"github.com/luxfi/cipherboard/crypto/fhe"
	"github.com/luxfi/cipherboard/database"
	"github.com/luxfi/cipherboard/state"
)

// ProtocolID identifies the confidential-computing configuration the
// registry was deployed against.
const ProtocolID = 10001

// DefaultCacheSize is the number of decoded messages kept in memory.
const DefaultCacheSize = 1024

var (
	countKey     = []byte("count")
	messagesKey  = []byte("msg/")
	sendersKey   = []byte("snd/")
	receiversKey = []byte("rcv/")
	lengthKey    = []byte("/n")
	entryKey     = []byte("/i/")
)

// Coprocessor is the part of the confidential-computing capability the
// registry depends on.
type Coprocessor interface {
	FromExternal(st state.Reader, handle fhe.Handle, proof []byte, contract, user common.Address) error
}

// Registry is the message registry deployed at one contract address. It is
// stateless apart from a cache of committed messages; all records live in the
// state passed to each call.
type Registry struct {
	contract    common.Address
	coprocessor Coprocessor
	namespace   []byte
	messages    *cache.LRUCache[uint64, *cipherboard.Message]
	log         log.Logger
}

// New returns the registry for contract.
func New(contract common.Address, coprocessor Coprocessor, cacheSize int, logger log.Logger) *Registry {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	return &Registry{
		contract:    contract,
		coprocessor: coprocessor,
		namespace:   state.Key([]byte("board/"), contract.Bytes(), []byte("/")),
		messages:    cache.NewLRUCache[uint64, *cipherboard.Message](cacheSize),
		log:         logger,
	}
}

// Contract returns the registry's own address.
func (r *Registry) Contract() common.Address {
	return r.contract
}

// Transmit records a message from sender to recipient carrying the encrypted
// content handle, and grants the registry, the sender and the recipient
// access to that handle. Everything is written to st, so the append and the
// grants commit or vanish together.
func (r *Registry) Transmit(
	st state.ReadWriter,
	sender common.Address,
	timestamp uint64,
	recipient common.Address,
	content fhe.Handle,
	proof []byte,
) (*cipherboard.Message, error) {
	if recipient == (common.Address{}) {
		return nil, cipherboard.ErrInvalidRecipient
	}
	if err := r.coprocessor.FromExternal(st, content, proof, r.contract, sender); err != nil {
		if errors.Is(err, fhe.ErrInvalidProof) {
			return nil, fmt.Errorf("%w: %w", cipherboard.ErrInvalidProof, err)
		}
		return nil, fmt.Errorf("failed to verify content: %w", err)
	}
	if t := content.Type(); t != fhe.EUint256 {
		return nil, fmt.Errorf("%w: content is %s, want %s", cipherboard.ErrInvalidProof, t, fhe.EUint256)
	}

	id, err := r.TotalCount(st)
	if err != nil {
		return nil, err
	}
	next, err := cipherboard.AddUint64(id, 1)
	if err != nil {
		return nil, fmt.Errorf("message id space exhausted: %w", err)
	}

	msg := &cipherboard.Message{
		ID:               id,
		Sender:           sender,
		Recipient:        recipient,
		Content:          content,
		TransmissionTime: timestamp,
	}
	st.SetState(r.messageKey(id), msg.Bytes())
	state.SetUint64(st, r.key(countKey), next)
	if err := r.appendIndex(st, sendersKey, sender, id); err != nil {
		return nil, err
	}
	if err := r.appendIndex(st, receiversKey, recipient, id); err != nil {
		return nil, err
	}

	for _, account := range []common.Address{r.contract, sender, recipient} {
		fhe.Allow(st, content, account)
	}

	r.log.Debug("message transmitted",
		log.Uint64("messageID", id),
		log.Stringer("sender", sender),
		log.Stringer("recipient", recipient),
	)
	return msg, nil
}

// Message returns the message with the given id.
func (r *Registry) Message(st state.Reader, id uint64) (*cipherboard.Message, error) {
	return r.messages.Get(id, func(id uint64) (*cipherboard.Message, error) {
		b, err := st.GetState(r.messageKey(id))
		if database.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %d", cipherboard.ErrNotFound, id)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read message %d: %w", id, err)
		}
		return cipherboard.ParseMessage(b)
	}, false)
}

// Content returns the encrypted content handle of message id.
func (r *Registry) Content(st state.Reader, id uint64) (fhe.Handle, error) {
	msg, err := r.Message(st, id)
	if err != nil {
		return fhe.Handle{}, err
	}
	return msg.Content, nil
}

// Info returns the public metadata of message id.
func (r *Registry) Info(st state.Reader, id uint64) (cipherboard.Info, error) {
	msg, err := r.Message(st, id)
	if err != nil {
		return cipherboard.Info{}, err
	}
	return msg.Info(), nil
}

// IDsBySender returns the ids sent by addr, oldest first.
func (r *Registry) IDsBySender(st state.Reader, addr common.Address) ([]uint64, error) {
	return r.readIndex(st, sendersKey, addr)
}

// IDsForRecipient returns the ids addressed to addr, oldest first.
func (r *Registry) IDsForRecipient(st state.Reader, addr common.Address) ([]uint64, error) {
	return r.readIndex(st, receiversKey, addr)
}

// TotalCount returns the number of messages ever transmitted.
func (r *Registry) TotalCount(st state.Reader) (uint64, error) {
	count, err := state.GetUint64(st, r.key(countKey))
	if err != nil {
		return 0, fmt.Errorf("failed to read message count: %w", err)
	}
	return count, nil
}

func (r *Registry) appendIndex(st state.ReadWriter, index []byte, addr common.Address, id uint64) error {
	n, err := state.GetUint64(st, r.indexLengthKey(index, addr))
	if err != nil {
		return fmt.Errorf("failed to read index of %s: %w", addr, err)
	}
	state.SetUint64(st, r.indexEntryKey(index, addr, n), id)
	state.SetUint64(st, r.indexLengthKey(index, addr), n+1)
	return nil
}

func (r *Registry) readIndex(st state.Reader, index []byte, addr common.Address) ([]uint64, error) {
	n, err := state.GetUint64(st, r.indexLengthKey(index, addr))
	if err != nil {
		return nil, fmt.Errorf("failed to read index of %s: %w", addr, err)
	}
	ids := make([]uint64, 0, n)
	for i := range n {
		id, err := state.GetUint64(st, r.indexEntryKey(index, addr, i))
		if err != nil {
			return nil, fmt.Errorf("failed to read index entry %d of %s: %w", i, addr, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *Registry) key(parts ...[]byte) []byte {
	return state.Key(r.namespace, parts...)
}

func (r *Registry) messageKey(id uint64) []byte {
	return r.key(messagesKey, binary.BigEndian.AppendUint64(nil, id))
}

func (r *Registry) indexLengthKey(index []byte, addr common.Address) []byte {
	return r.key(index, addr.Bytes(), lengthKey)
}

func (r *Registry) indexEntryKey(index []byte, addr common.Address, i uint64) []byte {
	return r.key(index, addr.Bytes(), entryKey, binary.BigEndian.AppendUint64(nil, i))
}
