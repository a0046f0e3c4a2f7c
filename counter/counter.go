// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package counter implements an encrypted euint32 counter that anyone can
// increase or decrease by an encrypted amount.
package counter

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/cipherboard"
	"github.com/luxfi/cipherboard/crypto/fhe"
	"github.com/luxfi/cipherboard/database"
	"github.com/luxfi/cipherboard/state"
)

// Coprocessor is the part of the confidential-computing capability the
// counter depends on.
type Coprocessor interface {
	FromExternal(st state.Reader, handle fhe.Handle, proof []byte, contract, user common.Address) error
	TrivialEncrypt(st state.ReadWriter, caller common.Address, v *uint256.Int, t fhe.EncryptedType) (fhe.Handle, error)
	Add(st state.ReadWriter, caller common.Address, a, b fhe.Handle) (fhe.Handle, error)
	Sub(st state.ReadWriter, caller common.Address, a, b fhe.Handle) (fhe.Handle, error)
}

// Counter is the secure counter deployed at one contract address.
type Counter struct {
	contract    common.Address
	coprocessor Coprocessor
	valueKey    []byte
	log         log.Logger
}

func New(contract common.Address, coprocessor Coprocessor, logger log.Logger) *Counter {
	return &Counter{
		contract:    contract,
		coprocessor: coprocessor,
		valueKey:    state.Key([]byte("counter/"), contract.Bytes(), []byte("/value")),
		log:         logger,
	}
}

// Contract returns the counter's own address.
func (c *Counter) Contract() common.Address {
	return c.contract
}

// Value returns the handle of the current value, or the zero handle if the
// counter was never updated.
func (c *Counter) Value(st state.Reader) (fhe.Handle, error) {
	b, err := st.GetState(c.valueKey)
	if database.IsNotFound(err) {
		return fhe.Handle{}, nil
	}
	if err != nil {
		return fhe.Handle{}, fmt.Errorf("failed to read counter: %w", err)
	}
	var h fhe.Handle
	copy(h[:], b)
	return h, nil
}

// Increase adds the encrypted amount to the counter, wrapping at 2^32.
func (c *Counter) Increase(st state.ReadWriter, caller common.Address, amount fhe.Handle, proof []byte) (fhe.Handle, error) {
	return c.update(st, caller, amount, proof, c.coprocessor.Add)
}

// Decrease subtracts the encrypted amount from the counter, wrapping at 2^32.
func (c *Counter) Decrease(st state.ReadWriter, caller common.Address, amount fhe.Handle, proof []byte) (fhe.Handle, error) {
	return c.update(st, caller, amount, proof, c.coprocessor.Sub)
}

type binaryOp func(st state.ReadWriter, caller common.Address, a, b fhe.Handle) (fhe.Handle, error)

func (c *Counter) update(st state.ReadWriter, caller common.Address, amount fhe.Handle, proof []byte, op binaryOp) (fhe.Handle, error) {
	if err := c.coprocessor.FromExternal(st, amount, proof, c.contract, caller); err != nil {
		if errors.Is(err, fhe.ErrInvalidProof) {
			return fhe.Handle{}, fmt.Errorf("%w: %w", cipherboard.ErrInvalidProof, err)
		}
		return fhe.Handle{}, err
	}
	if t := amount.Type(); t != fhe.EUint32 {
		return fhe.Handle{}, fmt.Errorf("%w: amount is %s, want %s", cipherboard.ErrInvalidProof, t, fhe.EUint32)
	}
	fhe.Allow(st, amount, c.contract)

	current, err := c.Value(st)
	if err != nil {
		return fhe.Handle{}, err
	}
	if current.IsZero() {
		current, err = c.coprocessor.TrivialEncrypt(st, c.contract, new(uint256.Int), fhe.EUint32)
		if err != nil {
			return fhe.Handle{}, fmt.Errorf("failed to initialize counter: %w", err)
		}
	}

	next, err := op(st, c.contract, current, amount)
	if err != nil {
		return fhe.Handle{}, fmt.Errorf("failed to update counter: %w", err)
	}
	fhe.Allow(st, next, c.contract)
	fhe.Allow(st, next, caller)
	st.SetState(c.valueKey, next[:])

	c.log.Debug("counter updated",
		log.Stringer("caller", caller),
		log.Stringer("value", next),
	)
	return next, nil
}
