// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package precompile exposes the registry and the counter as stateful
// precompiled contracts: ABI-encoded calls in, ABI-encoded results and event
// logs out.
package precompile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/accounts/abi"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"

	"github.com/luxfi/cipherboard/state"
)

const selectorLen = 4

var (
	ErrOutOfGas        = errors.New("out of gas")
	ErrWriteProtection = errors.New("write protection")
	ErrNonPayable      = errors.New("non-payable method called with value")
	ErrUnknownMethod   = errors.New("unknown method")
	ErrInvalidInput    = errors.New("invalid input")
)

// AccessibleState is what a contract sees of the chain during a call.
type AccessibleState interface {
	state.ReadWriter
	AddLog(log *types.Log)
	BlockNumber() uint64
	BlockTimestamp() uint64
}

// StatefulPrecompiledContract is a contract implemented natively.
type StatefulPrecompiledContract interface {
	Address() common.Address
	ABI() abi.ABI
	Run(
		st AccessibleState,
		caller common.Address,
		input []byte,
		value *uint256.Int,
		suppliedGas uint64,
		readOnly bool,
	) (ret []byte, remainingGas uint64, err error)
}

type runFunc func(st AccessibleState, caller common.Address, args []interface{}) ([]interface{}, error)

type method struct {
	gas   uint64
	write bool
	run   runFunc
}

// contract dispatches ABI calls to native methods by selector.
type contract struct {
	address common.Address
	abi     abi.ABI
	methods map[string]method
}

func (c *contract) Address() common.Address {
	return c.address
}

func (c *contract) ABI() abi.ABI {
	return c.abi
}

func (c *contract) Run(
	st AccessibleState,
	caller common.Address,
	input []byte,
	value *uint256.Int,
	suppliedGas uint64,
	readOnly bool,
) ([]byte, uint64, error) {
	if len(input) < selectorLen {
		return nil, suppliedGas, fmt.Errorf("%w: input of %d bytes", ErrUnknownMethod, len(input))
	}
	m, err := c.abi.MethodById(input[:selectorLen])
	if err != nil {
		return nil, suppliedGas, fmt.Errorf("%w: %x", ErrUnknownMethod, input[:selectorLen])
	}
	impl, ok := c.methods[m.Name]
	if !ok {
		return nil, suppliedGas, fmt.Errorf("%w: %s", ErrUnknownMethod, m.Name)
	}
	if suppliedGas < impl.gas {
		return nil, 0, fmt.Errorf("%w: %s needs %d, have %d", ErrOutOfGas, m.Name, impl.gas, suppliedGas)
	}
	remainingGas := suppliedGas - impl.gas
	if value != nil && !value.IsZero() {
		return nil, remainingGas, fmt.Errorf("%w: %s", ErrNonPayable, m.Name)
	}
	if impl.write && readOnly {
		return nil, remainingGas, fmt.Errorf("%w: %s", ErrWriteProtection, m.Name)
	}

	args, err := m.Inputs.Unpack(input[selectorLen:])
	if err != nil {
		return nil, remainingGas, fmt.Errorf("%w: %s: %w", ErrInvalidInput, m.Name, err)
	}
	outs, err := impl.run(st, caller, args)
	if err != nil {
		return nil, remainingGas, err
	}
	ret, err := m.Outputs.Pack(outs...)
	if err != nil {
		return nil, remainingGas, fmt.Errorf("failed to pack %s output: %w", m.Name, err)
	}
	return ret, remainingGas, nil
}

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(err)
	}
	return parsed
}
