// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package precompile

import (
	"github.com/luxfi/geth/common"

	"github.com/luxfi/cipherboard/counter"
	"github.com/luxfi/cipherboard/crypto/fhe"
	"github.com/luxfi/cipherboard/state"
)

// Gas costs for secure counter operations
const (
	GetSecureValueGas    = 2_100
	UpdateSecureValueGas = 150_000
)

// SecureCounterAddress is the counter contract address
var SecureCounterAddress = common.HexToAddress("0x0300000000000000000000000000000000000011")

// SecureCounterABI is the ABI for the counter contract
const SecureCounterABI = `[
	{
		"inputs": [],
		"name": "getSecureValue",
		"outputs": [{"internalType": "euint32", "name": "", "type": "bytes32"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "externalEuint32", "name": "inputEuint32", "type": "bytes32"},
			{"internalType": "bytes", "name": "inputProof", "type": "bytes"}
		],
		"name": "increaseSecureValue",
		"outputs": [{"internalType": "euint32", "name": "", "type": "bytes32"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "externalEuint32", "name": "inputEuint32", "type": "bytes32"},
			{"internalType": "bytes", "name": "inputProof", "type": "bytes"}
		],
		"name": "decreaseSecureValue",
		"outputs": [{"internalType": "euint32", "name": "", "type": "bytes32"}],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// SecureCounterContractABI is SecureCounterABI parsed.
var SecureCounterContractABI = mustParseABI(SecureCounterABI)

// SecureCounterModule exposes a counter.Counter as a contract.
type SecureCounterModule struct {
	contract
	counter *counter.Counter
}

// NewSecureCounterModule creates the contract for c.
func NewSecureCounterModule(c *counter.Counter) *SecureCounterModule {
	m := &SecureCounterModule{counter: c}
	m.contract = contract{
		address: c.Contract(),
		abi:     SecureCounterContractABI,
		methods: map[string]method{
			"getSecureValue":      {gas: GetSecureValueGas, run: m.getSecureValue},
			"increaseSecureValue": {gas: UpdateSecureValueGas, write: true, run: m.update(c.Increase)},
			"decreaseSecureValue": {gas: UpdateSecureValueGas, write: true, run: m.update(c.Decrease)},
		},
	}
	return m
}

func (m *SecureCounterModule) getSecureValue(st AccessibleState, _ common.Address, _ []interface{}) ([]interface{}, error) {
	value, err := m.counter.Value(st)
	if err != nil {
		return nil, err
	}
	return []interface{}{[32]byte(value)}, nil
}

type counterUpdate func(st state.ReadWriter, caller common.Address, amount fhe.Handle, proof []byte) (fhe.Handle, error)

func (m *SecureCounterModule) update(op counterUpdate) runFunc {
	return func(st AccessibleState, caller common.Address, args []interface{}) ([]interface{}, error) {
		amount := fhe.Handle(args[0].([32]byte))
		proof := args[1].([]byte)
		next, err := op(st, caller, amount, proof)
		if err != nil {
			return nil, err
		}
		return []interface{}{[32]byte(next)}, nil
	}
}
