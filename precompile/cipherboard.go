// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package precompile

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"

	"github.com/luxfi/cipherboard"
	"github.com/luxfi/cipherboard/board"
	"github.com/luxfi/cipherboard/crypto/fhe"
)

// Gas costs for cipherboard operations
const (
	TransmitSecureMessageGas   = 120_000
	GetCommunicationContentGas = 2_600
	GetCommunicationInfoGas    = 2_600
	GetCommunicationsGas       = 10_000
	GetTotalCommunicationsGas  = 2_100
	ProtocolIDGas              = 100
)

// CipherBoardAddress is the registry contract address
var CipherBoardAddress = common.HexToAddress("0x0300000000000000000000000000000000000010")

// TransmittedEventName is the event emitted for every transmitted message.
const TransmittedEventName = "SecureMessageTransmitted"

// CipherBoardABI is the ABI for the registry contract
const CipherBoardABI = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "address", "name": "sender", "type": "address"},
			{"indexed": true, "internalType": "address", "name": "recipient", "type": "address"},
			{"indexed": true, "internalType": "uint256", "name": "messageId", "type": "uint256"},
			{"indexed": false, "internalType": "uint256", "name": "transmissionTime", "type": "uint256"}
		],
		"name": "SecureMessageTransmitted",
		"type": "event"
	},
	{
		"inputs": [{"internalType": "uint256", "name": "messageId", "type": "uint256"}],
		"name": "getCommunicationContent",
		"outputs": [{"internalType": "euint256", "name": "", "type": "bytes32"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "uint256", "name": "messageId", "type": "uint256"}],
		"name": "getCommunicationInfo",
		"outputs": [
			{"internalType": "address", "name": "sender", "type": "address"},
			{"internalType": "address", "name": "recipient", "type": "address"},
			{"internalType": "uint256", "name": "transmissionTime", "type": "uint256"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "address", "name": "sender", "type": "address"}],
		"name": "getCommunicationsBySender",
		"outputs": [{"internalType": "uint256[]", "name": "messageIds", "type": "uint256[]"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "address", "name": "recipient", "type": "address"}],
		"name": "getCommunicationsForRecipient",
		"outputs": [{"internalType": "uint256[]", "name": "messageIds", "type": "uint256[]"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "getTotalCommunications",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "protocolId",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "pure",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "recipient", "type": "address"},
			{"internalType": "externalEuint256", "name": "encryptedContent", "type": "bytes32"},
			{"internalType": "bytes", "name": "inputProof", "type": "bytes"}
		],
		"name": "transmitSecureMessage",
		"outputs": [{"internalType": "uint256", "name": "messageId", "type": "uint256"}],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// CipherBoardContractABI is CipherBoardABI parsed.
var CipherBoardContractABI = mustParseABI(CipherBoardABI)

// CipherBoardModule exposes a board.Registry as a contract.
type CipherBoardModule struct {
	contract
	registry *board.Registry
}

// NewCipherBoardModule creates the contract for registry.
func NewCipherBoardModule(registry *board.Registry) *CipherBoardModule {
	m := &CipherBoardModule{registry: registry}
	m.contract = contract{
		address: registry.Contract(),
		abi:     CipherBoardContractABI,
		methods: map[string]method{
			"transmitSecureMessage":         {gas: TransmitSecureMessageGas, write: true, run: m.transmitSecureMessage},
			"getCommunicationContent":       {gas: GetCommunicationContentGas, run: m.getCommunicationContent},
			"getCommunicationInfo":          {gas: GetCommunicationInfoGas, run: m.getCommunicationInfo},
			"getCommunicationsBySender":     {gas: GetCommunicationsGas, run: m.getCommunicationsBySender},
			"getCommunicationsForRecipient": {gas: GetCommunicationsGas, run: m.getCommunicationsForRecipient},
			"getTotalCommunications":        {gas: GetTotalCommunicationsGas, run: m.getTotalCommunications},
			"protocolId":                    {gas: ProtocolIDGas, run: m.protocolID},
		},
	}
	return m
}

func (m *CipherBoardModule) transmitSecureMessage(st AccessibleState, caller common.Address, args []interface{}) ([]interface{}, error) {
	recipient := args[0].(common.Address)
	content := fhe.Handle(args[1].([32]byte))
	proof := args[2].([]byte)

	msg, err := m.registry.Transmit(st, caller, st.BlockTimestamp(), recipient, content, proof)
	if err != nil {
		return nil, err
	}
	if err := emitTransmitted(st, m.address, msg); err != nil {
		return nil, err
	}
	return []interface{}{new(big.Int).SetUint64(msg.ID)}, nil
}

func (m *CipherBoardModule) getCommunicationContent(st AccessibleState, _ common.Address, args []interface{}) ([]interface{}, error) {
	id, err := messageID(args[0])
	if err != nil {
		return nil, err
	}
	content, err := m.registry.Content(st, id)
	if err != nil {
		return nil, err
	}
	return []interface{}{[32]byte(content)}, nil
}

func (m *CipherBoardModule) getCommunicationInfo(st AccessibleState, _ common.Address, args []interface{}) ([]interface{}, error) {
	id, err := messageID(args[0])
	if err != nil {
		return nil, err
	}
	info, err := m.registry.Info(st, id)
	if err != nil {
		return nil, err
	}
	return []interface{}{info.Sender, info.Recipient, new(big.Int).SetUint64(info.TransmissionTime)}, nil
}

func (m *CipherBoardModule) getCommunicationsBySender(st AccessibleState, _ common.Address, args []interface{}) ([]interface{}, error) {
	ids, err := m.registry.IDsBySender(st, args[0].(common.Address))
	if err != nil {
		return nil, err
	}
	return []interface{}{bigInts(ids)}, nil
}

func (m *CipherBoardModule) getCommunicationsForRecipient(st AccessibleState, _ common.Address, args []interface{}) ([]interface{}, error) {
	ids, err := m.registry.IDsForRecipient(st, args[0].(common.Address))
	if err != nil {
		return nil, err
	}
	return []interface{}{bigInts(ids)}, nil
}

func (m *CipherBoardModule) getTotalCommunications(st AccessibleState, _ common.Address, _ []interface{}) ([]interface{}, error) {
	count, err := m.registry.TotalCount(st)
	if err != nil {
		return nil, err
	}
	return []interface{}{new(big.Int).SetUint64(count)}, nil
}

func (m *CipherBoardModule) protocolID(AccessibleState, common.Address, []interface{}) ([]interface{}, error) {
	return []interface{}{big.NewInt(board.ProtocolID)}, nil
}

// messageID converts an ABI uint256 id. Ids that don't fit a uint64 were
// never assigned.
func messageID(arg interface{}) (uint64, error) {
	id := arg.(*big.Int)
	if !id.IsUint64() {
		return 0, fmt.Errorf("%w: %s", cipherboard.ErrNotFound, id)
	}
	return id.Uint64(), nil
}

func bigInts(ids []uint64) []*big.Int {
	out := make([]*big.Int, len(ids))
	for i, id := range ids {
		out[i] = new(big.Int).SetUint64(id)
	}
	return out
}

func emitTransmitted(st AccessibleState, address common.Address, msg *cipherboard.Message) error {
	event := CipherBoardContractABI.Events[TransmittedEventName]
	data, err := event.Inputs.NonIndexed().Pack(new(big.Int).SetUint64(msg.TransmissionTime))
	if err != nil {
		return fmt.Errorf("failed to pack %s: %w", TransmittedEventName, err)
	}
	st.AddLog(&types.Log{
		Address: address,
		Topics: []common.Hash{
			event.ID,
			common.BytesToHash(msg.Sender.Bytes()),
			common.BytesToHash(msg.Recipient.Bytes()),
			common.BigToHash(new(big.Int).SetUint64(msg.ID)),
		},
		Data:        data,
		BlockNumber: st.BlockNumber(),
	})
	return nil
}

// UnpackTransmittedLog decodes a SecureMessageTransmitted log. It returns
// false if log is a different event.
func UnpackTransmittedLog(log *types.Log) (*cipherboard.TransmittedEvent, bool, error) {
	event := CipherBoardContractABI.Events[TransmittedEventName]
	if len(log.Topics) == 0 || log.Topics[0] != event.ID {
		return nil, false, nil
	}
	if len(log.Topics) != 4 {
		return nil, true, fmt.Errorf("%w: %s has %d topics", ErrInvalidInput, TransmittedEventName, len(log.Topics))
	}
	values, err := CipherBoardContractABI.Unpack(TransmittedEventName, log.Data)
	if err != nil {
		return nil, true, fmt.Errorf("failed to unpack %s: %w", TransmittedEventName, err)
	}
	return &cipherboard.TransmittedEvent{
		Sender:           common.BytesToAddress(log.Topics[1].Bytes()),
		Recipient:        common.BytesToAddress(log.Topics[2].Bytes()),
		MessageID:        log.Topics[3].Big().Uint64(),
		TransmissionTime: values[0].(*big.Int).Uint64(),
		BlockNumber:      log.BlockNumber,
		TxHash:           log.TxHash,
	}, true, nil
}

// PackTransmit encodes a transmitSecureMessage call.
func PackTransmit(recipient common.Address, content fhe.Handle, proof []byte) ([]byte, error) {
	return CipherBoardContractABI.Pack("transmitSecureMessage", recipient, [32]byte(content), proof)
}
