// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package relayer is the off-chain gateway of a node. It publishes the
// network parameters clients encrypt against, verifies encrypted inputs,
// serves user decryption and submits contract calls on behalf of
// authenticated accounts.
package relayer

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/luxfi/geth/accounts/abi"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/event"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/cipherboard"
	"github.com/luxfi/cipherboard/board"
	"github.com/luxfi/cipherboard/chain"
	"github.com/luxfi/cipherboard/crypto/fhe"
	"github.com/luxfi/cipherboard/metrics"
	"github.com/luxfi/cipherboard/precompile"
	"github.com/luxfi/cipherboard/state"
)

// CallGas is the gas budget of every submitted call.
const CallGas = 1_000_000

const (
	boardLabel   = "cipherboard"
	counterLabel = "secure_counter"
)

// NetworkInfo is everything a client needs to build inputs and read results.
type NetworkInfo struct {
	ChainID       ids.ID         `json:"chainId"`
	NetworkKey    hexutil.Bytes  `json:"networkKey"`
	Signer        common.Address `json:"signer"`
	CipherBoard   common.Address `json:"cipherBoard"`
	SecureCounter common.Address `json:"secureCounter"`
	ProtocolID    uint64         `json:"protocolId"`
	Height        uint64         `json:"height"`
}

// InputProof is the result of verifying an encrypted input.
type InputProof struct {
	Handles []fhe.Handle  `json:"handles"`
	Proof   hexutil.Bytes `json:"proof"`
}

// TransmitResult is the outcome of a committed transmit.
type TransmitResult struct {
	MessageID uint64         `json:"messageId"`
	Receipt   *chain.Receipt `json:"receipt"`
}

// CounterResult is the outcome of a committed counter update.
type CounterResult struct {
	Value   fhe.Handle     `json:"value"`
	Receipt *chain.Receipt `json:"receipt"`
}

// Gateway submits calls to the node's contracts.
type Gateway struct {
	chain         *chain.Chain
	coprocessor   *fhe.Coprocessor
	cipherBoard   common.Address
	secureCounter common.Address
	metrics       *metrics.Metrics
	clock         func() time.Time
	log           log.Logger
}

func NewGateway(
	c *chain.Chain,
	coprocessor *fhe.Coprocessor,
	cipherBoard common.Address,
	secureCounter common.Address,
	m *metrics.Metrics,
	clock func() time.Time,
	logger log.Logger,
) *Gateway {
	if clock == nil {
		clock = time.Now
	}
	return &Gateway{
		chain:         c,
		coprocessor:   coprocessor,
		cipherBoard:   cipherBoard,
		secureCounter: secureCounter,
		metrics:       m,
		clock:         clock,
		log:           logger,
	}
}

// Network returns the current network parameters.
func (g *Gateway) Network() NetworkInfo {
	networkKey := g.coprocessor.NetworkKey()
	return NetworkInfo{
		ChainID:       g.coprocessor.ChainID(),
		NetworkKey:    networkKey[:],
		Signer:        g.coprocessor.Signer(),
		CipherBoard:   g.cipherBoard,
		SecureCounter: g.secureCounter,
		ProtocolID:    board.ProtocolID,
		Height:        g.chain.Height(),
	}
}

// EncryptInput verifies in and returns its handles and input proof.
func (g *Gateway) EncryptInput(ctx context.Context, in *fhe.EncryptedInput) (*InputProof, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var proof InputProof
	err := g.chain.Update(func(st state.ReadWriter) error {
		handles, p, err := g.coprocessor.VerifyInput(st, in)
		if err != nil {
			return err
		}
		proof = InputProof{Handles: handles, Proof: p}
		return nil
	})
	g.metrics.ObserveVerifiedInputs(err)
	if err != nil {
		g.log.Debug("input rejected",
			log.Stringer("contract", in.Contract),
			log.Stringer("user", in.User),
			log.Err(err),
		)
		return nil, err
	}
	return &proof, nil
}

// UserDecrypt re-encrypts the requested values to the requester's key.
func (g *Gateway) UserDecrypt(ctx context.Context, req *fhe.DecryptRequest) ([]fhe.DecryptResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var results []fhe.DecryptResult
	err := g.chain.View(func(st state.Reader) error {
		var err error
		results, err = g.coprocessor.UserDecrypt(st, req, g.clock())
		return err
	})
	g.metrics.ObserveDecryptRequest(err)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Transmit records a message from sender to recipient.
func (g *Gateway) Transmit(ctx context.Context, sender, recipient common.Address, content fhe.Handle, proof []byte) (*TransmitResult, error) {
	input, err := precompile.PackTransmit(recipient, content, proof)
	if err != nil {
		return nil, fmt.Errorf("failed to pack transmit: %w", err)
	}
	receipt, out, err := g.call(ctx, boardLabel, precompile.CipherBoardContractABI, "transmitSecureMessage", sender, g.cipherBoard, input)
	if err != nil {
		return nil, err
	}
	g.metrics.IncTransmittedMessages()
	id := out[0].(*big.Int).Uint64()
	g.log.Info("message transmitted",
		log.Uint64("messageID", id),
		log.Uint64("block", receipt.BlockNumber),
	)
	return &TransmitResult{MessageID: id, Receipt: receipt}, nil
}

// Message returns the metadata and content handle of message id.
func (g *Gateway) Message(ctx context.Context, id uint64) (*cipherboard.Message, error) {
	var (
		info    cipherboard.Info
		content fhe.Handle
	)
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		info, err = g.Info(ctx, id)
		return err
	})
	eg.Go(func() error {
		var err error
		content, err = g.Content(ctx, id)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return &cipherboard.Message{
		ID:               id,
		Sender:           info.Sender,
		Recipient:        info.Recipient,
		Content:          content,
		TransmissionTime: info.TransmissionTime,
	}, nil
}

// Info returns the public metadata of message id.
func (g *Gateway) Info(ctx context.Context, id uint64) (cipherboard.Info, error) {
	out, err := g.view(ctx, boardLabel, precompile.CipherBoardContractABI, g.cipherBoard, "getCommunicationInfo", new(big.Int).SetUint64(id))
	if err != nil {
		return cipherboard.Info{}, err
	}
	return cipherboard.Info{
		Sender:           out[0].(common.Address),
		Recipient:        out[1].(common.Address),
		TransmissionTime: out[2].(*big.Int).Uint64(),
	}, nil
}

// Content returns the encrypted content handle of message id.
func (g *Gateway) Content(ctx context.Context, id uint64) (fhe.Handle, error) {
	out, err := g.view(ctx, boardLabel, precompile.CipherBoardContractABI, g.cipherBoard, "getCommunicationContent", new(big.Int).SetUint64(id))
	if err != nil {
		return fhe.Handle{}, err
	}
	return fhe.Handle(out[0].([32]byte)), nil
}

// IDsBySender returns the ids of the messages sent by addr, oldest first.
func (g *Gateway) IDsBySender(ctx context.Context, addr common.Address) ([]uint64, error) {
	return g.messageIDs(ctx, "getCommunicationsBySender", addr)
}

// IDsForRecipient returns the ids of the messages addressed to addr, oldest
// first.
func (g *Gateway) IDsForRecipient(ctx context.Context, addr common.Address) ([]uint64, error) {
	return g.messageIDs(ctx, "getCommunicationsForRecipient", addr)
}

// TotalCount returns the number of messages ever transmitted.
func (g *Gateway) TotalCount(ctx context.Context) (uint64, error) {
	out, err := g.view(ctx, boardLabel, precompile.CipherBoardContractABI, g.cipherBoard, "getTotalCommunications")
	if err != nil {
		return 0, err
	}
	return out[0].(*big.Int).Uint64(), nil
}

// CounterValue returns the handle of the secure counter.
func (g *Gateway) CounterValue(ctx context.Context) (fhe.Handle, error) {
	out, err := g.view(ctx, counterLabel, precompile.SecureCounterContractABI, g.secureCounter, "getSecureValue")
	if err != nil {
		return fhe.Handle{}, err
	}
	return fhe.Handle(out[0].([32]byte)), nil
}

// IncreaseCounter adds the encrypted amount to the secure counter.
func (g *Gateway) IncreaseCounter(ctx context.Context, caller common.Address, amount fhe.Handle, proof []byte) (*CounterResult, error) {
	return g.updateCounter(ctx, "increaseSecureValue", caller, amount, proof)
}

// DecreaseCounter subtracts the encrypted amount from the secure counter.
func (g *Gateway) DecreaseCounter(ctx context.Context, caller common.Address, amount fhe.Handle, proof []byte) (*CounterResult, error) {
	return g.updateCounter(ctx, "decreaseSecureValue", caller, amount, proof)
}

// SubscribeLogs delivers the logs of every committed block.
func (g *Gateway) SubscribeLogs(ch chan<- []*types.Log) event.Subscription {
	return g.chain.SubscribeLogs(ch)
}

// HealthCheck reports whether the node can serve requests.
func (g *Gateway) HealthCheck(ctx context.Context) error {
	return g.chain.HealthCheck(ctx)
}

func (g *Gateway) updateCounter(ctx context.Context, method string, caller common.Address, amount fhe.Handle, proof []byte) (*CounterResult, error) {
	input, err := precompile.SecureCounterContractABI.Pack(method, [32]byte(amount), proof)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	receipt, out, err := g.call(ctx, counterLabel, precompile.SecureCounterContractABI, method, caller, g.secureCounter, input)
	if err != nil {
		return nil, err
	}
	return &CounterResult{Value: fhe.Handle(out[0].([32]byte)), Receipt: receipt}, nil
}

func (g *Gateway) messageIDs(ctx context.Context, method string, addr common.Address) ([]uint64, error) {
	out, err := g.view(ctx, boardLabel, precompile.CipherBoardContractABI, g.cipherBoard, method, addr)
	if err != nil {
		return nil, err
	}
	values := out[0].([]*big.Int)
	messageIDs := make([]uint64, len(values))
	for i, v := range values {
		messageIDs[i] = v.Uint64()
	}
	return messageIDs, nil
}

func (g *Gateway) call(
	ctx context.Context,
	label string,
	contractABI abi.ABI,
	method string,
	from common.Address,
	to common.Address,
	input []byte,
) (*chain.Receipt, []interface{}, error) {
	receipt, err := g.chain.Call(ctx, from, to, input, nil, CallGas)
	g.metrics.ObserveContractCall(label, method, err)
	if err != nil {
		g.log.Debug("call failed",
			log.String("method", method),
			log.Stringer("from", from),
			log.Err(err),
		)
		return nil, nil, err
	}
	g.metrics.SetBlockHeight(receipt.BlockNumber)
	out, err := contractABI.Unpack(method, receipt.ReturnData)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return receipt, out, nil
}

func (g *Gateway) view(
	ctx context.Context,
	label string,
	contractABI abi.ABI,
	to common.Address,
	method string,
	args ...interface{},
) ([]interface{}, error) {
	input, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	ret, err := g.chain.StaticCall(ctx, common.Address{}, to, input)
	g.metrics.ObserveContractCall(label, method, err)
	if err != nil {
		return nil, err
	}
	out, err := contractABI.Unpack(method, ret)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return out, nil
}
