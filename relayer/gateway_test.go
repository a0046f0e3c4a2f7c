// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package relayer

import (
	"context"
	"crypto/ecdsa"
	"sync"
	"testing"
	"time"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/cipherboard"
	"github.com/luxfi/cipherboard/board"
	"github.com/luxfi/cipherboard/crypto/fhe"
	"github.com/luxfi/cipherboard/database"
	"github.com/luxfi/cipherboard/metrics"
	"github.com/luxfi/cipherboard/precompile"
)

var testNow = time.Unix(1_700_000_000, 0)

type account struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func newAccount(t *testing.T) account {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return account{key: key, addr: common.Address(crypto.PubkeyToAddress(key.PublicKey))}
}

func newTestNode(t *testing.T) *Node {
	t.Helper()
	keys, err := fhe.GenerateKeySet()
	require.NoError(t, err)
	node, err := NewNode(NodeConfig{
		DB:      database.NewMemDB(),
		Keys:    keys,
		ChainID: ids.GenerateTestID(),
		Metrics: metrics.NewMetrics(prometheus.NewRegistry()),
		Clock:   func() time.Time { return testNow },
	}, log.NewNoOpLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Close() })
	return node
}

func encrypt(t *testing.T, g *Gateway, contract, user common.Address, build func(*fhe.InputBuilder)) *InputProof {
	t.Helper()
	info := g.Network()
	networkKey := [32]byte(info.NetworkKey)
	b := fhe.NewInputBuilder(&networkKey, contract, user)
	build(b)
	in, err := b.Encrypt()
	require.NoError(t, err)
	proof, err := g.EncryptInput(context.Background(), in)
	require.NoError(t, err)
	return proof
}

func send(t *testing.T, g *Gateway, from, to common.Address, text string) *TransmitResult {
	t.Helper()
	v, err := cipherboard.EncodeContent(text)
	require.NoError(t, err)
	proof := encrypt(t, g, precompile.CipherBoardAddress, from, func(b *fhe.InputBuilder) { b.Add256(v) })
	result, err := g.Transmit(context.Background(), from, to, proof.Handles[0], proof.Proof)
	require.NoError(t, err)
	return result
}

func TestNetwork(t *testing.T) {
	require := require.New(t)
	node := newTestNode(t)

	info := node.Gateway.Network()
	require.Equal(node.Coprocessor.ChainID(), info.ChainID)
	require.Equal(node.Coprocessor.Signer(), info.Signer)
	require.Len(info.NetworkKey, 32)
	require.Equal(precompile.CipherBoardAddress, info.CipherBoard)
	require.Equal(precompile.SecureCounterAddress, info.SecureCounter)
	require.Equal(uint64(board.ProtocolID), info.ProtocolID)
	require.Zero(info.Height)
}

func TestMessagingRoundTrip(t *testing.T) {
	require := require.New(t)
	node := newTestNode(t)
	g := node.Gateway
	ctx := context.Background()
	alice, bob, carol := newAccount(t), newAccount(t), newAccount(t)

	logs := make(chan []*types.Log, 4)
	sub := g.SubscribeLogs(logs)
	defer sub.Unsubscribe()

	first := send(t, g, alice.addr, bob.addr, "hello bob")
	second := send(t, g, bob.addr, alice.addr, "hi alice")
	require.Zero(first.MessageID)
	require.Equal(uint64(1), second.MessageID)
	require.Equal(uint64(2), g.Network().Height)

	delivered := <-logs
	event, ok, err := precompile.UnpackTransmittedLog(delivered[0])
	require.NoError(err)
	require.True(ok)
	require.Equal(alice.addr, event.Sender)

	count, err := g.TotalCount(ctx)
	require.NoError(err)
	require.Equal(uint64(2), count)

	outbox, err := g.IDsBySender(ctx, alice.addr)
	require.NoError(err)
	require.Equal([]uint64{0}, outbox)
	inbox, err := g.IDsForRecipient(ctx, alice.addr)
	require.NoError(err)
	require.Equal([]uint64{1}, inbox)

	msg, err := g.Message(ctx, 0)
	require.NoError(err)
	require.Equal(alice.addr, msg.Sender)
	require.Equal(bob.addr, msg.Recipient)
	require.Equal(uint64(testNow.Unix()), msg.TransmissionTime)

	// The recipient can decrypt, a third party can't.
	session, err := fhe.NewDecryptSession(bob.key, g.Network().ChainID, precompile.CipherBoardAddress, []fhe.Handle{msg.Content}, testNow, 1)
	require.NoError(err)
	results, err := g.UserDecrypt(ctx, session.Request())
	require.NoError(err)
	values, err := session.Open(results)
	require.NoError(err)
	require.Equal("hello bob", cipherboard.DecodeContent(values[msg.Content]))

	session, err = fhe.NewDecryptSession(carol.key, g.Network().ChainID, precompile.CipherBoardAddress, []fhe.Handle{msg.Content}, testNow, 1)
	require.NoError(err)
	_, err = g.UserDecrypt(ctx, session.Request())
	require.ErrorIs(err, fhe.ErrNotAuthorized)

	_, err = g.Message(ctx, 9)
	require.ErrorIs(err, cipherboard.ErrNotFound)
}

func TestTransmitRejects(t *testing.T) {
	require := require.New(t)
	node := newTestNode(t)
	g := node.Gateway
	alice, bob := newAccount(t), newAccount(t)

	v, err := cipherboard.EncodeContent("x")
	require.NoError(err)
	proof := encrypt(t, g, precompile.CipherBoardAddress, alice.addr, func(b *fhe.InputBuilder) { b.Add256(v) })

	_, err = g.Transmit(context.Background(), alice.addr, common.Address{}, proof.Handles[0], proof.Proof)
	require.ErrorIs(err, cipherboard.ErrInvalidRecipient)
	_, err = g.Transmit(context.Background(), bob.addr, alice.addr, proof.Handles[0], proof.Proof)
	require.ErrorIs(err, cipherboard.ErrInvalidProof)
	require.Zero(g.Network().Height)
}

func TestEncryptInputRejectsBadCiphertext(t *testing.T) {
	node := newTestNode(t)
	_, err := node.Gateway.EncryptInput(context.Background(), &fhe.EncryptedInput{
		Contract:    precompile.CipherBoardAddress,
		User:        common.HexToAddress("0x01"),
		Ciphertexts: []hexutil.Bytes{{byte(fhe.EUint256), 1, 2, 3}},
	})
	require.ErrorIs(t, err, fhe.ErrInvalidCiphertext)
}

func TestSecureCounter(t *testing.T) {
	require := require.New(t)
	node := newTestNode(t)
	g := node.Gateway
	ctx := context.Background()
	alice := newAccount(t)

	value, err := g.CounterValue(ctx)
	require.NoError(err)
	require.True(value.IsZero())

	amount := encrypt(t, g, precompile.SecureCounterAddress, alice.addr, func(b *fhe.InputBuilder) { b.Add32(5) })
	result, err := g.IncreaseCounter(ctx, alice.addr, amount.Handles[0], amount.Proof)
	require.NoError(err)
	amount = encrypt(t, g, precompile.SecureCounterAddress, alice.addr, func(b *fhe.InputBuilder) { b.Add32(7) })
	result, err = g.DecreaseCounter(ctx, alice.addr, amount.Handles[0], amount.Proof)
	require.NoError(err)

	session, err := fhe.NewDecryptSession(alice.key, g.Network().ChainID, precompile.SecureCounterAddress, []fhe.Handle{result.Value}, testNow, 1)
	require.NoError(err)
	results, err := g.UserDecrypt(ctx, session.Request())
	require.NoError(err)
	values, err := session.Open(results)
	require.NoError(err)
	require.Equal(uint64(1<<32-2), values[result.Value].Uint64())
}

func TestConcurrentCounterUpdates(t *testing.T) {
	require := require.New(t)
	node := newTestNode(t)
	g := node.Gateway
	ctx := context.Background()

	const updaters = 4
	accounts := make([]account, updaters)
	amounts := make([]*InputProof, updaters)
	for i := range accounts {
		accounts[i] = newAccount(t)
		amounts[i] = encrypt(t, g, precompile.SecureCounterAddress, accounts[i].addr, func(b *fhe.InputBuilder) { b.Add32(uint32(i + 1)) })
	}

	var (
		wg      sync.WaitGroup
		results = make([]*CounterResult, updaters)
		errs    = make([]error, updaters)
	)
	for i := range accounts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = g.IncreaseCounter(ctx, accounts[i].addr, amounts[i].Handles[0], amounts[i].Proof)
		}()
	}
	wg.Wait()

	// Every caller can read the value its own update produced.
	var (
		latest  = make(map[fhe.Handle]int, updaters)
		highest uint64
	)
	for i, result := range results {
		require.NoError(errs[i])
		latest[result.Value] = i

		session, err := fhe.NewDecryptSession(accounts[i].key, g.Network().ChainID, precompile.SecureCounterAddress, []fhe.Handle{result.Value}, testNow, 1)
		require.NoError(err)
		decrypted, err := g.UserDecrypt(ctx, session.Request())
		require.NoError(err)
		values, err := session.Open(decrypted)
		require.NoError(err)
		highest = max(highest, values[result.Value].Uint64())
	}
	require.Len(latest, updaters)

	value, err := g.CounterValue(ctx)
	require.NoError(err)
	require.Contains(latest, value)
	require.Equal(uint64(1+2+3+4), highest)
}

func TestHealthCheck(t *testing.T) {
	node := newTestNode(t)
	require.NoError(t, node.Gateway.HealthCheck(context.Background()))
}
