// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chain

import (
	"context"
	"math/big"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/cipherboard"
	"github.com/luxfi/cipherboard/board"
	"github.com/luxfi/cipherboard/crypto/fhe"
	"github.com/luxfi/cipherboard/database"
	"github.com/luxfi/cipherboard/precompile"
	"github.com/luxfi/cipherboard/state"
)

const testGas = 1_000_000

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type testEnv struct {
	chain       *Chain
	coprocessor *fhe.Coprocessor
	now         time.Time
}

func newTestEnv(t *testing.T, db database.Database, coprocessor *fhe.Coprocessor) *testEnv {
	t.Helper()
	env := &testEnv{coprocessor: coprocessor, now: time.Unix(1_700_000_000, 0)}
	c, err := New(db, func() time.Time { return env.now }, log.NewNoOpLogger())
	require.NoError(t, err)
	registry := board.New(precompile.CipherBoardAddress, coprocessor, 0, log.NewNoOpLogger())
	require.NoError(t, c.Register(precompile.NewCipherBoardModule(registry)))
	env.chain = c
	return env
}

func newCoprocessor(t *testing.T) *fhe.Coprocessor {
	t.Helper()
	keys, err := fhe.GenerateKeySet()
	require.NoError(t, err)
	coprocessor, err := fhe.New(ids.GenerateTestID(), keys)
	require.NoError(t, err)
	return coprocessor
}

func (e *testEnv) transmitInput(t *testing.T, sender, recipient common.Address, text string) []byte {
	t.Helper()
	v, err := cipherboard.EncodeContent(text)
	require.NoError(t, err)
	networkKey := e.coprocessor.NetworkKey()
	in, err := fhe.NewInputBuilder(&networkKey, precompile.CipherBoardAddress, sender).Add256(v).Encrypt()
	require.NoError(t, err)

	var (
		handles []fhe.Handle
		proof   []byte
	)
	require.NoError(t, e.chain.Update(func(st state.ReadWriter) error {
		handles, proof, err = e.coprocessor.VerifyInput(st, in)
		return err
	}))
	input, err := precompile.PackTransmit(recipient, handles[0], proof)
	require.NoError(t, err)
	return input
}

func countInput(t *testing.T) []byte {
	t.Helper()
	input, err := precompile.CipherBoardContractABI.Pack("getTotalCommunications")
	require.NoError(t, err)
	return input
}

func (e *testEnv) count(t *testing.T) uint64 {
	t.Helper()
	ret, err := e.chain.StaticCall(context.Background(), alice, precompile.CipherBoardAddress, countInput(t))
	require.NoError(t, err)
	out, err := precompile.CipherBoardContractABI.Unpack("getTotalCommunications", ret)
	require.NoError(t, err)
	return out[0].(*big.Int).Uint64()
}

func TestCallCommitsBlock(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t, database.NewMemDB(), newCoprocessor(t))

	logs := make(chan []*types.Log, 1)
	sub := env.chain.SubscribeLogs(logs)
	defer sub.Unsubscribe()

	input := env.transmitInput(t, alice, bob, "hi bob")
	receipt, err := env.chain.Call(context.Background(), alice, precompile.CipherBoardAddress, input, nil, testGas)
	require.NoError(err)
	require.Equal(uint64(1), receipt.BlockNumber)
	require.Equal(uint64(1_700_000_000), receipt.Timestamp)
	require.Equal(uint64(precompile.TransmitSecureMessageGas), receipt.GasUsed)
	require.Len(receipt.Logs, 1)
	require.Equal(receipt.TxHash, receipt.Logs[0].TxHash)
	require.Equal(uint64(1), env.chain.Height())

	select {
	case delivered := <-logs:
		event, ok, err := precompile.UnpackTransmittedLog(delivered[0])
		require.NoError(err)
		require.True(ok)
		require.Equal(alice, event.Sender)
		require.Equal(bob, event.Recipient)
		require.Zero(event.MessageID)
		require.Equal(receipt.TxHash, event.TxHash)
	case <-time.After(time.Second):
		require.FailNow("no logs delivered")
	}

	require.Equal(uint64(1), env.count(t))
}

func TestStalledSubscriberDoesNotBlockCalls(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t, database.NewMemDB(), newCoprocessor(t))

	stalled := make(chan []*types.Log)
	sub := env.chain.SubscribeLogs(stalled)
	defer sub.Unsubscribe()

	inputs := [][]byte{
		env.transmitInput(t, alice, bob, "first"),
		env.transmitInput(t, alice, bob, "second"),
	}
	done := make(chan error, 1)
	go func() {
		for _, input := range inputs {
			if _, err := env.chain.Call(context.Background(), alice, precompile.CipherBoardAddress, input, nil, testGas); err != nil {
				done <- err
				return
			}
		}
		_, err := env.chain.StaticCall(context.Background(), alice, precompile.CipherBoardAddress, countInput(t))
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(err)
	case <-time.After(2 * time.Second):
		require.FailNow("calls blocked on a subscriber that isn't reading")
	}
	require.NoError(env.chain.HealthCheck(context.Background()))

	// Queued logs still arrive, in block order.
	for want := uint64(1); want <= 2; want++ {
		select {
		case logs := <-stalled:
			require.Equal(want, logs[0].BlockNumber)
		case <-time.After(time.Second):
			require.FailNow("no logs delivered")
		}
	}
}

func TestFailedCallCommitsNothing(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t, database.NewMemDB(), newCoprocessor(t))

	input := env.transmitInput(t, alice, common.Address{}, "nobody")
	_, err := env.chain.Call(context.Background(), alice, precompile.CipherBoardAddress, input, nil, testGas)
	require.ErrorIs(err, cipherboard.ErrInvalidRecipient)
	require.Zero(env.chain.Height())
	require.Zero(env.count(t))

	_, err = env.chain.Call(context.Background(), alice, common.HexToAddress("0x99"), input, nil, testGas)
	require.ErrorIs(err, ErrUnknownContract)
}

func TestCallHonorsContext(t *testing.T) {
	env := newTestEnv(t, database.NewMemDB(), newCoprocessor(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.chain.Call(ctx, alice, precompile.CipherBoardAddress, nil, nil, testGas)
	require.ErrorIs(t, err, context.Canceled)
	_, err = env.chain.StaticCall(ctx, alice, precompile.CipherBoardAddress, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestTimestampsNeverGoBackwards(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t, database.NewMemDB(), newCoprocessor(t))

	first, err := env.chain.Call(context.Background(), alice, precompile.CipherBoardAddress, env.transmitInput(t, alice, bob, "1"), nil, testGas)
	require.NoError(err)

	env.now = env.now.Add(-time.Hour)
	second, err := env.chain.Call(context.Background(), alice, precompile.CipherBoardAddress, env.transmitInput(t, alice, bob, "2"), nil, testGas)
	require.NoError(err)
	require.Equal(first.Timestamp, second.Timestamp)
}

func TestConcurrentTransmitsGetDistinctIDs(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t, database.NewMemDB(), newCoprocessor(t))

	const senders = 16
	inputs := make([][]byte, senders)
	for i := range inputs {
		inputs[i] = env.transmitInput(t, alice, bob, "concurrent")
	}

	var (
		wg   sync.WaitGroup
		lock sync.Mutex
		seen []uint64
	)
	for _, input := range inputs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			receipt, err := env.chain.Call(context.Background(), alice, precompile.CipherBoardAddress, input, nil, testGas)
			if !assertNoError(t, err) {
				return
			}
			out, err := precompile.CipherBoardContractABI.Unpack("transmitSecureMessage", receipt.ReturnData)
			if !assertNoError(t, err) {
				return
			}
			lock.Lock()
			seen = append(seen, out[0].(*big.Int).Uint64())
			lock.Unlock()
		}()
	}
	wg.Wait()

	slices.Sort(seen)
	want := make([]uint64, senders)
	for i := range want {
		want[i] = uint64(i)
	}
	require.Equal(want, seen)
	require.Equal(uint64(senders), env.count(t))
	require.Equal(uint64(senders), env.chain.Height())
}

func assertNoError(t *testing.T, err error) bool {
	t.Helper()
	if err != nil {
		t.Error(err)
		return false
	}
	return true
}

func TestChainReopens(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	coprocessor := newCoprocessor(t)

	db, err := database.NewBadgerDB(dir)
	require.NoError(err)
	env := newTestEnv(t, db, coprocessor)
	_, err = env.chain.Call(context.Background(), alice, precompile.CipherBoardAddress, env.transmitInput(t, alice, bob, "durable"), nil, testGas)
	require.NoError(err)
	require.NoError(env.chain.HealthCheck(context.Background()))
	require.NoError(env.chain.Close())
	require.Error(env.chain.HealthCheck(context.Background()))

	db, err = database.NewBadgerDB(dir)
	require.NoError(err)
	reopened := newTestEnv(t, db, coprocessor)
	defer reopened.chain.Close()
	require.Equal(uint64(1), reopened.chain.Height())
	require.Equal(uint64(1), reopened.count(t))

	require.ErrorIs(reopened.chain.Register(precompile.NewCipherBoardModule(
		board.New(precompile.CipherBoardAddress, coprocessor, 0, log.NewNoOpLogger()),
	)), ErrDuplicateContract)
}
