// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package board

import (
	"errors"
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/cipherboard"
	"github.com/luxfi/cipherboard/crypto/fhe"
	"github.com/luxfi/cipherboard/database"
	"github.com/luxfi/cipherboard/state"
)

var (
	contract = common.HexToAddress("0x0300000000000000000000000000000000000010")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol    = common.HexToAddress("0x00000000000000000000000000000000000ca201")
)

type testEnv struct {
	db          *database.MemDB
	coprocessor *fhe.Coprocessor
	registry    *Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	keys, err := fhe.GenerateKeySet()
	require.NoError(t, err)
	coprocessor, err := fhe.New(ids.GenerateTestID(), keys)
	require.NoError(t, err)
	return &testEnv{
		db:          database.NewMemDB(),
		coprocessor: coprocessor,
		registry:    New(contract, coprocessor, 0, log.NewNoOpLogger()),
	}
}

// encrypt produces a handle and proof for sender, committed like the relayer
// would before the transaction is submitted.
func (e *testEnv) encrypt(t *testing.T, sender common.Address, build func(*fhe.InputBuilder)) (fhe.Handle, []byte) {
	t.Helper()
	networkKey := e.coprocessor.NetworkKey()
	b := fhe.NewInputBuilder(&networkKey, contract, sender)
	build(b)
	in, err := b.Encrypt()
	require.NoError(t, err)

	st := state.New(e.db)
	handles, proof, err := e.coprocessor.VerifyInput(st, in)
	require.NoError(t, err)
	require.NoError(t, st.Commit(e.db.NewBatch()))
	return handles[0], proof
}

func (e *testEnv) encryptText(t *testing.T, sender common.Address, text string) (fhe.Handle, []byte) {
	t.Helper()
	v, err := cipherboard.EncodeContent(text)
	require.NoError(t, err)
	return e.encrypt(t, sender, func(b *fhe.InputBuilder) { b.Add256(v) })
}

func (e *testEnv) transmit(t *testing.T, sender, recipient common.Address, timestamp uint64) *cipherboard.Message {
	t.Helper()
	handle, proof := e.encryptText(t, sender, "hello")
	st := state.New(e.db)
	msg, err := e.registry.Transmit(st, sender, timestamp, recipient, handle, proof)
	require.NoError(t, err)
	require.NoError(t, st.Commit(e.db.NewBatch()))
	return msg
}

func TestTransmitSequentialIDs(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	m0 := env.transmit(t, alice, bob, 100)
	m1 := env.transmit(t, bob, alice, 101)
	m2 := env.transmit(t, alice, carol, 102)
	require.Equal(uint64(0), m0.ID)
	require.Equal(uint64(1), m1.ID)
	require.Equal(uint64(2), m2.ID)

	st := state.New(env.db)
	count, err := env.registry.TotalCount(st)
	require.NoError(err)
	require.Equal(uint64(3), count)

	sent, err := env.registry.IDsBySender(st, alice)
	require.NoError(err)
	require.Equal([]uint64{0, 2}, sent)

	received, err := env.registry.IDsForRecipient(st, alice)
	require.NoError(err)
	require.Equal([]uint64{1}, received)

	info, err := env.registry.Info(st, 2)
	require.NoError(err)
	require.Equal(cipherboard.Info{Sender: alice, Recipient: carol, TransmissionTime: 102}, info)

	content, err := env.registry.Content(st, 1)
	require.NoError(err)
	require.Equal(m1.Content, content)
}

func TestTransmitGrantsAccess(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	msg := env.transmit(t, alice, bob, 100)

	st := state.New(env.db)
	for _, account := range []common.Address{contract, alice, bob} {
		ok, err := fhe.IsAllowed(st, msg.Content, account)
		require.NoError(err)
		require.True(ok, account.Hex())
	}
	ok, err := fhe.IsAllowed(st, msg.Content, carol)
	require.NoError(err)
	require.False(ok)
}

func TestTransmitToSelf(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	msg := env.transmit(t, alice, alice, 100)

	st := state.New(env.db)
	sent, err := env.registry.IDsBySender(st, alice)
	require.NoError(err)
	require.Equal([]uint64{msg.ID}, sent)

	received, err := env.registry.IDsForRecipient(st, alice)
	require.NoError(err)
	require.Equal([]uint64{msg.ID}, received)

	ok, err := fhe.IsAllowed(st, msg.Content, alice)
	require.NoError(err)
	require.True(ok)
}

func TestTransmitRejects(t *testing.T) {
	env := newTestEnv(t)
	handle, proof := env.encryptText(t, alice, "hi")
	smallHandle, smallProof := env.encrypt(t, alice, func(b *fhe.InputBuilder) { b.Add32(5) })

	tests := []struct {
		name      string
		sender    common.Address
		recipient common.Address
		handle    fhe.Handle
		proof     []byte
		wantErr   error
	}{
		{"zero recipient", alice, common.Address{}, handle, proof, cipherboard.ErrInvalidRecipient},
		{"proof for another sender", bob, carol, handle, proof, cipherboard.ErrInvalidProof},
		{"missing proof", alice, bob, handle, nil, cipherboard.ErrInvalidProof},
		{"unproven handle", alice, bob, fhe.Handle{1}, proof, cipherboard.ErrInvalidProof},
		{"wrong content type", alice, bob, smallHandle, smallProof, cipherboard.ErrInvalidProof},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require := require.New(t)

			st := state.New(env.db)
			_, err := env.registry.Transmit(st, test.sender, 100, test.recipient, test.handle, test.proof)
			require.ErrorIs(err, test.wantErr)
			require.Zero(st.Dirty())
		})
	}

	count, err := env.registry.TotalCount(state.New(env.db))
	require.NoError(t, err)
	require.Zero(t, count)
}

type failingCoprocessor struct {
	err error
}

func (f failingCoprocessor) FromExternal(state.Reader, fhe.Handle, []byte, common.Address, common.Address) error {
	return f.err
}

func TestTransmitStorageFailureIsNotInvalidProof(t *testing.T) {
	errDisk := errors.New("disk unavailable")
	registry := New(contract, failingCoprocessor{err: errDisk}, 0, log.NewNoOpLogger())

	_, err := registry.Transmit(state.New(database.NewMemDB()), alice, 100, bob, fhe.Handle{1}, nil)
	require.ErrorIs(t, err, errDisk)
	require.NotErrorIs(t, err, cipherboard.ErrInvalidProof)
}

func TestReadsOnEmptyRegistry(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	st := state.New(env.db)

	count, err := env.registry.TotalCount(st)
	require.NoError(err)
	require.Zero(count)

	_, err = env.registry.Content(st, 0)
	require.ErrorIs(err, cipherboard.ErrNotFound)

	_, err = env.registry.Info(st, 42)
	require.ErrorIs(err, cipherboard.ErrNotFound)

	sent, err := env.registry.IDsBySender(st, alice)
	require.NoError(err)
	require.Empty(sent)
	require.NotNil(sent)
}

func TestFailedTransactionLeavesNoTrace(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	handle, proof := env.encryptText(t, alice, "lost")

	// A transmit whose state is never committed.
	st := state.New(env.db)
	_, err := env.registry.Transmit(st, alice, 100, bob, handle, proof)
	require.NoError(err)

	committed := state.New(env.db)
	count, err := env.registry.TotalCount(committed)
	require.NoError(err)
	require.Zero(count)
	ok, err := fhe.IsAllowed(committed, handle, bob)
	require.NoError(err)
	require.False(ok)

	// The next committed message still gets id 0.
	msg := env.transmit(t, alice, bob, 101)
	require.Zero(msg.ID)
}

func TestRegistriesAreNamespaced(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	env.transmit(t, alice, bob, 100)

	other := New(common.HexToAddress("0x0300000000000000000000000000000000000099"), env.coprocessor, 0, log.NewNoOpLogger())
	count, err := other.TotalCount(state.New(env.db))
	require.NoError(err)
	require.Zero(count)
}
