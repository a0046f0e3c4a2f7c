// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/holiman/uint256"
	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"
	"github.com/luxfi/math/set"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/nacl/box"

	"github.com/luxfi/cipherboard/database"
	"github.com/luxfi/cipherboard/state"
)

const (
	// MaxInputValues bounds the number of values in one encrypted input.
	MaxInputValues = 255

	signatureLen = 65
	handleLen    = len(Handle{})
)

var errMissingKeys = errors.New("missing coprocessor keys")

var (
	ciphertextPrefix = []byte("fhe/ct/")
	aclPrefix        = []byte("fhe/acl/")
	noncePrefix      = []byte("fhe/nonce")

	inputDomain   = []byte("input")
	trivialDomain = []byte("trivial")
	resultDomain  = []byte("result")
)

// Coprocessor owns the secret keys and resolves handles to plaintexts. All
// persistent bookkeeping (sealed values, ACL entries) lives in contract state
// so it commits or rolls back with the transaction that produced it.
type Coprocessor struct {
	chainID    ids.ID
	keys       *KeySet
	signer     common.Address
	networkKey [32]byte
	aead       cipher.AEAD
	rand       io.Reader
}

// New returns a coprocessor for chainID using keys.
func New(chainID ids.ID, keys *KeySet) (*Coprocessor, error) {
	if keys == nil || keys.Signer == nil {
		return nil, errMissingKeys
	}
	pub, err := keys.NetworkPublicKey()
	if err != nil {
		return nil, fmt.Errorf("failed to derive network key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(keys.SealKey[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create seal cipher: %w", err)
	}
	return &Coprocessor{
		chainID:    chainID,
		keys:       keys,
		signer:     common.Address(crypto.PubkeyToAddress(keys.Signer.PublicKey)),
		networkKey: *pub,
		aead:       aead,
		rand:       rand.Reader,
	}, nil
}

// ChainID returns the chain the coprocessor's handles are bound to.
func (c *Coprocessor) ChainID() ids.ID {
	return c.chainID
}

// Signer returns the address that attests input proofs.
func (c *Coprocessor) Signer() common.Address {
	return c.signer
}

// NetworkKey returns the public key clients seal inputs to.
func (c *Coprocessor) NetworkKey() [32]byte {
	return c.networkKey
}

// VerifyInput opens every ciphertext of in, checks it against its declared
// type and stores it. It returns the handle of each value, in input order,
// and a proof binding those handles to in.Contract and in.User.
func (c *Coprocessor) VerifyInput(st state.ReadWriter, in *EncryptedInput) ([]Handle, []byte, error) {
	if len(in.Ciphertexts) == 0 || len(in.Ciphertexts) > MaxInputValues {
		return nil, nil, fmt.Errorf("%w: %d values", ErrInvalidCiphertext, len(in.Ciphertexts))
	}

	handles := make([]Handle, len(in.Ciphertexts))
	values := make([]*uint256.Int, len(in.Ciphertexts))
	for i, ct := range in.Ciphertexts {
		if len(ct) < 1+box.AnonymousOverhead {
			return nil, nil, fmt.Errorf("%w: value %d is %d bytes", ErrInvalidCiphertext, i, len(ct))
		}
		t := EncryptedType(ct[0])
		if !t.Valid() {
			return nil, nil, fmt.Errorf("%w: value %d has unknown type %d", ErrInvalidCiphertext, i, ct[0])
		}
		plain, ok := box.OpenAnonymous(nil, ct[1:], &c.networkKey, &c.keys.NetworkSecret)
		if !ok || len(plain) != 32 {
			return nil, nil, fmt.Errorf("%w: value %d does not open", ErrInvalidCiphertext, i)
		}
		v := new(uint256.Int).SetBytes32(plain)
		if v.BitLen() > t.BitSize() {
			return nil, nil, fmt.Errorf("%w: value %d exceeds %s", ErrValueOutOfRange, i, t)
		}
		handles[i] = newHandle(t, inputDomain, ct, binary.BigEndian.AppendUint16(nil, uint16(i)), in.Contract.Bytes(), in.User.Bytes(), c.chainID[:])
		values[i] = v
	}

	for i, h := range handles {
		if err := c.store(st, h, values[i]); err != nil {
			return nil, nil, err
		}
	}

	sig, err := crypto.Sign(c.proofDigest(handles, in.Contract, in.User), c.keys.Signer)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to sign input proof: %w", err)
	}
	proof := make([]byte, 0, 1+len(handles)*handleLen+signatureLen)
	proof = append(proof, byte(len(handles)))
	for _, h := range handles {
		proof = append(proof, h[:]...)
	}
	proof = append(proof, sig...)
	return handles, proof, nil
}

// FromExternal checks that handle was produced by VerifyInput for contract and
// user, as attested by proof. Every failure is reported as ErrInvalidProof.
func (c *Coprocessor) FromExternal(st state.Reader, handle Handle, proof []byte, contract, user common.Address) error {
	handles, sig, err := parseProof(proof)
	if err != nil {
		return err
	}
	pub, err := crypto.SigToPub(c.proofDigest(handles, contract, user), sig)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProof, err)
	}
	if common.Address(crypto.PubkeyToAddress(*pub)) != c.signer {
		return fmt.Errorf("%w: not signed by coprocessor", ErrInvalidProof)
	}
	if !set.Of(handles...).Contains(handle) {
		return fmt.Errorf("%w: handle %s not in proof", ErrInvalidProof, handle)
	}
	if _, err := st.GetState(state.Key(ciphertextPrefix, handle[:])); err != nil {
		if database.IsNotFound(err) {
			return fmt.Errorf("%w: handle %s not stored", ErrInvalidProof, handle)
		}
		return err
	}
	return nil
}

func parseProof(proof []byte) ([]Handle, []byte, error) {
	if len(proof) < 1 || proof[0] == 0 {
		return nil, nil, fmt.Errorf("%w: empty proof", ErrInvalidProof)
	}
	n := int(proof[0])
	if len(proof) != 1+n*handleLen+signatureLen {
		return nil, nil, fmt.Errorf("%w: malformed proof of %d bytes", ErrInvalidProof, len(proof))
	}
	handles := make([]Handle, n)
	for i := range handles {
		copy(handles[i][:], proof[1+i*handleLen:])
	}
	return handles, proof[1+n*handleLen:], nil
}

func (c *Coprocessor) proofDigest(handles []Handle, contract, user common.Address) []byte {
	parts := make([][]byte, 0, len(handles)+3)
	for _, h := range handles {
		parts = append(parts, h[:])
	}
	parts = append(parts, contract.Bytes(), user.Bytes(), c.chainID[:])
	return crypto.Keccak256(parts...)
}

// TrivialEncrypt wraps a public value of type t into a fresh handle allowed
// to caller.
func (c *Coprocessor) TrivialEncrypt(st state.ReadWriter, caller common.Address, v *uint256.Int, t EncryptedType) (Handle, error) {
	if !t.Valid() {
		return Handle{}, fmt.Errorf("%w: unknown type %d", ErrIncompatibleCiphertexts, t)
	}
	if v.BitLen() > t.BitSize() {
		return Handle{}, fmt.Errorf("%w: %s for %s", ErrValueOutOfRange, v.Hex(), t)
	}
	h, err := c.freshHandle(st, t, trivialDomain)
	if err != nil {
		return Handle{}, err
	}
	if err := c.store(st, h, v); err != nil {
		return Handle{}, err
	}
	Allow(st, h, caller)
	return h, nil
}

// Add returns a handle to a+b modulo 2^bits of their type. caller must be
// allowed on both operands and is allowed on the result.
func (c *Coprocessor) Add(st state.ReadWriter, caller common.Address, a, b Handle) (Handle, error) {
	return c.binary(st, caller, a, b, func(z, x, y *uint256.Int) { z.Add(x, y) })
}

// Sub returns a handle to a-b modulo 2^bits of their type. caller must be
// allowed on both operands and is allowed on the result.
func (c *Coprocessor) Sub(st state.ReadWriter, caller common.Address, a, b Handle) (Handle, error) {
	return c.binary(st, caller, a, b, func(z, x, y *uint256.Int) { z.Sub(x, y) })
}

func (c *Coprocessor) binary(st state.ReadWriter, caller common.Address, a, b Handle, op func(z, x, y *uint256.Int)) (Handle, error) {
	t := a.Type()
	if t != b.Type() {
		return Handle{}, fmt.Errorf("%w: %s and %s", ErrIncompatibleCiphertexts, t, b.Type())
	}
	if t == EBool || t == EAddress || !t.Valid() {
		return Handle{}, fmt.Errorf("%w: arithmetic on %s", ErrIncompatibleCiphertexts, t)
	}
	x, err := c.operand(st, caller, a)
	if err != nil {
		return Handle{}, err
	}
	y, err := c.operand(st, caller, b)
	if err != nil {
		return Handle{}, err
	}

	z := new(uint256.Int)
	op(z, x, y)
	truncate(z, t.BitSize())

	h, err := c.freshHandle(st, t, resultDomain, a[:], b[:])
	if err != nil {
		return Handle{}, err
	}
	if err := c.store(st, h, z); err != nil {
		return Handle{}, err
	}
	Allow(st, h, caller)
	return h, nil
}

func (c *Coprocessor) operand(st state.Reader, caller common.Address, h Handle) (*uint256.Int, error) {
	ok, err := IsAllowed(st, h, caller)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrNotAuthorized, caller, h)
	}
	return c.load(st, h)
}

func truncate(z *uint256.Int, bits int) {
	if bits >= 256 {
		return
	}
	mask := new(uint256.Int).Lsh(uint256.NewInt(1), uint(bits))
	mask.SubUint64(mask, 1)
	z.And(z, mask)
}

// freshHandle derives a unique handle from a persistent counter.
func (c *Coprocessor) freshHandle(st state.ReadWriter, t EncryptedType, domain []byte, parts ...[]byte) (Handle, error) {
	nonce, err := state.GetUint64(st, noncePrefix)
	if err != nil {
		return Handle{}, fmt.Errorf("failed to read handle nonce: %w", err)
	}
	state.SetUint64(st, noncePrefix, nonce+1)

	preimage := [][]byte{domain, binary.BigEndian.AppendUint64(nil, nonce), c.chainID[:]}
	return newHandle(t, append(preimage, parts...)...), nil
}

func (c *Coprocessor) store(st state.ReadWriter, h Handle, v *uint256.Int) error {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return fmt.Errorf("failed to read seal nonce: %w", err)
	}
	plain := v.Bytes32()
	st.SetState(state.Key(ciphertextPrefix, h[:]), c.aead.Seal(nonce, nonce, plain[:], h[:]))
	return nil
}

func (c *Coprocessor) load(st state.Reader, h Handle) (*uint256.Int, error) {
	sealed, err := st.GetState(state.Key(ciphertextPrefix, h[:]))
	if database.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	if err != nil {
		return nil, err
	}
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("%w: sealed value of %s truncated", ErrInvalidCiphertext, h)
	}
	nonce, ct := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	plain, err := c.aead.Open(nil, nonce, ct, h[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidCiphertext, h, err)
	}
	return new(uint256.Int).SetBytes32(plain), nil
}
