// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fhe implements the confidential-computing capability contracts rely
// on: encrypted inputs with proofs, ciphertext handles, an access control list
// over handles, homomorphic arithmetic and user decryption.
//
// Values are never interpreted by contracts. A contract only ever holds a
// Handle; the coprocessor resolves handles to sealed values it alone can open.
package fhe

import (
	"encoding/hex"
	"errors"

	"github.com/luxfi/crypto"
)

// HandleVersion is stamped into the last byte of every handle.
const HandleVersion = 0

var (
	// ErrInvalidProof is returned when an input proof does not verify.
	ErrInvalidProof = errors.New("invalid input proof")

	// ErrInvalidCiphertext is returned when a ciphertext is malformed.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")

	// ErrUnknownHandle is returned for handles the coprocessor never produced.
	ErrUnknownHandle = errors.New("unknown handle")

	// ErrNotAuthorized is returned when an account is not on a handle's ACL.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrIncompatibleCiphertexts is returned when operands can't be combined.
	ErrIncompatibleCiphertexts = errors.New("incompatible ciphertexts")

	// ErrValueOutOfRange is returned when a plaintext does not fit its type.
	ErrValueOutOfRange = errors.New("value out of range")
)

// EncryptedType is the plaintext type a handle encrypts.
type EncryptedType uint8

const (
	EBool EncryptedType = iota
	EUint8
	EUint16
	EUint32
	EUint64
	EUint128
	EUint256
	EAddress
)

func (t EncryptedType) String() string {
	switch t {
	case EBool:
		return "ebool"
	case EUint8:
		return "euint8"
	case EUint16:
		return "euint16"
	case EUint32:
		return "euint32"
	case EUint64:
		return "euint64"
	case EUint128:
		return "euint128"
	case EUint256:
		return "euint256"
	case EAddress:
		return "eaddress"
	default:
		return "unknown"
	}
}

// BitSize returns the plaintext width of the type, or 0 if unknown.
func (t EncryptedType) BitSize() int {
	switch t {
	case EBool:
		return 1
	case EUint8:
		return 8
	case EUint16:
		return 16
	case EUint32:
		return 32
	case EUint64:
		return 64
	case EUint128:
		return 128
	case EUint256:
		return 256
	case EAddress:
		return 160
	default:
		return 0
	}
}

// Valid reports whether t is a known type.
func (t EncryptedType) Valid() bool {
	return t.BitSize() != 0
}

// Handle is an opaque reference to an encrypted value.
type Handle [32]byte

// Type returns the encrypted type stamped into the handle.
func (h Handle) Type() EncryptedType {
	return EncryptedType(h[30])
}

// IsZero reports whether h is the uninitialized handle.
func (h Handle) IsZero() bool {
	return h == Handle{}
}

func (h Handle) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Handle) String() string {
	return h.Hex()
}

// Bytes returns a copy of the handle bytes.
func (h Handle) Bytes() []byte {
	return append([]byte(nil), h[:]...)
}

func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

func (h *Handle) UnmarshalText(text []byte) error {
	parsed, err := HandleFromHex(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// HandleFromHex parses a 0x-prefixed (or bare) hex handle.
func HandleFromHex(s string) (Handle, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Handle{}, err
	}
	if len(b) != len(Handle{}) {
		return Handle{}, ErrInvalidCiphertext
	}
	var h Handle
	copy(h[:], b)
	return h, nil
}

// newHandle derives a handle of type t from the given preimage parts.
func newHandle(t EncryptedType, parts ...[]byte) Handle {
	var h Handle
	copy(h[:], crypto.Keccak256(parts...))
	h[30] = byte(t)
	h[31] = HandleVersion
	return h
}
