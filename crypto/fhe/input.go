// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"golang.org/x/crypto/nacl/box"
)

// EncryptedInput is a batch of values sealed to the network key and bound to
// the contract that will consume them and the user submitting them.
type EncryptedInput struct {
	Contract    common.Address  `json:"contract"`
	User        common.Address  `json:"user"`
	Ciphertexts []hexutil.Bytes `json:"ciphertexts"`
}

type inputValue struct {
	typ   EncryptedType
	value *uint256.Int
}

// InputBuilder collects plaintexts on the client side before encryption.
type InputBuilder struct {
	networkKey *[32]byte
	contract   common.Address
	user       common.Address
	values     []inputValue
	rand       io.Reader
}

// NewInputBuilder returns a builder sealing to networkKey.
func NewInputBuilder(networkKey *[32]byte, contract, user common.Address) *InputBuilder {
	return &InputBuilder{
		networkKey: networkKey,
		contract:   contract,
		user:       user,
		rand:       rand.Reader,
	}
}

func (b *InputBuilder) AddBool(v bool) *InputBuilder {
	var n uint64
	if v {
		n = 1
	}
	return b.add(EBool, uint256.NewInt(n))
}

func (b *InputBuilder) Add8(v uint8) *InputBuilder {
	return b.add(EUint8, uint256.NewInt(uint64(v)))
}

func (b *InputBuilder) Add16(v uint16) *InputBuilder {
	return b.add(EUint16, uint256.NewInt(uint64(v)))
}

func (b *InputBuilder) Add32(v uint32) *InputBuilder {
	return b.add(EUint32, uint256.NewInt(uint64(v)))
}

func (b *InputBuilder) Add64(v uint64) *InputBuilder {
	return b.add(EUint64, uint256.NewInt(v))
}

func (b *InputBuilder) Add256(v *uint256.Int) *InputBuilder {
	return b.add(EUint256, new(uint256.Int).Set(v))
}

func (b *InputBuilder) AddAddress(addr common.Address) *InputBuilder {
	return b.add(EAddress, new(uint256.Int).SetBytes(addr.Bytes()))
}

func (b *InputBuilder) add(t EncryptedType, v *uint256.Int) *InputBuilder {
	b.values = append(b.values, inputValue{typ: t, value: v})
	return b
}

// Len returns the number of values added so far.
func (b *InputBuilder) Len() int {
	return len(b.values)
}

// Encrypt seals every value anonymously to the network key. Each ciphertext
// is the type byte followed by the sealed 32-byte big-endian plaintext.
func (b *InputBuilder) Encrypt() (*EncryptedInput, error) {
	if len(b.values) == 0 {
		return nil, fmt.Errorf("%w: no values", ErrInvalidCiphertext)
	}
	if len(b.values) > MaxInputValues {
		return nil, fmt.Errorf("%w: %d values, max %d", ErrInvalidCiphertext, len(b.values), MaxInputValues)
	}
	in := &EncryptedInput{
		Contract:    b.contract,
		User:        b.user,
		Ciphertexts: make([]hexutil.Bytes, 0, len(b.values)),
	}
	for _, v := range b.values {
		plain := v.value.Bytes32()
		sealed, err := box.SealAnonymous([]byte{byte(v.typ)}, plain[:], b.networkKey, b.rand)
		if err != nil {
			return nil, fmt.Errorf("failed to seal %s input: %w", v.typ, err)
		}
		in.Ciphertexts = append(in.Ciphertexts, sealed)
	}
	return in, nil
}
