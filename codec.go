// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cipherboard

import (
	"encoding/binary"
	"fmt"

	"github.com/luxfi/geth/rlp"
)

const codecVersionLen = 2

// CodecImpl serializes stored records as a version prefix followed by RLP.
type CodecImpl struct{}

// Codec is the default codec instance
var Codec = &CodecImpl{}

// Marshal serializes v under version.
func (c *CodecImpl) Marshal(version uint16, v interface{}) ([]byte, error) {
	body, err := rlp.EncodeToBytes(v)
	if err != nil {
		return nil, err
	}
	b := make([]byte, codecVersionLen, codecVersionLen+len(body))
	binary.BigEndian.PutUint16(b, version)
	return append(b, body...), nil
}

// Unmarshal deserializes b into v and returns the version it was written with.
func (c *CodecImpl) Unmarshal(b []byte, v interface{}) (uint16, error) {
	if len(b) < codecVersionLen {
		return 0, fmt.Errorf("%w: %d bytes", ErrInvalidMessage, len(b))
	}
	version := binary.BigEndian.Uint16(b)
	if version != CodecVersion {
		return version, fmt.Errorf("%w: unknown codec version %d", ErrInvalidMessage, version)
	}
	return version, rlp.DecodeBytes(b[codecVersionLen:], v)
}
