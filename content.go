// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cipherboard

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// MaxContentLen is the longest text that fits one euint256.
const MaxContentLen = 32

var (
	ErrContentTooLong = errors.New("content too long")
	ErrInvalidContent = errors.New("invalid content")
)

// EncodeContent packs text big-endian into a 256-bit value.
func EncodeContent(text string) (*uint256.Int, error) {
	switch {
	case len(text) == 0:
		return nil, fmt.Errorf("%w: empty", ErrInvalidContent)
	case len(text) > MaxContentLen:
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrContentTooLong, len(text), MaxContentLen)
	case strings.IndexByte(text, 0) >= 0:
		return nil, fmt.Errorf("%w: contains NUL", ErrInvalidContent)
	}
	return new(uint256.Int).SetBytes([]byte(text)), nil
}

// DecodeContent reverses EncodeContent.
func DecodeContent(v *uint256.Int) string {
	return string(v.Bytes())
}
