// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cipherboard

import (
	"errors"
	"fmt"

	"github.com/luxfi/cipherboard/crypto/fhe"
)

// Error codes carried on the wire. They are stable across releases.
const (
	CodeInternal int32 = iota
	CodeInvalidRecipient
	CodeInvalidProof
	CodeNotFound
	CodeNotAuthorized
	CodeInvalidRequest
	CodeRequestExpired
	CodeUnauthenticated
)

// Error represents a cipherboard error
type Error struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("cipherboard error %d: %s", e.Code, e.Message)
}

// Is matches the sentinel error behind e's code, so a decoded wire error
// satisfies errors.Is(err, ErrNotFound) like the local one does.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.Code == e.Code
	}
	for _, s := range sentinels {
		if s.code == e.Code && s.err == target {
			return true
		}
	}
	return false
}

var sentinels = []struct {
	err  error
	code int32
}{
	{ErrInvalidRecipient, CodeInvalidRecipient},
	{ErrInvalidProof, CodeInvalidProof},
	{fhe.ErrInvalidProof, CodeInvalidProof},
	{ErrNotFound, CodeNotFound},
	{fhe.ErrNotAuthorized, CodeNotAuthorized},
	{ErrUnauthenticated, CodeUnauthenticated},
	{fhe.ErrRequestExpired, CodeRequestExpired},
	{fhe.ErrInvalidRequest, CodeInvalidRequest},
	{fhe.ErrInvalidDecryptSig, CodeInvalidRequest},
	{fhe.ErrInvalidCiphertext, CodeInvalidRequest},
	{fhe.ErrValueOutOfRange, CodeInvalidRequest},
	{fhe.ErrIncompatibleCiphertexts, CodeInvalidRequest},
	{ErrInvalidContent, CodeInvalidRequest},
	{ErrContentTooLong, CodeInvalidRequest},
	{ErrInvalidRequest, CodeInvalidRequest},
}

// ToError converts err into its wire form. Errors that match no known
// sentinel are reported as CodeInternal.
func ToError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return &Error{Code: s.code, Message: err.Error()}
		}
	}
	return &Error{Code: CodeInternal, Message: err.Error()}
}
