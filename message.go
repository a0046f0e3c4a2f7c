// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package cipherboard holds the records and errors shared by the message
// registry, its on-chain contract and its off-chain clients.
package cipherboard

import (
	"errors"
	"fmt"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/cipherboard/crypto/fhe"
)

const (
	CodecVersion   = 0
	MaxMessageSize = 1 * KiB
)

var (
	// ErrInvalidRecipient is returned when a message is addressed to the
	// zero address.
	ErrInvalidRecipient = errors.New("invalid recipient")

	// ErrInvalidProof is returned when the coprocessor rejects a content
	// handle and its proof.
	ErrInvalidProof = errors.New("invalid encrypted content proof")

	// ErrNotFound is returned for message ids that were never assigned.
	ErrNotFound = errors.New("message not found")

	ErrInvalidMessage  = errors.New("invalid message")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Message is one transmitted communication. Every field is fixed at
// transmission and never changes.
type Message struct {
	ID               uint64         `json:"id"`
	Sender           common.Address `json:"sender"`
	Recipient        common.Address `json:"recipient"`
	Content          fhe.Handle     `json:"content"`
	TransmissionTime uint64         `json:"transmissionTime"`
}

// Verify checks the invariants every stored message satisfies.
func (m *Message) Verify() error {
	if m.Recipient == (common.Address{}) {
		return fmt.Errorf("%w: message %d", ErrInvalidRecipient, m.ID)
	}
	if m.Content.IsZero() {
		return fmt.Errorf("%w: message %d has no content", ErrInvalidMessage, m.ID)
	}
	return nil
}

// Bytes returns the byte representation of the message
func (m *Message) Bytes() []byte {
	b, _ := Codec.Marshal(CodecVersion, m)
	return b
}

// Info is the public metadata of a message.
type Info struct {
	Sender           common.Address `json:"sender"`
	Recipient        common.Address `json:"recipient"`
	TransmissionTime uint64         `json:"transmissionTime"`
}

// Info returns the metadata of m, without its content.
func (m *Message) Info() Info {
	return Info{
		Sender:           m.Sender,
		Recipient:        m.Recipient,
		TransmissionTime: m.TransmissionTime,
	}
}

// IsParticipant reports whether addr sent or received m.
func (m *Message) IsParticipant(addr common.Address) bool {
	return addr == m.Sender || addr == m.Recipient
}

// ParseMessage parses a message written by Bytes.
func ParseMessage(b []byte) (*Message, error) {
	if len(b) > MaxMessageSize {
		return nil, fmt.Errorf("%w: message size %d exceeds maximum %d", ErrInvalidMessage, len(b), MaxMessageSize)
	}
	msg := &Message{}
	if _, err := Codec.Unmarshal(b, msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if err := msg.Verify(); err != nil {
		return nil, err
	}
	return msg, nil
}
