// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cipherboard

import (
	"github.com/luxfi/geth/common"
)

// TransmittedEvent announces a new message. It never carries the content.
type TransmittedEvent struct {
	Sender           common.Address `json:"sender"`
	Recipient        common.Address `json:"recipient"`
	MessageID        uint64         `json:"messageId"`
	TransmissionTime uint64         `json:"transmissionTime"`
	BlockNumber      uint64         `json:"blockNumber"`
	TxHash           common.Hash    `json:"txHash"`
}

// NewTransmittedEvent returns the event for msg.
func NewTransmittedEvent(msg *Message) *TransmittedEvent {
	return &TransmittedEvent{
		Sender:           msg.Sender,
		Recipient:        msg.Recipient,
		MessageID:        msg.ID,
		TransmissionTime: msg.TransmissionTime,
	}
}
