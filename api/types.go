// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"strconv"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"

	"github.com/luxfi/cipherboard"
	"github.com/luxfi/cipherboard/crypto/fhe"
)

// Paths served by the router.
const (
	HealthPath           = "/health"
	MetricsPath          = "/metrics"
	NetworkPath          = "/v1/network"
	InputsPath           = "/v1/inputs"
	DecryptPath          = "/v1/decrypt"
	MessagesPath         = "/v1/messages"
	MessageCountPath     = "/v1/messages/count"
	CounterPath          = "/v1/counter"
	CounterIncreasePath  = "/v1/counter/increase"
	CounterDecreasePath  = "/v1/counter/decrease"
	EventsPath           = "/v1/events"
	sendersPathPrefix    = "/v1/senders/"
	recipientsPathPrefix = "/v1/recipients/"
)

// MessagePath is the path of message id.
func MessagePath(id uint64) string {
	return MessagesPath + "/" + strconv.FormatUint(id, 10)
}

// SenderMessagesPath is the path listing the messages sent by addr.
func SenderMessagesPath(addr common.Address) string {
	return sendersPathPrefix + addr.Hex() + "/messages"
}

// RecipientMessagesPath is the path listing the messages addressed to addr.
func RecipientMessagesPath(addr common.Address) string {
	return recipientsPathPrefix + addr.Hex() + "/messages"
}

type TransmitRequest struct {
	Recipient common.Address `json:"recipient"`
	Content   fhe.Handle     `json:"content"`
	Proof     hexutil.Bytes  `json:"proof"`
}

type CounterUpdateRequest struct {
	Amount fhe.Handle    `json:"amount"`
	Proof  hexutil.Bytes `json:"proof"`
}

type DecryptResponse struct {
	Results []fhe.DecryptResult `json:"results"`
}

type CountResponse struct {
	Count uint64 `json:"count"`
}

type MessageIDsResponse struct {
	MessageIDs []uint64 `json:"messageIds"`
}

type ContentResponse struct {
	Content fhe.Handle `json:"content"`
}

type CounterResponse struct {
	Value fhe.Handle `json:"value"`
}

type ErrorResponse struct {
	Error *cipherboard.Error `json:"error"`
}
