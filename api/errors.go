// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/luxfi/cipherboard"
	"github.com/luxfi/cipherboard/precompile"
)

var (
	errMissingAuthHeaders = errors.New("missing auth headers")
	errInvalidAccount     = errors.New("invalid account")
	errShortNonce         = fmt.Errorf("nonce must be at least %d characters", MinNonceLen)
	errInvalidTimestamp   = errors.New("invalid timestamp")
	errStaleTimestamp     = errors.New("timestamp outside the accepted window")
	errInvalidSignature   = errors.New("invalid signature")
	errReusedNonce        = errors.New("nonce already used")
	errInvalidMessageID   = errors.New("invalid message id")
	errInvalidAddress     = errors.New("invalid address")
	errInvalidBody        = errors.New("invalid request body")
)

var statusCodes = map[int32]int{
	cipherboard.CodeInternal:         http.StatusInternalServerError,
	cipherboard.CodeInvalidRecipient: http.StatusBadRequest,
	cipherboard.CodeInvalidProof:     http.StatusUnprocessableEntity,
	cipherboard.CodeNotFound:         http.StatusNotFound,
	cipherboard.CodeNotAuthorized:    http.StatusForbidden,
	cipherboard.CodeInvalidRequest:   http.StatusBadRequest,
	cipherboard.CodeRequestExpired:   http.StatusBadRequest,
	cipherboard.CodeUnauthenticated:  http.StatusUnauthorized,
}

// toError converts err to its wire form and HTTP status. Internal errors keep
// their details out of the response.
func toError(err error) (*cipherboard.Error, int) {
	if errors.Is(err, precompile.ErrInvalidInput) {
		err = fmt.Errorf("%w: %w", cipherboard.ErrInvalidRequest, err)
	}
	coded := cipherboard.ToError(err)
	status, ok := statusCodes[coded.Code]
	if !ok || status == http.StatusInternalServerError {
		return &cipherboard.Error{Code: cipherboard.CodeInternal, Message: "internal error"}, http.StatusInternalServerError
	}
	return coded, status
}

func writeError(w http.ResponseWriter, err error) {
	coded, status := toError(err)
	writeJSON(w, status, ErrorResponse{Error: coded})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
