// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/cipherboard"
	"github.com/luxfi/cipherboard/crypto/fhe"
	"github.com/luxfi/cipherboard/relayer"
)

func (s *server) network(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.backend.Network())
}

func (s *server) encryptInput(w http.ResponseWriter, r *http.Request) {
	var in fhe.EncryptedInput
	if !s.decode(w, r, &in) {
		return
	}
	proof, err := s.backend.EncryptInput(r.Context(), &in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, proof)
}

func (s *server) userDecrypt(w http.ResponseWriter, r *http.Request) {
	var req fhe.DecryptRequest
	if !s.decode(w, r, &req) {
		return
	}
	results, err := s.backend.UserDecrypt(r.Context(), &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DecryptResponse{Results: results})
}

func (s *server) transmit(w http.ResponseWriter, r *http.Request) {
	var req TransmitRequest
	if !s.decode(w, r, &req) {
		return
	}
	sender, _ := AccountFromContext(r.Context())
	result, err := s.backend.Transmit(r.Context(), sender, req.Recipient, req.Content, req.Proof)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *server) message(w http.ResponseWriter, r *http.Request) {
	id, ok := s.messageID(w, r)
	if !ok {
		return
	}
	msg, err := s.backend.Message(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *server) content(w http.ResponseWriter, r *http.Request) {
	id, ok := s.messageID(w, r)
	if !ok {
		return
	}
	content, err := s.backend.Content(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ContentResponse{Content: content})
}

func (s *server) idsBySender(w http.ResponseWriter, r *http.Request) {
	s.messageIDs(w, r, s.backend.IDsBySender)
}

func (s *server) idsForRecipient(w http.ResponseWriter, r *http.Request) {
	s.messageIDs(w, r, s.backend.IDsForRecipient)
}

func (s *server) messageIDs(w http.ResponseWriter, r *http.Request, list func(context.Context, common.Address) ([]uint64, error)) {
	addr := chi.URLParam(r, "addr")
	if !common.IsHexAddress(addr) {
		s.fail(w, r, fmt.Errorf("%w: %w %q", cipherboard.ErrInvalidRequest, errInvalidAddress, addr))
		return
	}
	ids, err := list(r.Context(), common.HexToAddress(addr))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageIDsResponse{MessageIDs: ids})
}

func (s *server) totalCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.backend.TotalCount(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: count})
}

func (s *server) counterValue(w http.ResponseWriter, r *http.Request) {
	value, err := s.backend.CounterValue(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CounterResponse{Value: value})
}

func (s *server) increaseCounter(w http.ResponseWriter, r *http.Request) {
	s.updateCounter(w, r, s.backend.IncreaseCounter)
}

func (s *server) decreaseCounter(w http.ResponseWriter, r *http.Request) {
	s.updateCounter(w, r, s.backend.DecreaseCounter)
}

type counterUpdate func(ctx context.Context, caller common.Address, amount fhe.Handle, proof []byte) (*relayer.CounterResult, error)

func (s *server) updateCounter(w http.ResponseWriter, r *http.Request, update counterUpdate) {
	var req CounterUpdateRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, _ := AccountFromContext(r.Context())
	result, err := update(r.Context(), caller, req.Amount, req.Proof)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.fail(w, r, fmt.Errorf("%w: %w: %w", cipherboard.ErrInvalidRequest, errInvalidBody, err))
		return false
	}
	return true
}

func (s *server) messageID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	param := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(param, 10, 64)
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: %w %q", cipherboard.ErrInvalidRequest, errInvalidMessageID, param))
		return 0, false
	}
	return id, true
}
