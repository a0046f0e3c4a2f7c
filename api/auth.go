// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"

	"github.com/luxfi/cipherboard"
	"github.com/luxfi/cipherboard/cache"
)

// Request authentication headers.
const (
	AccountHeader   = "X-Cipherboard-Account"
	NonceHeader     = "X-Cipherboard-Nonce"
	TimestampHeader = "X-Cipherboard-Timestamp"
	SignatureHeader = "X-Cipherboard-Signature"

	MinNonceLen = 16
)

type contextKey string

const accountContextKey contextKey = "account"

// SignaturePayload is the digest an account signs to authenticate a request.
// timestamp is in unix milliseconds.
func SignaturePayload(method, path string, body []byte, nonce string, timestamp int64) []byte {
	bodyHash := sha256.Sum256(body)
	return crypto.Keccak256(
		bodyHash[:],
		[]byte(method),
		[]byte(path),
		[]byte(nonce),
		binary.BigEndian.AppendUint64(nil, uint64(timestamp)),
	)
}

// SignRequest sets the authentication headers of r. body must be the exact
// request body.
func SignRequest(r *http.Request, key *ecdsa.PrivateKey, body []byte, nonce string, now time.Time) error {
	timestamp := now.UnixMilli()
	sig, err := crypto.Sign(SignaturePayload(r.Method, r.URL.Path, body, nonce, timestamp), key)
	if err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}
	r.Header.Set(AccountHeader, common.Address(crypto.PubkeyToAddress(key.PublicKey)).Hex())
	r.Header.Set(NonceHeader, nonce)
	r.Header.Set(TimestampHeader, strconv.FormatInt(timestamp, 10))
	r.Header.Set(SignatureHeader, hexutil.Encode(sig))
	return nil
}

// AccountFromContext returns the account that signed the request.
func AccountFromContext(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(accountContextKey).(common.Address)
	return addr, ok
}

// Authenticator verifies signed requests. A nonce is accepted once per
// account within twice the window.
type Authenticator struct {
	window time.Duration
	nonces *cache.TTLCache[string, struct{}]
	clock  func() time.Time
}

func NewAuthenticator(window time.Duration, clock func() time.Time) *Authenticator {
	if clock == nil {
		clock = time.Now
	}
	return &Authenticator{
		window: window,
		nonces: cache.NewTTLCache[string, struct{}](2 * window),
		clock:  clock,
	}
}

// RequireAuth rejects requests without a valid signature and stores the
// signing account in the request context.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, err := a.authenticate(r)
		if err != nil {
			writeError(w, fmt.Errorf("%w: %w", cipherboard.ErrUnauthenticated, err))
			return
		}
		ctx := context.WithValue(r.Context(), accountContextKey, account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) authenticate(r *http.Request) (common.Address, error) {
	accountHex := r.Header.Get(AccountHeader)
	nonce := r.Header.Get(NonceHeader)
	timestamp := r.Header.Get(TimestampHeader)
	signature := r.Header.Get(SignatureHeader)
	if accountHex == "" || nonce == "" || timestamp == "" || signature == "" {
		return common.Address{}, errMissingAuthHeaders
	}
	if !common.IsHexAddress(accountHex) {
		return common.Address{}, errInvalidAccount
	}
	account := common.HexToAddress(accountHex)
	if len(nonce) < MinNonceLen {
		return common.Address{}, errShortNonce
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return common.Address{}, errInvalidTimestamp
	}
	skew := a.clock().Sub(time.UnixMilli(ts))
	if skew > a.window || skew < -a.window {
		return common.Address{}, errStaleTimestamp
	}

	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, errInvalidSignature
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to read request body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	pub, err := crypto.SigToPub(SignaturePayload(r.Method, r.URL.Path, body, nonce, ts), sig)
	if err != nil || common.Address(crypto.PubkeyToAddress(*pub)) != account {
		return common.Address{}, errInvalidSignature
	}
	if !a.nonces.PutIfAbsent(account.Hex()+"/"+nonce, struct{}{}) {
		return common.Address{}, errReusedNonce
	}
	return account, nil
}
