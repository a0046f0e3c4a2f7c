// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package client talks to a cipherboard node over its HTTP API. It encrypts
// message text to the node's network key, signs state-changing requests
// with the account key and decrypts what the account is allowed to read.
package client

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/cipherboard"
	"github.com/luxfi/cipherboard/api"
	"github.com/luxfi/cipherboard/cache"
	"github.com/luxfi/cipherboard/crypto/fhe"
	"github.com/luxfi/cipherboard/relayer"
	"github.com/luxfi/cipherboard/utils"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultRetryTimeout = 10 * time.Second

	// networkTTL is how long network parameters are reused.
	networkTTL = time.Minute

	// decryptSkew backdates decryption requests so a node clock slightly
	// behind ours still accepts them.
	decryptSkew  = time.Minute
	decryptDays  = 1
	maxErrorBody = 64 * 1024
)

var ErrNoAccount = errors.New("no account key configured")

// Client is a cipherboard API client.
type Client struct {
	endpoint     string
	http         *http.Client
	key          *ecdsa.PrivateKey
	network      *cache.TTLCache[string, relayer.NetworkInfo]
	clock        func() time.Time
	retryTimeout time.Duration
	log          log.Logger
}

type Option func(*Client)

// WithAccountKey sets the key that signs requests and decrypts results.
func WithAccountKey(key *ecdsa.PrivateKey) Option {
	return func(c *Client) { c.key = key }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithClock(clock func() time.Time) Option {
	return func(c *Client) { c.clock = clock }
}

func WithLogger(logger log.Logger) Option {
	return func(c *Client) { c.log = logger }
}

// WithRetryTimeout bounds how long reads are retried. Zero disables retries.
func WithRetryTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.retryTimeout = timeout }
}

// New returns a client of the node at endpoint.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:     strings.TrimRight(endpoint, "/"),
		http:         &http.Client{Timeout: DefaultTimeout},
		network:      cache.NewTTLCache[string, relayer.NetworkInfo](networkTTL),
		clock:        time.Now,
		retryTimeout: DefaultRetryTimeout,
		log:          log.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadAccountKey reads a hex encoded secp256k1 key from path.
func LoadAccountKey(path string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.LoadECDSA(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load account key %q: %w", path, err)
	}
	return key, nil
}

// Address returns the account of the client.
func (c *Client) Address() (common.Address, error) {
	if c.key == nil {
		return common.Address{}, ErrNoAccount
	}
	return common.Address(crypto.PubkeyToAddress(c.key.PublicKey)), nil
}

// Network returns the node's parameters, cached for a minute.
func (c *Client) Network(ctx context.Context) (relayer.NetworkInfo, error) {
	return c.network.Get(c.endpoint, func(string) (relayer.NetworkInfo, error) {
		var info relayer.NetworkInfo
		err := c.get(ctx, api.NetworkPath, &info)
		return info, err
	}, false)
}

// Encrypt builds an encrypted input for contract and has the node verify it.
func (c *Client) Encrypt(ctx context.Context, contract common.Address, build func(*fhe.InputBuilder)) (*relayer.InputProof, error) {
	user, err := c.Address()
	if err != nil {
		return nil, err
	}
	info, err := c.Network(ctx)
	if err != nil {
		return nil, err
	}
	if len(info.NetworkKey) != 32 {
		return nil, fmt.Errorf("%w: network key is %d bytes", cipherboard.ErrInvalidRequest, len(info.NetworkKey))
	}
	networkKey := [32]byte(info.NetworkKey)
	b := fhe.NewInputBuilder(&networkKey, contract, user)
	build(b)
	in, err := b.Encrypt()
	if err != nil {
		return nil, err
	}
	var proof relayer.InputProof
	if err := c.post(ctx, api.InputsPath, in, false, &proof); err != nil {
		return nil, err
	}
	if len(proof.Handles) != b.Len() {
		return nil, fmt.Errorf("%w: got %d handles for %d values", cipherboard.ErrInvalidProof, len(proof.Handles), b.Len())
	}
	return &proof, nil
}

// Decrypt returns the plaintexts of handles, which must all belong to
// contract.
func (c *Client) Decrypt(ctx context.Context, contract common.Address, handles []fhe.Handle) (map[fhe.Handle]*uint256.Int, error) {
	if c.key == nil {
		return nil, ErrNoAccount
	}
	network, err := c.Network(ctx)
	if err != nil {
		return nil, err
	}
	session, err := fhe.NewDecryptSession(c.key, network.ChainID, contract, handles, c.clock().Add(-decryptSkew), decryptDays)
	if err != nil {
		return nil, err
	}
	var resp api.DecryptResponse
	if err := c.post(ctx, api.DecryptPath, session.Request(), false, &resp); err != nil {
		return nil, err
	}
	return session.Open(resp.Results)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	operation := func() error {
		err := c.do(ctx, http.MethodGet, path, nil, false, out)
		var coded *cipherboard.Error
		if errors.As(err, &coded) {
			return utils.Permanent(err)
		}
		return err
	}
	if c.retryTimeout <= 0 {
		return operation()
	}
	return utils.WithRetriesTimeout(ctx, c.log, operation, c.retryTimeout)
}

func (c *Client) post(ctx context.Context, path string, body interface{}, signed bool, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, signed, out)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, signed bool, out interface{}) error {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if signed {
		if c.key == nil {
			return ErrNoAccount
		}
		if err := api.SignRequest(req, c.key, raw, uuid.NewString(), c.clock()); err != nil {
			return err
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// decodeError returns the coded error of a failed response. Server errors
// without a body are returned as plain errors so they are retried.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var failure api.ErrorResponse
	if err := json.Unmarshal(body, &failure); err != nil || failure.Error == nil {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("server error %d: %s", resp.StatusCode, failure.Error.Message)
	}
	return failure.Error
}
