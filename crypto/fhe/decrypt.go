// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/ids"
	"github.com/luxfi/math/set"
	"golang.org/x/crypto/nacl/box"

	"github.com/luxfi/cipherboard/state"
)

const (
	// MaxDecryptDays bounds the validity window of a decryption request.
	MaxDecryptDays = 365

	// MaxDecryptHandles bounds the number of handles in one request.
	MaxDecryptHandles = 64

	secondsPerDay = 24 * 60 * 60
)

var (
	ErrRequestExpired    = errors.New("decryption request outside its validity window")
	ErrInvalidRequest    = errors.New("invalid decryption request")
	ErrInvalidDecryptSig = errors.New("decryption request signature does not match user")
	errMissingResult     = errors.New("missing decryption result")
)

// DecryptRequest asks the coprocessor to re-encrypt handles to PublicKey.
// User signs it, authorizing decryption of values readable through Contract
// on ChainID for DurationDays starting at StartTimestamp.
type DecryptRequest struct {
	Handles        []Handle       `json:"handles"`
	ChainID        ids.ID         `json:"chainId"`
	Contract       common.Address `json:"contract"`
	User           common.Address `json:"user"`
	PublicKey      hexutil.Bytes  `json:"publicKey"`
	StartTimestamp int64          `json:"startTimestamp"`
	DurationDays   uint64         `json:"durationDays"`
	Signature      hexutil.Bytes  `json:"signature"`
}

// Digest returns the hash the user signs.
func (r *DecryptRequest) Digest() []byte {
	parts := make([][]byte, 0, len(r.Handles)+5)
	parts = append(parts,
		r.PublicKey,
		r.ChainID[:],
		r.Contract.Bytes(),
		binary.BigEndian.AppendUint64(nil, uint64(r.StartTimestamp)),
		binary.BigEndian.AppendUint64(nil, r.DurationDays),
	)
	for _, h := range r.Handles {
		parts = append(parts, h[:])
	}
	return crypto.Keccak256(parts...)
}

// Sign fills in User and Signature from key.
func (r *DecryptRequest) Sign(key *ecdsa.PrivateKey) error {
	sig, err := crypto.Sign(r.Digest(), key)
	if err != nil {
		return err
	}
	r.User = common.Address(crypto.PubkeyToAddress(key.PublicKey))
	r.Signature = sig
	return nil
}

func (r *DecryptRequest) verify(chainID ids.ID, now time.Time) error {
	if r.ChainID != chainID {
		return fmt.Errorf("%w: chain %s, want %s", ErrInvalidRequest, r.ChainID, chainID)
	}
	if len(r.Handles) == 0 || len(r.Handles) > MaxDecryptHandles {
		return fmt.Errorf("%w: %d handles", ErrInvalidRequest, len(r.Handles))
	}
	if len(r.PublicKey) != 32 {
		return fmt.Errorf("%w: public key is %d bytes", ErrInvalidRequest, len(r.PublicKey))
	}
	if r.DurationDays == 0 || r.DurationDays > MaxDecryptDays {
		return fmt.Errorf("%w: duration of %d days", ErrInvalidRequest, r.DurationDays)
	}
	start := time.Unix(r.StartTimestamp, 0)
	end := start.Add(time.Duration(r.DurationDays) * secondsPerDay * time.Second)
	if now.Before(start) || !now.Before(end) {
		return fmt.Errorf("%w: %s not in [%s, %s)", ErrRequestExpired, now.UTC(), start.UTC(), end.UTC())
	}
	pub, err := crypto.SigToPub(r.Digest(), r.Signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDecryptSig, err)
	}
	if common.Address(crypto.PubkeyToAddress(*pub)) != r.User {
		return ErrInvalidDecryptSig
	}
	return nil
}

// DecryptResult is one value re-encrypted to the requester's public key.
type DecryptResult struct {
	Handle     Handle        `json:"handle"`
	Ciphertext hexutil.Bytes `json:"ciphertext"`
}

// UserDecrypt re-encrypts the values behind req.Handles to req.PublicKey after
// checking the request signature, its validity window, and that both the user
// and the contract are allowed on every handle.
func (c *Coprocessor) UserDecrypt(st state.Reader, req *DecryptRequest, now time.Time) ([]DecryptResult, error) {
	if err := req.verify(c.chainID, now); err != nil {
		return nil, err
	}
	var recipient [32]byte
	copy(recipient[:], req.PublicKey)

	seen := set.NewSet[Handle](len(req.Handles))
	results := make([]DecryptResult, 0, len(req.Handles))
	for _, h := range req.Handles {
		if seen.Contains(h) {
			continue
		}
		seen.Add(h)

		for _, account := range []common.Address{req.User, req.Contract} {
			ok, err := IsAllowed(st, h, account)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("%w: %s on %s", ErrNotAuthorized, account, h)
			}
		}
		v, err := c.load(st, h)
		if err != nil {
			return nil, err
		}
		plain := v.Bytes32()
		sealed, err := box.SealAnonymous(nil, plain[:], &recipient, c.rand)
		if err != nil {
			return nil, fmt.Errorf("failed to re-encrypt %s: %w", h, err)
		}
		results = append(results, DecryptResult{Handle: h, Ciphertext: sealed})
	}
	return results, nil
}

// DecryptSession is the client half of user decryption: it holds the
// ephemeral key results are sealed to.
type DecryptSession struct {
	publicKey  *[32]byte
	privateKey *[32]byte
	request    *DecryptRequest
}

// NewDecryptSession creates an ephemeral key pair and a request for handles
// on chainID signed by key.
func NewDecryptSession(
	key *ecdsa.PrivateKey,
	chainID ids.ID,
	contract common.Address,
	handles []Handle,
	start time.Time,
	days uint64,
) (*DecryptSession, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}
	req := &DecryptRequest{
		Handles:        handles,
		ChainID:        chainID,
		Contract:       contract,
		PublicKey:      pub[:],
		StartTimestamp: start.Unix(),
		DurationDays:   days,
	}
	if err := req.Sign(key); err != nil {
		return nil, fmt.Errorf("failed to sign decryption request: %w", err)
	}
	return &DecryptSession{
		publicKey:  pub,
		privateKey: priv,
		request:    req,
	}, nil
}

// Request returns the signed request to submit.
func (s *DecryptSession) Request() *DecryptRequest {
	return s.request
}

// Open decrypts results, returning one plaintext per requested handle.
func (s *DecryptSession) Open(results []DecryptResult) (map[Handle]*uint256.Int, error) {
	out := make(map[Handle]*uint256.Int, len(results))
	for _, r := range results {
		plain, ok := box.OpenAnonymous(nil, r.Ciphertext, s.publicKey, s.privateKey)
		if !ok || len(plain) != 32 {
			return nil, fmt.Errorf("%w: result for %s does not open", ErrInvalidCiphertext, r.Handle)
		}
		out[r.Handle] = new(uint256.Int).SetBytes32(plain)
	}
	for _, h := range s.request.Handles {
		if _, ok := out[h]; !ok {
			return nil, fmt.Errorf("%w: %s", errMissingResult, h)
		}
	}
	return out, nil
}
