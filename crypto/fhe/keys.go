// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fhe

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/luxfi/crypto"
	"golang.org/x/crypto/curve25519"
)

// KeySet holds the coprocessor secrets: the signer attesting input proofs, the
// network key clients seal inputs to, and the key sealing values at rest.
type KeySet struct {
	Signer        *ecdsa.PrivateKey
	NetworkSecret [32]byte
	SealKey       [32]byte
}

// GenerateKeySet returns a fresh random key set.
func GenerateKeySet() (*KeySet, error) {
	signer, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signer key: %w", err)
	}
	ks := &KeySet{Signer: signer}
	if _, err := rand.Read(ks.NetworkSecret[:]); err != nil {
		return nil, fmt.Errorf("failed to generate network key: %w", err)
	}
	if _, err := rand.Read(ks.SealKey[:]); err != nil {
		return nil, fmt.Errorf("failed to generate seal key: %w", err)
	}
	return ks, nil
}

// NetworkPublicKey returns the X25519 public key clients encrypt inputs to.
func (k *KeySet) NetworkPublicKey() (*[32]byte, error) {
	pub, err := curve25519.X25519(k.NetworkSecret[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	var out [32]byte
	copy(out[:], pub)
	return &out, nil
}

type keySetJSON struct {
	Signer        string `json:"signer"`
	NetworkSecret string `json:"networkSecret"`
	SealKey       string `json:"sealKey"`
}

func (k *KeySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(keySetJSON{
		Signer:        hex.EncodeToString(crypto.FromECDSA(k.Signer)),
		NetworkSecret: hex.EncodeToString(k.NetworkSecret[:]),
		SealKey:       hex.EncodeToString(k.SealKey[:]),
	})
}

func (k *KeySet) UnmarshalJSON(b []byte) error {
	var raw keySetJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	signer, err := crypto.HexToECDSA(raw.Signer)
	if err != nil {
		return fmt.Errorf("invalid signer key: %w", err)
	}
	if err := decodeKey32(raw.NetworkSecret, &k.NetworkSecret); err != nil {
		return fmt.Errorf("invalid network secret: %w", err)
	}
	if err := decodeKey32(raw.SealKey, &k.SealKey); err != nil {
		return fmt.Errorf("invalid seal key: %w", err)
	}
	k.Signer = signer
	return nil
}

// LoadKeySet reads a key set written by Save.
func LoadKeySet(path string) (*KeySet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ks := &KeySet{}
	if err := json.Unmarshal(b, ks); err != nil {
		return nil, fmt.Errorf("failed to parse key set %s: %w", path, err)
	}
	return ks, nil
}

// Save writes the key set to path, readable by the owner only.
func (k *KeySet) Save(path string) error {
	b, err := json.MarshalIndent(k, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func decodeKey32(s string, out *[32]byte) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != 32 {
		return fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return nil
}
