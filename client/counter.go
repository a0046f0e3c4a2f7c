// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package client

import (
	"context"

	"github.com/luxfi/cipherboard/api"
	"github.com/luxfi/cipherboard/crypto/fhe"
	"github.com/luxfi/cipherboard/relayer"
)

// CounterHandle returns the handle of the secure counter. It is the zero
// handle until the first update.
func (c *Client) CounterHandle(ctx context.Context) (fhe.Handle, error) {
	var resp api.CounterResponse
	if err := c.get(ctx, api.CounterPath, &resp); err != nil {
		return fhe.Handle{}, err
	}
	return resp.Value, nil
}

// ReadCounter decrypts the secure counter. Only accounts that updated it can.
func (c *Client) ReadCounter(ctx context.Context) (uint32, error) {
	handle, err := c.CounterHandle(ctx)
	if err != nil || handle.IsZero() {
		return 0, err
	}
	info, err := c.Network(ctx)
	if err != nil {
		return 0, err
	}
	values, err := c.Decrypt(ctx, info.SecureCounter, []fhe.Handle{handle})
	if err != nil {
		return 0, err
	}
	return uint32(values[handle].Uint64()), nil
}

func (c *Client) IncreaseCounter(ctx context.Context, amount uint32) (*relayer.CounterResult, error) {
	return c.updateCounter(ctx, api.CounterIncreasePath, amount)
}

func (c *Client) DecreaseCounter(ctx context.Context, amount uint32) (*relayer.CounterResult, error) {
	return c.updateCounter(ctx, api.CounterDecreasePath, amount)
}

func (c *Client) updateCounter(ctx context.Context, path string, amount uint32) (*relayer.CounterResult, error) {
	info, err := c.Network(ctx)
	if err != nil {
		return nil, err
	}
	proof, err := c.Encrypt(ctx, info.SecureCounter, func(b *fhe.InputBuilder) { b.Add32(amount) })
	if err != nil {
		return nil, err
	}
	var result relayer.CounterResult
	req := api.CounterUpdateRequest{Amount: proof.Handles[0], Proof: proof.Proof}
	if err := c.post(ctx, path, req, true, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
