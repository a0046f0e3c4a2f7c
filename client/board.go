// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package client

import (
	"context"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/cipherboard"
	"github.com/luxfi/cipherboard/api"
	"github.com/luxfi/cipherboard/crypto/fhe"
	"github.com/luxfi/cipherboard/relayer"
)

// Send encrypts text and transmits it to recipient.
func (c *Client) Send(ctx context.Context, recipient common.Address, text string) (*relayer.TransmitResult, error) {
	v, err := cipherboard.EncodeContent(text)
	if err != nil {
		return nil, err
	}
	info, err := c.Network(ctx)
	if err != nil {
		return nil, err
	}
	proof, err := c.Encrypt(ctx, info.CipherBoard, func(b *fhe.InputBuilder) { b.Add256(v) })
	if err != nil {
		return nil, err
	}
	var result relayer.TransmitResult
	req := api.TransmitRequest{Recipient: recipient, Content: proof.Handles[0], Proof: proof.Proof}
	if err := c.post(ctx, api.MessagesPath, req, true, &result); err != nil {
		return nil, err
	}
	c.log.Debug("message sent", log.Uint64("messageID", result.MessageID))
	return &result, nil
}

// Inbox returns the ids of the messages addressed to the client's account.
func (c *Client) Inbox(ctx context.Context) ([]uint64, error) {
	addr, err := c.Address()
	if err != nil {
		return nil, err
	}
	return c.MessagesForRecipient(ctx, addr)
}

// Outbox returns the ids of the messages the client's account sent.
func (c *Client) Outbox(ctx context.Context) ([]uint64, error) {
	addr, err := c.Address()
	if err != nil {
		return nil, err
	}
	return c.MessagesBySender(ctx, addr)
}

func (c *Client) MessagesBySender(ctx context.Context, addr common.Address) ([]uint64, error) {
	var resp api.MessageIDsResponse
	if err := c.get(ctx, api.SenderMessagesPath(addr), &resp); err != nil {
		return nil, err
	}
	return resp.MessageIDs, nil
}

func (c *Client) MessagesForRecipient(ctx context.Context, addr common.Address) ([]uint64, error) {
	var resp api.MessageIDsResponse
	if err := c.get(ctx, api.RecipientMessagesPath(addr), &resp); err != nil {
		return nil, err
	}
	return resp.MessageIDs, nil
}

// Info returns message id without decrypting it.
func (c *Client) Info(ctx context.Context, id uint64) (*cipherboard.Message, error) {
	var msg cipherboard.Message
	if err := c.get(ctx, api.MessagePath(id), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Count returns the number of messages ever transmitted.
func (c *Client) Count(ctx context.Context) (uint64, error) {
	var resp api.CountResponse
	if err := c.get(ctx, api.MessageCountPath, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Read decrypts the text of message id. Only its sender and recipient can.
func (c *Client) Read(ctx context.Context, id uint64) (string, error) {
	info, err := c.Network(ctx)
	if err != nil {
		return "", err
	}
	var content api.ContentResponse
	if err := c.get(ctx, api.MessagePath(id)+"/content", &content); err != nil {
		return "", err
	}
	values, err := c.Decrypt(ctx, info.CipherBoard, []fhe.Handle{content.Content})
	if err != nil {
		return "", err
	}
	return cipherboard.DecodeContent(values[content.Content]), nil
}

// Events streams transmitted events to fn until ctx is done, the stream
// breaks or fn returns an error. Nil filters match everything.
func (c *Client) Events(ctx context.Context, sender, recipient *common.Address, fn func(*cipherboard.TransmittedEvent) error) error {
	u, err := url.Parse(c.endpoint + api.EventsPath)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	query := u.Query()
	if sender != nil {
		query.Set(api.SenderParam, sender.Hex())
	}
	if recipient != nil {
		query.Set(api.RecipientParam, recipient.Hex())
	}
	u.RawQuery = query.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return decodeError(resp)
		}
		return fmt.Errorf("failed to open event stream: %w", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var event cipherboard.TransmittedEvent
		if err := conn.ReadJSON(&event); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("event stream closed: %w", err)
		}
		if err := fn(&event); err != nil {
			return err
		}
	}
}
