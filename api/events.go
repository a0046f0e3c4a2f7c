// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/log"

	"github.com/luxfi/cipherboard"
	"github.com/luxfi/cipherboard/precompile"
)

const (
	eventBufferSize = 64
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = pongWait * 9 / 10
)

// Event stream query parameters. Both are optional.
const (
	SenderParam    = "sender"
	RecipientParam = "recipient"
)

type eventFilter struct {
	sender    *common.Address
	recipient *common.Address
}

func (f eventFilter) matches(e *cipherboard.TransmittedEvent) bool {
	if f.sender != nil && *f.sender != e.Sender {
		return false
	}
	if f.recipient != nil && *f.recipient != e.Recipient {
		return false
	}
	return true
}

func parseEventFilter(r *http.Request) (eventFilter, error) {
	var f eventFilter
	for param, dst := range map[string]**common.Address{
		SenderParam:    &f.sender,
		RecipientParam: &f.recipient,
	} {
		v := r.URL.Query().Get(param)
		if v == "" {
			continue
		}
		if !common.IsHexAddress(v) {
			return eventFilter{}, fmt.Errorf("%w: %w %s=%q", cipherboard.ErrInvalidRequest, errInvalidAddress, param, v)
		}
		addr := common.HexToAddress(v)
		*dst = &addr
	}
	return f, nil
}

// events streams SecureMessageTransmitted events as JSON until the client
// goes away.
func (s *server) events(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied.
		s.log.Debug("websocket upgrade failed", log.Err(err))
		return
	}
	defer conn.Close()

	incoming := make(chan []*types.Log)
	sub := s.backend.SubscribeLogs(incoming)
	defer sub.Unsubscribe()

	logs := make(chan []*types.Log, eventBufferSize)
	overflow := make(chan struct{})
	done := make(chan struct{})
	defer close(done)
	go relayLogs(incoming, logs, overflow, done)

	s.metrics.IncEventSubscribers()
	defer s.metrics.DecEventSubscribers()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case batch := <-logs:
			for _, l := range batch {
				event, ok, err := precompile.UnpackTransmittedLog(l)
				if err != nil {
					s.log.Warn("skipping malformed log", log.Stringer("txHash", l.TxHash), log.Err(err))
					continue
				}
				if !ok || !filter.matches(event) {
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(event); err != nil {
					return
				}
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-overflow:
			s.log.Debug("dropping slow event subscriber", log.String("remoteAddr", r.RemoteAddr))
			msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		case <-sub.Err():
			return
		case <-closed:
			return
		}
	}
}

// relayLogs moves batches from in to out without ever making the sender
// wait. If out is full it closes overflow and stops.
func relayLogs(in <-chan []*types.Log, out chan<- []*types.Log, overflow chan<- struct{}, done <-chan struct{}) {
	for {
		select {
		case batch := <-in:
			select {
			case out <- batch:
			default:
				close(overflow)
				return
			}
		case <-done:
			return
		}
	}
}
