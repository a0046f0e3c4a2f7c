// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("error")

func TestWithMaxRetries(t *testing.T) {
	t.Run("NotEnoughRetry", func(t *testing.T) {
		retryable := newMockRetryableFn(3)
		err := WithMaxRetries(
			context.Background(),
			log.NewNoOpLogger(),
			func() (err error) {
				_, err = retryable.Run()
				return err
			},
			2,
		)
		require.ErrorIs(t, err, errTransient)
		require.Equal(t, uint64(3), retryable.counter)
	})
	t.Run("EnoughRetry", func(t *testing.T) {
		retryable := newMockRetryableFn(2)
		var res bool
		err := WithMaxRetries(
			context.Background(),
			log.NewNoOpLogger(),
			func() (err error) {
				res, err = retryable.Run()
				return err
			},
			2,
		)
		require.NoError(t, err)
		require.True(t, res)
	})
	t.Run("Permanent", func(t *testing.T) {
		calls := 0
		err := WithMaxRetries(
			context.Background(),
			log.NewNoOpLogger(),
			func() error {
				calls++
				return Permanent(errTransient)
			},
			5,
		)
		require.ErrorIs(t, err, errTransient)
		require.Equal(t, 1, calls)
	})
}

func TestWithRetriesTimeout(t *testing.T) {
	t.Run("Succeeds", func(t *testing.T) {
		retryable := newMockRetryableFn(1)
		err := WithRetriesTimeout(
			context.Background(),
			log.NewNoOpLogger(),
			func() (err error) {
				_, err = retryable.Run()
				return err
			},
			5*time.Second,
		)
		require.NoError(t, err)
	})
	t.Run("Canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := WithRetriesTimeout(
			ctx,
			log.NewNoOpLogger(),
			func() error { return errTransient },
			time.Minute,
		)
		require.Error(t, err)
	})
}

type mockRetryableFn struct {
	counter uint64
	trigger uint64
}

func newMockRetryableFn(trigger uint64) *mockRetryableFn {
	return &mockRetryableFn{
		counter: 0,
		trigger: trigger,
	}
}

func (m *mockRetryableFn) Run() (bool, error) {
	if m.counter >= m.trigger {
		return true, nil
	}
	m.counter++
	return false, errTransient
}
