// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package utils

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/luxfi/log"
)

// WithRetriesTimeout uses an exponential backoff to run the operation until it
// succeeds, ctx is done or timeout limit has been reached.
func WithRetriesTimeout(
	ctx context.Context,
	logger log.Logger,
	operation backoff.Operation,
	timeout time.Duration,
) error {
	expBackOff := backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(timeout),
	)
	notify := func(err error, duration time.Duration) {
		logger.Warn("operation failed, retrying...",
			log.Err(err),
			log.Stringer("retryIn", duration),
		)
	}
	return backoff.RetryNotify(operation, backoff.WithContext(expBackOff, ctx), notify)
}

// WithMaxRetries runs the operation at most maxRetries+1 times with an
// exponential backoff between attempts.
func WithMaxRetries(
	ctx context.Context,
	logger log.Logger,
	operation backoff.Operation,
	maxRetries uint64,
) error {
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries)
	notify := func(err error, duration time.Duration) {
		logger.Debug("operation failed, retrying...",
			log.Err(err),
			log.Stringer("retryIn", duration),
		)
	}
	return backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
