// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package healthcheck

import (
	"context"
	"net/http"
	"time"

	"github.com/alexliesenfeld/health"
)

const checkTimeout = 5 * time.Second

// NewHandler serves the combined status of checks. The node is up only if
// every check passes.
func NewHandler(checks map[string]func(context.Context) error) http.Handler {
	opts := make([]health.CheckerOption, 0, len(checks)+1)
	opts = append(opts, health.WithCacheDuration(time.Second))
	for name, check := range checks {
		opts = append(opts, health.WithCheck(health.Check{
			Name:    name,
			Timeout: checkTimeout,
			Check:   check,
		}))
	}
	return health.NewHandler(health.NewChecker(opts...))
}
