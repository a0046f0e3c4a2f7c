// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package healthcheck

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandler(t *testing.T) {
	ok := func(context.Context) error { return nil }
	failing := func(context.Context) error { return errors.New("database closed") }

	tests := []struct {
		name   string
		checks map[string]func(context.Context) error
		want   int
	}{
		{"all up", map[string]func(context.Context) error{"chain": ok}, http.StatusOK},
		{"one down", map[string]func(context.Context) error{"chain": ok, "database": failing}, http.StatusServiceUnavailable},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewHandler(test.checks).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, test.want, rec.Code)
		})
	}
}
