// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api serves a node over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/event"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luxfi/cipherboard"
	"github.com/luxfi/cipherboard/crypto/fhe"
	"github.com/luxfi/cipherboard/healthcheck"
	"github.com/luxfi/cipherboard/metrics"
	"github.com/luxfi/cipherboard/relayer"
)

// MaxBodySize bounds every request body.
const MaxBodySize = 64 * 1024

// Backend is the node the API serves.
type Backend interface {
	Network() relayer.NetworkInfo
	EncryptInput(ctx context.Context, in *fhe.EncryptedInput) (*relayer.InputProof, error)
	UserDecrypt(ctx context.Context, req *fhe.DecryptRequest) ([]fhe.DecryptResult, error)
	Transmit(ctx context.Context, sender, recipient common.Address, content fhe.Handle, proof []byte) (*relayer.TransmitResult, error)
	Message(ctx context.Context, id uint64) (*cipherboard.Message, error)
	Content(ctx context.Context, id uint64) (fhe.Handle, error)
	IDsBySender(ctx context.Context, addr common.Address) ([]uint64, error)
	IDsForRecipient(ctx context.Context, addr common.Address) ([]uint64, error)
	TotalCount(ctx context.Context) (uint64, error)
	CounterValue(ctx context.Context) (fhe.Handle, error)
	IncreaseCounter(ctx context.Context, caller common.Address, amount fhe.Handle, proof []byte) (*relayer.CounterResult, error)
	DecreaseCounter(ctx context.Context, caller common.Address, amount fhe.Handle, proof []byte) (*relayer.CounterResult, error)
	SubscribeLogs(ch chan<- []*types.Log) event.Subscription
	HealthCheck(ctx context.Context) error
}

type Options struct {
	AuthWindow time.Duration
	Clock      func() time.Time
	Gatherer   prometheus.Gatherer
}

type server struct {
	backend  Backend
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	log      log.Logger
}

// NewRouter returns the HTTP handler of backend.
func NewRouter(backend Backend, m *metrics.Metrics, opts Options, logger log.Logger) http.Handler {
	s := &server{
		backend: backend,
		metrics: m,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: logger,
	}
	auth := NewAuthenticator(opts.AuthWindow, opts.Clock)
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.instrument)
	r.Use(chimw.Recoverer)

	r.Method(http.MethodGet, HealthPath, healthcheck.NewHandler(map[string]func(context.Context) error{
		"chain": backend.HealthCheck,
	}))
	r.Method(http.MethodGet, MetricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/network", s.network)
		r.Get("/events", s.events)

		r.Group(func(r chi.Router) {
			r.Use(chimw.RequestSize(MaxBodySize))
			r.Post("/inputs", s.encryptInput)
			r.Post("/decrypt", s.userDecrypt)
		})

		r.Get("/messages/count", s.totalCount)
		r.Get("/messages/{id}", s.message)
		r.Get("/messages/{id}/content", s.content)
		r.Get("/senders/{addr}/messages", s.idsBySender)
		r.Get("/recipients/{addr}/messages", s.idsForRecipient)
		r.Get("/counter", s.counterValue)

		r.Group(func(r chi.Router) {
			r.Use(chimw.RequestSize(MaxBodySize))
			r.Use(auth.RequireAuth)
			r.Post("/messages", s.transmit)
			r.Post("/counter/increase", s.increaseCounter)
			r.Post("/counter/decrease", s.decreaseCounter)
		})
	})
	return r
}

// instrument logs and measures every request by its route pattern.
func (s *server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.metrics.ObserveHTTPRequest(r.Method, route, status, elapsed)
		s.log.Debug("request served",
			log.String("requestID", chimw.GetReqID(r.Context())),
			log.String("method", r.Method),
			log.String("route", route),
			log.Int("status", status),
			log.Stringer("elapsed", elapsed),
		)
	})
}

// fail writes err. Internal errors are logged since their details never
// reach the client.
func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if _, status := toError(err); status == http.StatusInternalServerError {
		s.log.Error("request failed",
			log.String("requestID", chimw.GetReqID(r.Context())),
			log.String("path", r.URL.Path),
			log.Err(err),
		)
	}
	writeError(w, err)
}
