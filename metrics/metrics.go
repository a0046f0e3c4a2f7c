// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics defines the prometheus collectors of a cipherboard node.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/cipherboard"
)

const namespace = "cipherboard"

type Metrics struct {
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	contractCalls       *prometheus.CounterVec
	failedContractCalls *prometheus.CounterVec
	transmittedMessages prometheus.Counter
	verifiedInputs      *prometheus.CounterVec
	decryptRequests     *prometheus.CounterVec
	eventSubscribers    prometheus.Gauge
	blockHeight         prometheus.Gauge
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := Metrics{
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Number of API requests by route and status",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Latency of API requests",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "route"},
		),
		contractCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "contract_calls_total",
				Help:      "Number of contract calls that succeeded",
			},
			[]string{"contract", "method"},
		),
		failedContractCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failed_contract_calls_total",
				Help:      "Number of contract calls that failed",
			},
			[]string{"contract", "method", "failure_reason"},
		),
		transmittedMessages: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transmitted_messages_total",
				Help:      "Number of messages appended to the registry",
			},
		),
		verifiedInputs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verified_inputs_total",
				Help:      "Number of encrypted input batches submitted for verification",
			},
			[]string{"result"},
		),
		decryptRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decrypt_requests_total",
				Help:      "Number of user decryption requests",
			},
			[]string{"result"},
		),
		eventSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "event_subscribers",
				Help:      "Number of open event streams",
			},
		),
		blockHeight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "block_height",
				Help:      "Height of the last committed block",
			},
		),
	}

	registerer.MustRegister(m.httpRequests)
	registerer.MustRegister(m.httpRequestDuration)
	registerer.MustRegister(m.contractCalls)
	registerer.MustRegister(m.failedContractCalls)
	registerer.MustRegister(m.transmittedMessages)
	registerer.MustRegister(m.verifiedInputs)
	registerer.MustRegister(m.decryptRequests)
	registerer.MustRegister(m.eventSubscribers)
	registerer.MustRegister(m.blockHeight)

	return &m
}

func (m *Metrics) ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveContractCall records the outcome of a call. Failures are labelled
// with the error's wire code.
func (m *Metrics) ObserveContractCall(contract, method string, err error) {
	if err == nil {
		m.contractCalls.WithLabelValues(contract, method).Inc()
		return
	}
	m.failedContractCalls.WithLabelValues(contract, method, FailureReason(err)).Inc()
}

func (m *Metrics) IncTransmittedMessages() {
	m.transmittedMessages.Inc()
}

func (m *Metrics) ObserveVerifiedInputs(err error) {
	m.verifiedInputs.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) ObserveDecryptRequest(err error) {
	m.decryptRequests.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) IncEventSubscribers() {
	m.eventSubscribers.Inc()
}

func (m *Metrics) DecEventSubscribers() {
	m.eventSubscribers.Dec()
}

func (m *Metrics) SetBlockHeight(height uint64) {
	m.blockHeight.Set(float64(height))
}

// FailureReason maps err to a bounded label value.
func FailureReason(err error) string {
	if reason, ok := reasons[cipherboard.ToError(err).Code]; ok {
		return reason
	}
	return reasons[cipherboard.CodeInternal]
}

var reasons = map[int32]string{
	cipherboard.CodeInternal:         "internal",
	cipherboard.CodeInvalidRecipient: "invalid_recipient",
	cipherboard.CodeInvalidProof:     "invalid_proof",
	cipherboard.CodeNotFound:         "not_found",
	cipherboard.CodeNotAuthorized:    "not_authorized",
	cipherboard.CodeInvalidRequest:   "invalid_request",
	cipherboard.CodeRequestExpired:   "request_expired",
	cipherboard.CodeUnauthenticated:  "unauthenticated",
}

func result(err error) string {
	if err != nil {
		return FailureReason(err)
	}
	return "ok"
}
