// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

package auth

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Package-level collectors so every Service in the process reports into the
// same series. RegisterMetrics exposes them on a registry.
var (
	useCaseTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_use_case_total",
			Help: "Total number of auth use case invocations by use case and result code",
		},
		[]string{"use_case", "result"},
	)

	useCaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authcore_use_case_duration_seconds",
			Help:    "Duration of auth use cases",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"use_case"},
	)

	lockoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "authcore_account_lockouts_total",
			Help: "Total number of accounts that reached the failed login threshold",
		},
	)

	sessionsPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "authcore_sessions_pruned_total",
			Help: "Total number of expired sessions deleted",
		},
	)
)

// resultOK labels successful use cases.
const resultOK = "ok"

// RegisterMetrics registers the auth collectors with reg. Registering twice
// on the same registry is not an error.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{useCaseTotal, useCaseDuration, lockoutsTotal, sessionsPrunedTotal} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err //nolint:wrapcheck // registry errors describe the collector
		}
	}
	return nil
}

// observeUseCase records the outcome and duration of a use case.
func observeUseCase(useCase string, start time.Time, err error) {
	result := resultOK
	if err != nil {
		result = ErrorCode(err)
		if result == "" {
			result = "UNKNOWN"
		}
	}
	useCaseTotal.WithLabelValues(useCase, result).Inc()
	useCaseDuration.WithLabelValues(useCase).Observe(time.Since(start).Seconds())
}
