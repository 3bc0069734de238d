// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/samber/oops"
)

const sentryFlushTimeout = 2 * time.Second

// SentryOptions configures a Reporter.
type SentryOptions struct {
	DSN         string
	Environment string
	Release     string

	// beforeSend lets tests observe events without a transport.
	beforeSend func(*sentry.Event, *sentry.EventHint) *sentry.Event
}

// Reporter sends errors to Sentry. The zero value and a Reporter built
// without a DSN drop everything.
type Reporter struct {
	hub *sentry.Hub
}

// NewReporter creates a Reporter with its own hub.
func NewReporter(opts SentryOptions) (*Reporter, error) {
	if opts.DSN == "" {
		return &Reporter{}, nil
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Environment:      opts.Environment,
		Release:          opts.Release,
		AttachStacktrace: true,
		BeforeSend:       opts.beforeSend,
	})
	if err != nil {
		return nil, oops.Code("SENTRY_INIT_FAILED").With("environment", opts.Environment).Wrap(err)
	}
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// Enabled reports whether events are sent anywhere.
func (r *Reporter) Enabled() bool {
	return r != nil && r.hub != nil
}

// Capture reports err tagged with its error code and the name of the
// operation that failed. Attributes attached to err become event extras.
func (r *Reporter) Capture(operation string, err error) {
	if !r.Enabled() || err == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("operation", operation)
		if oopsErr, ok := oops.AsOops(err); ok {
			if code, ok := oopsErr.Code().(string); ok && code != "" {
				scope.SetTag("error_code", code)
			}
			for k, v := range oopsErr.Context() {
				scope.SetExtra(k, v)
			}
		}
		r.hub.CaptureException(err)
	})
}

// Flush waits for queued events to be delivered.
func (r *Reporter) Flush() {
	if r.Enabled() {
		r.hub.Flush(sentryFlushTimeout)
	}
}
