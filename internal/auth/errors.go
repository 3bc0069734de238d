// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

package auth

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Error codes returned to the transport layer.
const (
	CodeInvalidCredentials  = "AUTH_INVALID_CREDENTIALS"
	CodeAccountLocked       = "AUTH_ACCOUNT_LOCKED"
	CodeDuplicateAccount    = "AUTH_DUPLICATE_ACCOUNT"
	CodeWeakPassword        = "AUTH_WEAK_PASSWORD"
	CodeEmptyPassword       = "AUTH_EMPTY_PASSWORD"
	CodeInvalidEmail        = "AUTH_INVALID_EMAIL"
	CodeInvalidName         = "AUTH_INVALID_NAME"
	CodeInvalidRole         = "AUTH_INVALID_ROLE"
	CodeTokenExpired        = "AUTH_TOKEN_EXPIRED"
	CodeTokenInvalid        = "AUTH_TOKEN_INVALID"
	CodeSessionNotFound     = "SESSION_NOT_FOUND"
	CodeSessionInvalidated  = "SESSION_INVALIDATED"
	CodeResetTicketMissing  = "RESET_TICKET_MISSING"
	CodeResetTicketExpired  = "RESET_TICKET_EXPIRED"
	CodeResetTicketMismatch = "RESET_TICKET_MISMATCH"
	CodeStoreUnavailable    = "STORE_UNAVAILABLE"
)

// Detailed token failure codes. Callers of Service only ever see
// CodeTokenInvalid or CodeTokenExpired; these appear in logs and in the
// "reason" context of CodeTokenInvalid errors.
const (
	CodeTokenMalformed        = "TOKEN_MALFORMED"
	CodeTokenSignatureInvalid = "TOKEN_SIGNATURE_INVALID"
	CodeTokenWrongKind        = "TOKEN_WRONG_KIND"
	CodeTokenSubjectMismatch  = "TOKEN_SUBJECT_MISMATCH"
	CodeTokenSigningFailed    = "TOKEN_SIGNING_FAILED"
)

// ErrorCode returns the oops code carried by err, or "" when err has none.
func ErrorCode(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	if code := oopsErr.Code(); code != nil {
		return fmt.Sprint(code)
	}
	return ""
}

// IsRetryable reports whether the whole use case may be retried.
// Only transient store failures qualify.
func IsRetryable(err error) bool {
	return err != nil && ErrorCode(err) == CodeStoreUnavailable
}

// errorContext returns the value stored under key in err's oops context.
func errorContext(err error, key string) (any, bool) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil, false
	}
	v, ok := oopsErr.Context()[key]
	return v, ok
}
