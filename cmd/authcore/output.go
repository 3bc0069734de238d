// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

package main

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/samber/oops"

	"github.com/quickdine/authcore/internal/auth"
)

// codeUnknown labels failures that carry no code, such as flag parse errors.
const codeUnknown = "UNKNOWN"

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return oops.Code("OUTPUT_FAILED").With("operation", "encode result").Wrap(err)
	}
	return nil
}

type errorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Context   map[string]any `json:"context,omitempty"`
}

// writeError prints err as {"error": {...}} with its code.
func writeError(w io.Writer, err error) {
	body := errorBody{
		Code:      auth.ErrorCode(err),
		Message:   err.Error(),
		Retryable: auth.IsRetryable(err),
	}
	if body.Code == "" {
		body.Code = codeUnknown
	}
	if oopsErr, ok := oops.AsOops(err); ok {
		body.Context = safeContext(oopsErr.Context())
	}
	//nolint:errcheck // nothing left to report to if stderr fails
	printJSON(w, map[string]errorBody{"error": body})
}

// safeContext keeps the error context fields an operator may see.
func safeContext(ctx map[string]any) map[string]any {
	allowed := []string{"rule", "reason", "locked_until", "key", "operation", "attempts"}
	out := make(map[string]any)
	for _, k := range allowed {
		if v, ok := ctx[k]; ok {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// reportable reports whether a failure is worth a Sentry event. Expected
// outcomes of the auth rules (wrong password, lockout, weak password, bad
// token) are not.
func reportable(err error) bool {
	code := auth.ErrorCode(err)
	switch {
	case code == "":
		return true
	case auth.IsRetryable(err):
		return true
	case strings.HasSuffix(code, "_FAILED"):
		return true
	default:
		return false
	}
}

// readPassword returns flagValue, or the first line of in when fromStdin.
func readPassword(in io.Reader, flagValue string, fromStdin bool) (string, error) {
	if !fromStdin {
		return flagValue, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", oops.Code("INPUT_FAILED").With("operation", "read password from stdin").Wrap(err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
