// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

// Package auth implements QuickDine's credential and session security core.
//
// # Components
//
//   - Hasher - salted, adaptive password hashing (bcrypt or argon2id)
//   - ValidatePasswordStrength - the strong-password policy
//   - TokenCodec - signed access and refresh tokens with separate secrets
//   - LoginGuard - failed-login counting and temporary lockout
//   - SessionRegistry - server-side refresh sessions
//   - ResetFlow - single-use password reset tickets
//
// # Use cases
//
// Service composes the components into Signup, Login, Refresh, Logout,
// RequestPasswordReset and CompletePasswordReset. Every failure carries an
// oops code (see the Code* constants); only CodeStoreUnavailable is worth
// retrying, and Retry does that with exponential backoff.
//
// Domain types should be created with their constructors (NewAccount,
// NewSession). Direct struct initialization bypasses validation.
//
// Persistence is abstracted by AccountRepository, SessionRepository and
// Transactor. The postgres subpackage implements them; authtest provides an
// in-memory store for tests.
package auth
