// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

package authtest

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/quickdine/authcore/internal/auth"
)

// Store is an in-memory auth.SessionRepository and auth.Transactor.
// Accounts returns its auth.AccountRepository view. Records are copied on
// the way in and out, so callers never share memory with the store.
//
// InTransaction serializes transactions and restores the previous state
// when fn fails.
type Store struct {
	mu       sync.Mutex
	txMu     sync.Mutex
	accounts map[ulid.ULID]*auth.Account
	sessions map[ulid.ULID]*auth.Session
	faults   map[string][]error
	calls    map[string]int
}

// Compile-time interface checks.
var (
	_ auth.SessionRepository = (*Store)(nil)
	_ auth.Transactor        = (*Store)(nil)
)

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		accounts: make(map[ulid.ULID]*auth.Account),
		sessions: make(map[ulid.ULID]*auth.Session),
		faults:   make(map[string][]error),
		calls:    make(map[string]int),
	}
}

// Accounts returns the store as an account repository.
func (s *Store) Accounts() auth.AccountRepository { return accountRepo{s} }

// Sessions returns the store as a session repository.
func (s *Store) Sessions() auth.SessionRepository { return s }

// FailNext makes the next call of the named method return err. Queued
// faults are consumed in order.
func (s *Store) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[method] = append(s.faults[method], err)
}

// Calls returns how often the named method was invoked.
func (s *Store) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// Account returns a copy of the stored account, or nil.
func (s *Store) Account(id ulid.ULID) *auth.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		return cloneAccount(a)
	}
	return nil
}

// SessionList returns copies of every stored session.
func (s *Store) SessionList() []*auth.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*auth.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, cloneSession(sess))
	}
	return out
}

// enter records a call and returns an injected fault. Callers hold s.mu.
func (s *Store) enter(method string) error {
	s.calls[method]++
	queue := s.faults[method]
	if len(queue) == 0 {
		return nil
	}
	s.faults[method] = queue[1:]
	return queue[0]
}

// InTransaction runs fn; a failing fn leaves the store as it was.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	if err := s.enter("InTransaction"); err != nil {
		s.mu.Unlock()
		return err
	}
	accounts, sessions := s.snapshot()
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.accounts, s.sessions = accounts, sessions
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) snapshot() (map[ulid.ULID]*auth.Account, map[ulid.ULID]*auth.Session) {
	accounts := make(map[ulid.ULID]*auth.Account, len(s.accounts))
	for id, a := range s.accounts {
		accounts[id] = cloneAccount(a)
	}
	sessions := make(map[ulid.ULID]*auth.Session, len(s.sessions))
	for id, sess := range s.sessions {
		sessions[id] = cloneSession(sess)
	}
	return accounts, sessions
}

// accountRepo adapts Store to auth.AccountRepository. Store itself carries
// the session methods, whose names overlap.
type accountRepo struct{ s *Store }

var _ auth.AccountRepository = accountRepo{}

func (r accountRepo) Create(ctx context.Context, account *auth.Account) error {
	return r.s.CreateAccount(ctx, account)
}

func (r accountRepo) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	return r.s.GetAccountByID(ctx, id)
}

func (r accountRepo) GetByIDForUpdate(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	return r.s.GetAccountByIDForUpdate(ctx, id)
}

func (r accountRepo) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	return r.s.GetAccountByEmail(ctx, email)
}

func (r accountRepo) Update(ctx context.Context, account *auth.Account) error {
	return r.s.UpdateAccount(ctx, account)
}

func (r accountRepo) UpgradePasswordHash(ctx context.Context, id ulid.ULID, previousHash, newHash string, at time.Time) (bool, error) {
	return r.s.UpgradePasswordHash(ctx, id, previousHash, newHash, at)
}

func (r accountRepo) RecordLoginFailure(ctx context.Context, id ulid.ULID, at time.Time, threshold int) (int, *time.Time, error) {
	return r.s.RecordLoginFailure(ctx, id, at, threshold)
}

func (r accountRepo) ResetLoginFailures(ctx context.Context, id ulid.ULID) error {
	return r.s.ResetLoginFailures(ctx, id)
}

func (r accountRepo) SetResetTicket(ctx context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error {
	return r.s.SetResetTicket(ctx, id, tokenHash, expiresAt)
}

// CreateAccount stores a new account. Emails are unique.
func (s *Store) CreateAccount(_ context.Context, account *auth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateAccount"); err != nil {
		return err
	}
	for _, a := range s.accounts {
		if a.Email == account.Email {
			return oops.Code(auth.CodeDuplicateAccount).With("email", account.Email).Errorf("email already registered")
		}
	}
	s.accounts[account.ID] = cloneAccount(account)
	return nil
}

// GetAccountByID returns a copy of the account.
func (s *Store) GetAccountByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetAccountByID"); err != nil {
		return nil, err
	}
	a, ok := s.accounts[id]
	if !ok {
		return nil, oops.With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return cloneAccount(a), nil
}

// GetAccountByIDForUpdate returns a copy of the account. Transactions are
// already serialized, so no row lock is needed.
func (s *Store) GetAccountByIDForUpdate(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	return s.GetAccountByID(ctx, id)
}

// GetAccountByEmail returns a copy of the account with the email.
func (s *Store) GetAccountByEmail(_ context.Context, email string) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetAccountByEmail"); err != nil {
		return nil, err
	}
	for _, a := range s.accounts {
		if a.Email == email {
			return cloneAccount(a), nil
		}
	}
	return nil, oops.With("email", email).Wrap(auth.ErrNotFound)
}

// UpdateAccount replaces the stored account, keeping the stored login
// failure fields.
func (s *Store) UpdateAccount(_ context.Context, account *auth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpdateAccount"); err != nil {
		return err
	}
	stored, ok := s.accounts[account.ID]
	if !ok {
		return oops.With("account_id", account.ID.String()).Wrap(auth.ErrNotFound)
	}
	updated := cloneAccount(account)
	updated.FailedLoginCount = stored.FailedLoginCount
	updated.LastFailedLoginAt = stored.LastFailedLoginAt
	s.accounts[account.ID] = updated
	return nil
}

// UpgradePasswordHash swaps the hash only while previousHash is stored.
func (s *Store) UpgradePasswordHash(_ context.Context, id ulid.ULID, previousHash, newHash string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpgradePasswordHash"); err != nil {
		return false, err
	}
	a, ok := s.accounts[id]
	if !ok || a.PasswordHash != previousHash {
		return false, nil
	}
	a.PasswordHash = newHash
	a.UpdatedAt = at
	return true, nil
}

// RecordLoginFailure increments the failure counter under the store lock.
func (s *Store) RecordLoginFailure(_ context.Context, id ulid.ULID, at time.Time, threshold int) (int, *time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("RecordLoginFailure"); err != nil {
		return 0, nil, err
	}
	a, ok := s.accounts[id]
	if !ok {
		return 0, nil, oops.With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	if a.FailedLoginCount < threshold {
		a.LastFailedLoginAt = &at
	}
	a.FailedLoginCount++
	return a.FailedLoginCount, clonePtr(a.LastFailedLoginAt), nil
}

// ResetLoginFailures clears the failure counter.
func (s *Store) ResetLoginFailures(_ context.Context, id ulid.ULID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ResetLoginFailures"); err != nil {
		return err
	}
	a, ok := s.accounts[id]
	if !ok {
		return oops.With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	a.FailedLoginCount = 0
	a.LastFailedLoginAt = nil
	return nil
}

// SetResetTicket stores the outstanding reset ticket.
func (s *Store) SetResetTicket(_ context.Context, id ulid.ULID, tokenHash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("SetResetTicket"); err != nil {
		return err
	}
	a, ok := s.accounts[id]
	if !ok {
		return oops.With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	a.ResetTokenHash = &tokenHash
	a.ResetTokenExpiresAt = &expiresAt
	return nil
}

// Create stores a new session.
func (s *Store) Create(_ context.Context, session *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateSession"); err != nil {
		return err
	}
	for _, sess := range s.sessions {
		if sess.TokenHash == session.TokenHash {
			return oops.Code("SESSION_DUPLICATE_TOKEN").Errorf("token hash already stored")
		}
	}
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

// GetByTokenHash returns a copy of the session with the token hash.
func (s *Store) GetByTokenHash(_ context.Context, tokenHash string) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetByTokenHash"); err != nil {
		return nil, err
	}
	for _, sess := range s.sessions {
		if sess.TokenHash == tokenHash {
			return cloneSession(sess), nil
		}
	}
	return nil, oops.Wrap(auth.ErrNotFound)
}

// Touch records the last use of a valid session.
func (s *Store) Touch(_ context.Context, id ulid.ULID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("Touch"); err != nil {
		return err
	}
	if sess, ok := s.sessions[id]; ok && sess.IsValid {
		sess.LastUsedAt = at
	}
	return nil
}

// Invalidate marks a valid session invalid.
func (s *Store) Invalidate(_ context.Context, id ulid.ULID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("Invalidate"); err != nil {
		return false, err
	}
	sess, ok := s.sessions[id]
	if !ok {
		return false, oops.With("session_id", id.String()).Wrap(auth.ErrNotFound)
	}
	if !sess.IsValid {
		return false, nil
	}
	sess.IsValid = false
	return true, nil
}

// InvalidateByAccount marks every valid session of an account invalid.
func (s *Store) InvalidateByAccount(_ context.Context, accountID ulid.ULID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("InvalidateByAccount"); err != nil {
		return 0, err
	}
	var n int64
	for _, sess := range s.sessions {
		if sess.AccountID == accountID && sess.IsValid {
			sess.IsValid = false
			n++
		}
	}
	return n, nil
}

// ListByAccount returns the sessions of an account, newest first.
func (s *Store) ListByAccount(_ context.Context, accountID ulid.ULID) ([]*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListByAccount"); err != nil {
		return nil, err
	}
	var out []*auth.Session
	for _, sess := range s.sessions {
		if sess.AccountID == accountID {
			out = append(out, cloneSession(sess))
		}
	}
	slices.SortFunc(out, func(a, b *auth.Session) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return b.ID.Compare(a.ID)
	})
	return out, nil
}

// DeleteExpired removes sessions that expired before the cutoff.
func (s *Store) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("DeleteExpired"); err != nil {
		return 0, err
	}
	var n int64
	for id, sess := range s.sessions {
		if sess.ExpiresAt.Before(before) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func cloneAccount(a *auth.Account) *auth.Account {
	c := *a
	c.TenantID = clonePtr(a.TenantID)
	c.LastFailedLoginAt = clonePtr(a.LastFailedLoginAt)
	c.ResetTokenHash = clonePtr(a.ResetTokenHash)
	c.ResetTokenExpiresAt = clonePtr(a.ResetTokenExpiresAt)
	return &c
}

func cloneSession(s *auth.Session) *auth.Session {
	c := *s
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
