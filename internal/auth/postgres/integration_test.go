// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/quickdine/authcore/internal/auth"
	"github.com/quickdine/authcore/internal/auth/authtest"
	"github.com/quickdine/authcore/internal/auth/postgres"
)

var integrationEpoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func integrationConfig(rotate bool) auth.ServiceConfig {
	return auth.ServiceConfig{
		Tokens: auth.TokenConfig{
			AccessSecret:  "integration-access-secret-0123456789",
			RefreshSecret: "integration-refresh-secret-0123456789",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
		},
		Lockout:             auth.DefaultLockoutPolicy(),
		ResetTTL:            time.Hour,
		RotateRefreshTokens: rotate,
	}
}

func newIntegrationService(clock auth.Clock, rotate bool) *auth.Service {
	svc, err := auth.NewService(
		postgres.NewAccountRepository(testPool),
		postgres.NewSessionRepository(testPool),
		postgres.NewTransactor(testPool),
		auth.NewArgon2idHasher(),
		integrationConfig(rotate),
		auth.WithClock(clock),
	)
	Expect(err).NotTo(HaveOccurred())
	return svc
}

func codeOf(err error) string {
	return auth.ErrorCode(err)
}

var _ = Describe("AccountRepository", func() {
	var (
		ctx  context.Context
		repo *postgres.AccountRepository
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = postgres.NewAccountRepository(testPool)
	})

	It("round-trips an account", func() {
		tenant := "bistro-1"
		account, err := auth.NewAccount("a@b.com", "Ann", "$argon2id$x", auth.RoleStaff, &tenant, integrationEpoch)
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.Create(ctx, account)).To(Succeed())

		stored, err := repo.GetByEmail(ctx, "a@b.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.ID).To(Equal(account.ID))
		Expect(*stored.TenantID).To(Equal("bistro-1"))
		Expect(stored.CreatedAt.Equal(integrationEpoch)).To(BeTrue())
	})

	It("rejects a duplicate email", func() {
		first, err := auth.NewAccount("a@b.com", "Ann", "$argon2id$x", auth.RoleStaff, nil, integrationEpoch)
		Expect(err).NotTo(HaveOccurred())
		second, err := auth.NewAccount("a@b.com", "Bob", "$argon2id$y", auth.RoleCustomer, nil, integrationEpoch)
		Expect(err).NotTo(HaveOccurred())

		Expect(repo.Create(ctx, first)).To(Succeed())
		Expect(codeOf(repo.Create(ctx, second))).To(Equal(auth.CodeDuplicateAccount))
	})

	It("counts every concurrent failure and pins the window", func() {
		account, err := auth.NewAccount("a@b.com", "Ann", "$argon2id$x", auth.RoleStaff, nil, integrationEpoch)
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.Create(ctx, account)).To(Succeed())

		const attempts = 20
		var wg sync.WaitGroup
		for i := range attempts {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				_, _, err := repo.RecordLoginFailure(ctx, account.ID, integrationEpoch.Add(time.Duration(i)*time.Second), 5)
				Expect(err).NotTo(HaveOccurred())
			}()
		}
		wg.Wait()

		stored, err := repo.GetByID(ctx, account.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.FailedLoginCount).To(Equal(attempts))
		Expect(stored.LastFailedLoginAt).NotTo(BeNil())
	})

	It("upgrades a hash only while the old one is stored", func() {
		account, err := auth.NewAccount("a@b.com", "Ann", "$2a$10$old", auth.RoleStaff, nil, integrationEpoch)
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.Create(ctx, account)).To(Succeed())

		ok, err := repo.UpgradePasswordHash(ctx, account.ID, "$2a$10$stale", "$argon2id$new", integrationEpoch)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())

		ok, err = repo.UpgradePasswordHash(ctx, account.ID, "$2a$10$old", "$argon2id$new", integrationEpoch)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		stored, err := repo.GetByID(ctx, account.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.PasswordHash).To(Equal("$argon2id$new"))
	})
})

var _ = Describe("SessionRepository", func() {
	It("never revives a revoked session when touching it", func() {
		ctx := context.Background()
		accounts := postgres.NewAccountRepository(testPool)
		sessions := postgres.NewSessionRepository(testPool)

		account, err := auth.NewAccount("a@b.com", "Ann", "$argon2id$x", auth.RoleStaff, nil, integrationEpoch)
		Expect(err).NotTo(HaveOccurred())
		Expect(accounts.Create(ctx, account)).To(Succeed())
		session, err := auth.NewSession(account.ID, "touch-hash", integrationEpoch.Add(time.Hour), integrationEpoch)
		Expect(err).NotTo(HaveOccurred())
		Expect(sessions.Create(ctx, session)).To(Succeed())

		_, err = sessions.Invalidate(ctx, session.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(sessions.Touch(ctx, session.ID, integrationEpoch.Add(time.Minute))).To(Succeed())

		stored, err := sessions.GetByTokenHash(ctx, "touch-hash")
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.IsValid).To(BeFalse())
		Expect(stored.LastUsedAt.Equal(integrationEpoch)).To(BeTrue())
	})
})

var _ = Describe("Service over PostgreSQL", func() {
	var (
		ctx   context.Context
		clock *authtest.FakeClock
	)

	BeforeEach(func() {
		ctx = context.Background()
		clock = authtest.NewFakeClock(integrationEpoch)
	})

	signup := func(svc *auth.Service) *auth.AuthResult {
		res, err := svc.Signup(ctx, auth.SignupRequest{
			Email: "a@b.com", Password: "Valid123!", Name: "Ann", Role: auth.RoleStaff,
		})
		Expect(err).NotTo(HaveOccurred())
		return res
	}

	It("locks after five failures and unlocks after the lockout", func() {
		svc := newIntegrationService(clock, false)
		signup(svc)

		for range 5 {
			_, err := svc.Login(ctx, "a@b.com", "wrong")
			Expect(codeOf(err)).To(Equal(auth.CodeInvalidCredentials))
		}
		_, err := svc.Login(ctx, "a@b.com", "Valid123!")
		Expect(codeOf(err)).To(Equal(auth.CodeAccountLocked))

		clock.Advance(15*time.Minute + time.Second)
		_, err = svc.Login(ctx, "a@b.com", "Valid123!")
		Expect(err).NotTo(HaveOccurred())
	})

	It("lets exactly one concurrent refresh rotate a token", func() {
		svc := newIntegrationService(clock, true)
		res := signup(svc)

		const racers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)
		for range racers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				if _, err := svc.Refresh(ctx, res.RefreshToken); err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
				} else {
					Expect(codeOf(err)).To(Equal(auth.CodeSessionInvalidated))
				}
			}()
		}
		wg.Wait()
		Expect(successes).To(Equal(1))
	})

	It("completes a password reset once and revokes sessions", func() {
		svc := newIntegrationService(clock, false)
		res := signup(svc)

		token, err := svc.RequestPasswordReset(ctx, "a@b.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(svc.CompletePasswordReset(ctx, "a@b.com", token, "Changed456#")).To(Succeed())

		_, err = svc.Refresh(ctx, res.RefreshToken)
		Expect(codeOf(err)).To(Equal(auth.CodeSessionInvalidated))

		err = svc.CompletePasswordReset(ctx, "a@b.com", token, "Again789$")
		Expect(codeOf(err)).To(Equal(auth.CodeResetTicketMissing))

		_, err = svc.Login(ctx, "a@b.com", "Changed456#")
		Expect(err).NotTo(HaveOccurred())
	})

	It("prunes sessions past retention", func() {
		svc := newIntegrationService(clock, false)
		signup(svc)

		clock.Advance(8 * 24 * time.Hour)
		n, err := svc.PruneSessions(ctx, 24*time.Hour)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(1)))
	})
})
