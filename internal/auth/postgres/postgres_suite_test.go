// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QuickDine Contributors

//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/quickdine/authcore/internal/store"
)

// testPool is the shared database pool for integration specs.
var testPool *pgxpool.Pool

func TestPostgres(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Auth Postgres Suite")
}

var _ = BeforeSuite(func() {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("quickdine_test"),
		tcpostgres.WithUsername("quickdine"),
		tcpostgres.WithPassword("quickdine"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(func() {
		_ = container.Terminate(context.Background())
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	Expect(err).NotTo(HaveOccurred())

	migrator, err := store.NewMigrator(connStr)
	Expect(err).NotTo(HaveOccurred())
	Expect(migrator.Up()).To(Succeed())
	Expect(migrator.Close()).To(Succeed())

	testPool, err = store.Connect(ctx, store.PoolConfig{URL: connStr, ConnectAttempts: 5}, nil)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(testPool.Close)
})

var _ = BeforeEach(func() {
	_, err := testPool.Exec(context.Background(), `TRUNCATE accounts CASCADE`)
	Expect(err).NotTo(HaveOccurred())
})
