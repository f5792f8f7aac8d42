package postgres_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
)

var testPool *pgxpool.Pool

func getTestPool() *pgxpool.Pool {
	return testPool
}

func TestMain(m *testing.M) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		log.Fatalf("Could not construct pool: %s", err)
	}

	err = pool.Client.Ping()
	if err != nil {
		log.Fatalf("Could not connect to Docker: %s", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "17-alpine",
		Env: []string{
			"POSTGRES_USER=ledgerflow",
			"POSTGRES_PASSWORD=ledgerflow",
			"POSTGRES_DB=ledgerflow",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		log.Fatalf("Could not start resource: %s", err)
	}

	hostPort := resource.GetHostPort("5432/tcp")
	databaseURL := fmt.Sprintf("postgres://ledgerflow:ledgerflow@%s/ledgerflow?sslmode=disable", hostPort)

	// Set a hard deadline for container startup
	resource.Expire(120)

	pool.MaxWait = 60 * time.Second
	if err := pool.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var poolErr error
		testPool, poolErr = pgxpool.New(ctx, databaseURL)
		if poolErr != nil {
			return poolErr
		}

		return testPool.Ping(ctx)
	}); err != nil {
		log.Fatalf("Could not connect to database: %s", err)
	}

	// Run migrations
	if err := runMigrations(context.Background(), testPool); err != nil {
		log.Fatalf("Could not run migrations: %s", err)
	}

	code := m.Run()

	testPool.Close()

	if err := pool.Purge(resource); err != nil {
		log.Fatalf("Could not purge resource: %s", err)
	}

	os.Exit(code)
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrations := []string{
		// 000001_ledger_tables
		`CREATE TABLE accounts (
			account_id VARCHAR(64) PRIMARY KEY,
			account_name VARCHAR(255) NOT NULL,
			balance DECIMAL(19, 4) NOT NULL DEFAULT 0,
			currency CHAR(3) NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'ACTIVE',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			version BIGINT NOT NULL DEFAULT 1,
			CONSTRAINT accounts_balance_non_negative CHECK (balance >= 0),
			CONSTRAINT accounts_status_valid CHECK (status IN ('ACTIVE', 'SUSPENDED', 'CLOSED'))
		);`,
		`CREATE TABLE transactions (
			transaction_id VARCHAR(64) PRIMARY KEY,
			idempotency_key VARCHAR(128) NOT NULL,
			from_account_id VARCHAR(64) NOT NULL,
			to_account_id VARCHAR(64) NOT NULL,
			amount DECIMAL(19, 4) NOT NULL,
			currency CHAR(3) NOT NULL,
			type VARCHAR(16) NOT NULL,
			status VARCHAR(16) NOT NULL,
			failure_reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at TIMESTAMPTZ,
			version BIGINT NOT NULL DEFAULT 1,
			CONSTRAINT transactions_amount_positive CHECK (amount > 0),
			CONSTRAINT transactions_status_valid CHECK (status IN ('PENDING', 'PROCESSING', 'COMPLETED', 'FAILED', 'CANCELLED'))
		);`,
		`CREATE UNIQUE INDEX idx_transactions_idempotency_key ON transactions (idempotency_key);`,
		`CREATE INDEX idx_transactions_from_account ON transactions (from_account_id);`,
		`CREATE INDEX idx_transactions_to_account ON transactions (to_account_id);`,
		`CREATE TABLE idempotency_records (
			record_id VARCHAR(64) PRIMARY KEY,
			idempotency_key VARCHAR(128) NOT NULL,
			transaction_id VARCHAR(64) NOT NULL,
			response BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			expires_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE UNIQUE INDEX idx_idempotency_records_key ON idempotency_records (idempotency_key);`,
		`CREATE INDEX idx_idempotency_records_expires_at ON idempotency_records (expires_at);`,
		`CREATE TABLE outbox_events (
			event_id VARCHAR(64) PRIMARY KEY,
			event_type VARCHAR(64) NOT NULL,
			aggregate_id VARCHAR(64) NOT NULL,
			payload BYTEA NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			published_at TIMESTAMPTZ,
			retry_count INT NOT NULL DEFAULT 0,
			error_message TEXT,
			CONSTRAINT outbox_events_status_valid CHECK (status IN ('PENDING', 'PUBLISHED', 'FAILED'))
		);`,
		`CREATE INDEX idx_outbox_events_pending ON outbox_events (status, created_at);`,
	}

	for _, migration := range migrations {
		if _, err := pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}
	return nil
}

func truncateTables(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx,
		`TRUNCATE accounts, transactions, idempotency_records, outbox_events`)
	return err
}
