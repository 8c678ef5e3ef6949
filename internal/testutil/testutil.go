package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/talentgrid/entitlements/internal/model"
	"github.com/talentgrid/entitlements/internal/repository"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

const advisoryLockID int64 = 420420

// AcquireDBLock grabs a global advisory lock to serialize DB tests.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	unlock := func() error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

// ResetSchema drops every service table and reapplies the migrations.
func ResetSchema(ctx context.Context, repo *repository.Repository) error {
	_, err := repo.Pool().Exec(ctx, `
		DROP TABLE IF EXISTS
			message_receipts,
			messages,
			notification_counters,
			principals,
			credit_pools,
			plans,
			schema_migrations
		CASCADE
	`)
	if err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}
	if err := repo.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// OpenRepository connects to TEST_DATABASE_URL with a fresh schema. The
// database lock is held until the test ends. Skips when the variable is unset.
func OpenRepository(t testing.TB) *repository.Repository {
	t.Helper()
	dsn := RequireEnv(t, "TEST_DATABASE_URL")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, dsn, repository.PoolOptions{MaxConns: 10})
	if err != nil {
		t.Fatalf("connect to database: %v", err)
	}

	unlock, err := AcquireDBLock(context.Background(), repo.Pool())
	if err != nil {
		repo.Close()
		t.Fatalf("lock database: %v", err)
	}
	t.Cleanup(func() {
		_ = unlock()
		repo.Close()
	})

	if err := ResetSchema(ctx, repo); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	return repo
}

// OpenRedis connects to TEST_REDIS_URL and flushes it. Skips when unset.
func OpenRedis(t testing.TB) *redis.Client {
	t.Helper()
	url := RequireEnv(t, "TEST_REDIS_URL")

	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	if err := FlushRedis(context.Background(), client); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
	return client
}

// FlushRedis clears the current Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}

// ============================================================================
// Test Data Factories
// ============================================================================

// NewTestPlan creates an active plan expiring in a day.
func NewTestPlan(t testing.TB, tenantID string, kind model.CreditKind, amount int64) *model.Plan {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &model.Plan{
		ID:            UniqueID("plan"),
		TenantID:      tenantID,
		Kind:          kind,
		GrantedAmount: amount,
		ActivatedAt:   now,
		ExpiresAt:     now.Add(24 * time.Hour),
		State:         model.PlanStateActive,
	}
}

// NewTestPlanWithExpiry creates an active plan with a specific expiry.
func NewTestPlanWithExpiry(t testing.TB, tenantID string, kind model.CreditKind, amount int64, expiresAt time.Time) *model.Plan {
	t.Helper()
	plan := NewTestPlan(t, tenantID, kind, amount)
	plan.ExpiresAt = expiresAt.UTC().Truncate(time.Microsecond)
	return plan
}

// NewTestPrincipal creates a principal. An empty tenantID makes platform staff.
func NewTestPrincipal(t testing.TB, id, tenantID string, role model.Role) *model.Principal {
	t.Helper()
	p := &model.Principal{ID: id, Role: role, UpdatedAt: time.Now().UTC()}
	if tenantID != "" {
		p.TenantID = &tenantID
	}
	return p
}

// UniqueID generates a unique ID for tests.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
