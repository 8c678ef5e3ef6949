package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/talentgrid/entitlements/internal/model"
)

// UpsertPrincipal inserts or updates a directory entry and makes sure the
// principal has a counter row.
func (r *Repository) UpsertPrincipal(ctx context.Context, p *model.Principal) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert principal: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO principals (id, tenant_id, role, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET tenant_id = EXCLUDED.tenant_id,
		    role = EXCLUDED.role,
		    updated_at = EXCLUDED.updated_at
	`, p.ID, p.TenantID, p.Role, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert principal: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO notification_counters (principal_id, unseen_count)
		VALUES ($1, 0)
		ON CONFLICT (principal_id) DO NOTHING
	`, p.ID)
	if err != nil {
		return fmt.Errorf("failed to create counter: %w", err)
	}

	return tx.Commit(ctx)
}

// CreateMessage stores a message, records a receipt for every principal
// entitled to see it and increments their counters, in one transaction.
// It returns the recipients' new counts.
func (r *Repository) CreateMessage(ctx context.Context, msg *model.Message) ([]model.CountChange, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create message: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, type, tenant_id, subject, body, seen, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)
	`, msg.ID, msg.Type, msg.TenantID, msg.Subject, msg.Body, msg.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrMessageExists
		}
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	var tenantID *string
	if !msg.IsGlobal() {
		tenantID = msg.TenantID
	}

	rows, err := tx.Query(ctx, `
		WITH recipients AS (
			INSERT INTO message_receipts (message_id, principal_id)
			SELECT $1, id
			FROM principals
			WHERE role = ANY($2)
			  AND (($3::text IS NULL AND tenant_id IS NULL) OR tenant_id = $3)
			RETURNING principal_id
		)
		UPDATE notification_counters c
		SET unseen_count = c.unseen_count + 1
		FROM recipients r
		WHERE c.principal_id = r.principal_id
		RETURNING c.principal_id, c.unseen_count
	`, msg.ID, pq.Array(roleStrings(model.NotifiedRoles)), tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to notify recipients: %w", err)
	}

	changes, err := collectCountChanges(rows)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create message: %w", err)
	}
	return changes, nil
}

// UnseenCount returns a principal's unseen message count.
func (r *Repository) UnseenCount(ctx context.Context, principalID string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT unseen_count FROM notification_counters WHERE principal_id = $1`,
		principalID,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrPrincipalNotFound
		}
		return 0, fmt.Errorf("failed to get unseen count: %w", err)
	}
	return count, nil
}

// MarkSeen zeroes a principal's counter and flags every message visible to
// the principal as seen. It reports whether anything changed.
func (r *Repository) MarkSeen(ctx context.Context, principalID string, at time.Time) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin mark seen: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var previous int64
	err = tx.QueryRow(ctx,
		`SELECT unseen_count FROM notification_counters WHERE principal_id = $1 FOR UPDATE`,
		principalID,
	).Scan(&previous)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrPrincipalNotFound
		}
		return false, fmt.Errorf("failed to lock counter: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE notification_counters SET unseen_count = 0 WHERE principal_id = $1`,
		principalID,
	); err != nil {
		return false, fmt.Errorf("failed to reset counter: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		WITH seen AS (
			UPDATE message_receipts
			SET seen_at = $2
			WHERE principal_id = $1 AND seen_at IS NULL
			RETURNING message_id
		)
		UPDATE messages SET seen = TRUE
		WHERE id IN (SELECT message_id FROM seen)
	`, principalID, at)
	if err != nil {
		return false, fmt.Errorf("failed to flag messages: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit mark seen: %w", err)
	}
	return previous > 0 || tag.RowsAffected() > 0, nil
}

// DeleteMessage removes a message and takes it out of the unseen counts of
// recipients who had not seen it yet. It returns the lowered counts.
func (r *Repository) DeleteMessage(ctx context.Context, messageID string) ([]model.CountChange, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin delete message: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id string
	err = tx.QueryRow(ctx, `SELECT id FROM messages WHERE id = $1 FOR UPDATE`, messageID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to lock message: %w", err)
	}

	rows, err := tx.Query(ctx, `
		WITH unseen AS (
			SELECT principal_id FROM message_receipts
			WHERE message_id = $1 AND seen_at IS NULL
		)
		UPDATE notification_counters c
		SET unseen_count = GREATEST(c.unseen_count - 1, 0)
		FROM unseen u
		WHERE c.principal_id = u.principal_id
		RETURNING c.principal_id, c.unseen_count
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to lower counters: %w", err)
	}

	changes, err := collectCountChanges(rows)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE id = $1`, messageID); err != nil {
		return nil, fmt.Errorf("failed to delete message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit delete message: %w", err)
	}
	return changes, nil
}

func collectCountChanges(rows pgx.Rows) ([]model.CountChange, error) {
	defer rows.Close()

	var changes []model.CountChange
	for rows.Next() {
		var c model.CountChange
		if err := rows.Scan(&c.PrincipalID, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}
	return changes, nil
}

func roleStrings(roles []model.Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
