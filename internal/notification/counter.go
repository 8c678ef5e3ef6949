// Package notification tracks unseen inbound messages per principal.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/talentgrid/entitlements/internal/metrics"
	"github.com/talentgrid/entitlements/internal/model"
	"github.com/talentgrid/entitlements/internal/repository"
)

// Notification errors.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidType      = errors.New("invalid message type")
	ErrInvalidRole      = errors.New("invalid role")
	ErrInvalidPrincipal = errors.New("principal id is required")
	ErrInvalidMessageID = errors.New("message id is too long")
)

const maxMessageIDLength = 64

// Store persists messages, receipts and counters. CreateMessage,
// MarkSeen and DeleteMessage must each be atomic.
type Store interface {
	UpsertPrincipal(ctx context.Context, p *model.Principal) error
	CreateMessage(ctx context.Context, msg *model.Message) ([]model.CountChange, error)
	UnseenCount(ctx context.Context, principalID string) (int64, error)
	MarkSeen(ctx context.Context, principalID string, at time.Time) (bool, error)
	DeleteMessage(ctx context.Context, messageID string) ([]model.CountChange, error)
}

// Emitter receives count changes. Emit must not block.
type Emitter interface {
	Emit(event model.Event)
}

// Counter maintains unseen counts for owners and admins.
type Counter struct {
	store   Store
	emitter Emitter
	metrics metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewCounter creates a Counter.
func NewCounter(store Store, emitter Emitter, recorder metrics.Recorder, logger *slog.Logger) *Counter {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Counter{
		store:   store,
		emitter: emitter,
		metrics: recorder,
		logger:  logger.With("component", "notification"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// MessageInput defines an inbound contact submission or job report.
// ID is optional; collaborators that retry can set it to make the call
// idempotent.
type MessageInput struct {
	ID       string
	Type     model.MessageType
	TenantID *string
	Subject  string
	Body     string
}

// MessageResult is the outcome of OnMessageCreated.
type MessageResult struct {
	Message    *model.Message
	Recipients int
	Duplicate  bool
}

// OnMessageCreated stores the message and bumps the unseen count of every
// principal entitled to see it. Each recipient gets a push with its new count.
func (c *Counter) OnMessageCreated(ctx context.Context, input MessageInput) (*MessageResult, error) {
	if !input.Type.IsValid() {
		return nil, ErrInvalidType
	}
	if len(input.ID) > maxMessageIDLength {
		return nil, ErrInvalidMessageID
	}

	id := input.ID
	if id == "" {
		id = ulid.Make().String()
	}

	tenantID := input.TenantID
	if tenantID != nil && *tenantID == "" {
		tenantID = nil
	}

	msg := &model.Message{
		ID:        id,
		Type:      input.Type,
		TenantID:  tenantID,
		Subject:   input.Subject,
		Body:      input.Body,
		CreatedAt: c.now(),
	}

	changes, err := c.store.CreateMessage(ctx, msg)
	if err != nil {
		if errors.Is(err, repository.ErrMessageExists) {
			return &MessageResult{Message: msg, Duplicate: true}, nil
		}
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	c.metrics.IncMessageCreated(string(msg.Type))
	c.logger.Info("message created",
		"message_id", msg.ID,
		"type", msg.Type,
		"global", msg.IsGlobal(),
		"recipients", len(changes),
	)

	if c.emitter != nil {
		for _, change := range changes {
			c.emitter.Emit(model.NotificationCountChanged(change.PrincipalID, change.Count))
		}
	}

	return &MessageResult{Message: msg, Recipients: len(changes)}, nil
}

// MarkSeen resets a principal's unseen count to zero. It reports whether
// anything changed; a second call in a row reports false.
func (c *Counter) MarkSeen(ctx context.Context, principalID string) (bool, error) {
	if principalID == "" {
		return false, ErrInvalidPrincipal
	}
	changed, err := c.store.MarkSeen(ctx, principalID, c.now())
	if err != nil {
		return false, c.mapError(err, principalID)
	}
	return changed, nil
}

// UnseenCount returns the authoritative unseen count.
func (c *Counter) UnseenCount(ctx context.Context, principalID string) (int64, error) {
	if principalID == "" {
		return 0, ErrInvalidPrincipal
	}
	count, err := c.store.UnseenCount(ctx, principalID)
	if err != nil {
		return 0, c.mapError(err, principalID)
	}
	return count, nil
}

// DeleteMessage removes a message. Recipients who had not seen it get their
// count lowered; lowered counts are not pushed.
func (c *Counter) DeleteMessage(ctx context.Context, messageID string) error {
	changes, err := c.store.DeleteMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
		}
		return fmt.Errorf("failed to delete message: %w", err)
	}
	c.logger.Info("message deleted", "message_id", messageID, "lowered", len(changes))
	return nil
}

// UpsertPrincipal syncs a directory entry from the user service.
func (c *Counter) UpsertPrincipal(ctx context.Context, p *model.Principal) error {
	if p.ID == "" {
		return ErrInvalidPrincipal
	}
	if !p.Role.IsValid() {
		return ErrInvalidRole
	}
	if p.TenantID != nil && *p.TenantID == "" {
		p.TenantID = nil
	}
	p.UpdatedAt = c.now()

	if err := c.store.UpsertPrincipal(ctx, p); err != nil {
		return fmt.Errorf("failed to upsert principal: %w", err)
	}
	return nil
}

func (c *Counter) mapError(err error, principalID string) error {
	if errors.Is(err, repository.ErrPrincipalNotFound) {
		return fmt.Errorf("principal %s: %w", principalID, ErrNotFound)
	}
	return fmt.Errorf("principal %s: %w", principalID, err)
}
