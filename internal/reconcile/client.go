// Package reconcile is the reference consumer of the push channel.
//
// Pushed events are invalidation hints. The client only trusts them after a
// full REST resync on the current connection, adopts notification counts
// only when they grow, and refetches a balance whenever a plan expires.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talentgrid/entitlements/internal/model"
)

// Fetcher reads authoritative state.
type Fetcher interface {
	UnseenCount(ctx context.Context) (int64, error)
	Balance(ctx context.Context, kind model.CreditKind) (int64, error)
}

// BalanceState is a cached balance.
type BalanceState struct {
	Value int64
	// Stale is set between a planExpired event and the refetch that follows it.
	Stale bool
}

// Client caches dashboard state and keeps it consistent with pushed events.
type Client struct {
	fetcher Fetcher
	kinds   []model.CreditKind
	onAlert func(count int64)
	logger  *slog.Logger

	mu       sync.Mutex
	synced   bool
	unseen   int64
	balances map[model.CreditKind]BalanceState
}

// NewClient creates a Client tracking the given credit kinds. onAlert, if
// set, is called whenever the unseen count grows.
func NewClient(fetcher Fetcher, kinds []model.CreditKind, onAlert func(count int64), logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if len(kinds) == 0 {
		kinds = model.ValidCreditKinds
	}
	return &Client{
		fetcher:  fetcher,
		kinds:    kinds,
		onAlert:  onAlert,
		logger:   logger.With("component", "reconcile"),
		balances: make(map[model.CreditKind]BalanceState),
	}
}

// Unseen returns the cached unseen count.
func (c *Client) Unseen() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unseen
}

// Balance returns the cached balance for kind.
func (c *Client) Balance(kind model.CreditKind) BalanceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[kind]
}

// Synced reports whether a resync completed on the current connection.
func (c *Client) Synced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.synced
}

// Disconnected marks the cache untrusted until the next resync.
func (c *Client) Disconnected() {
	c.mu.Lock()
	c.synced = false
	c.mu.Unlock()
}

// Resync replaces the cache with authoritative state. The unseen count is
// taken as is, even when lower than the cache, since it is the source of truth.
func (c *Client) Resync(ctx context.Context) error {
	unseen, err := c.fetcher.UnseenCount(ctx)
	if err != nil {
		return fmt.Errorf("resync unseen count: %w", err)
	}

	balances := make(map[model.CreditKind]BalanceState, len(c.kinds))
	for _, kind := range c.kinds {
		value, err := c.fetcher.Balance(ctx, kind)
		if err != nil {
			return fmt.Errorf("resync balance: %w", err)
		}
		balances[kind] = BalanceState{Value: value}
	}

	c.mu.Lock()
	c.unseen = unseen
	c.balances = balances
	c.synced = true
	c.mu.Unlock()

	c.logger.Debug("resynced", "unseen", unseen)
	return nil
}

type inboundFrame struct {
	Type model.EventType `json:"type"`
	Data json.RawMessage `json:"data"`
}

// HandleFrame applies one pushed frame. A welcome frame triggers the
// resync; other frames received before that resync completes are dropped.
func (c *Client) HandleFrame(ctx context.Context, data []byte) error {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logger.Warn("invalid frame", "error", err)
		return nil
	}

	if frame.Type == model.EventWelcome {
		c.Disconnected()
		return c.Resync(ctx)
	}

	if !c.Synced() {
		c.logger.Debug("frame before resync discarded", "type", frame.Type)
		return nil
	}

	switch frame.Type {
	case model.EventPlanExpired:
		var payload struct {
			Kind model.CreditKind `json:"kind"`
		}
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return nil
		}
		return c.onPlanExpired(ctx, payload.Kind)

	case model.EventNewNotificationCount:
		var payload struct {
			TotalUnseenNotifications int64 `json:"totalUnseenNotifications"`
		}
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return nil
		}
		c.onNotificationCount(payload.TotalUnseenNotifications)
	}
	return nil
}

func (c *Client) onPlanExpired(ctx context.Context, kind model.CreditKind) error {
	c.mu.Lock()
	c.balances[kind] = BalanceState{Value: 0, Stale: true}
	c.mu.Unlock()

	value, err := c.fetcher.Balance(ctx, kind)
	if err != nil {
		// The cache stays stale; the next resync repairs it.
		c.logger.Warn("balance refetch failed", "kind", kind, "error", err)
		return nil
	}

	c.mu.Lock()
	c.balances[kind] = BalanceState{Value: value}
	c.mu.Unlock()
	return nil
}

func (c *Client) onNotificationCount(count int64) {
	c.mu.Lock()
	if count <= c.unseen {
		c.mu.Unlock()
		return
	}
	c.unseen = count
	c.mu.Unlock()

	if c.onAlert != nil {
		c.onAlert(count)
	}
}

// Run keeps a push connection open to wsURL, reconnecting with backoff,
// until ctx is cancelled.
func (c *Client) Run(ctx context.Context, wsURL string, header http.Header) error {
	dialer := websocket.Dialer{HandshakeTimeout: DialTimeout}

	attempt := 0
	for {
		ws, _, err := dialer.DialContext(ctx, wsURL, header)
		if err == nil {
			attempt = 0
			err = c.consume(ctx, ws)
		}
		c.Disconnected()

		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			c.logger.Warn("push connection lost", "error", err, "attempt", attempt)
		}

		timer := time.NewTimer(NextReconnectDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		attempt++
	}
}

func (c *Client) consume(ctx context.Context, ws *websocket.Conn) error {
	defer ws.Close()

	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		if err := c.HandleFrame(ctx, data); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}
