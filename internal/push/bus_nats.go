package push

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/talentgrid/entitlements/internal/model"
)

// NATSBus fans events out over a core NATS subject.
type NATSBus struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATSBus connects to NATS. It reconnects forever on connection loss.
func NewNATSBus(url, subject string, logger *slog.Logger) (*NATSBus, error) {
	if subject == "" {
		subject = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "push.nats")

	conn, err := nats.Connect(url,
		nats.Name("entitlements-push"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	return &NATSBus{conn: conn, subject: subject, logger: logger}, nil
}

func (b *NATSBus) Publish(ctx context.Context, event model.Event) error {
	data, err := marshalEvent(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.conn.Publish(b.subject, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

func (b *NATSBus) Subscribe(ctx context.Context, handler func(model.Event)) error {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		event, err := unmarshalEvent(msg.Data)
		if err != nil {
			b.logger.Warn("invalid event on bus", "error", err)
			return
		}
		handler(event)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	<-ctx.Done()
	_ = sub.Unsubscribe()
	return nil
}

// Ping checks the connection state.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("nats not connected: %s", b.conn.Status())
	}
	return nil
}

func (b *NATSBus) Close() error {
	return b.conn.Drain()
}
