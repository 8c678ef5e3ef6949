package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/talentgrid/entitlements/internal/metrics"
	"github.com/talentgrid/entitlements/internal/model"
)

// Gateway defaults.
const (
	DefaultSendBuffer     = 32
	DefaultWriteTimeout   = 10 * time.Second
	DefaultPingInterval   = 30 * time.Second
	DefaultPublishTimeout = 2 * time.Second
	DefaultQueueSize      = 1024
)

// Options configures a Gateway. Zero values fall back to the defaults.
type Options struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	PublishTimeout time.Duration
	QueueSize      int
	// CheckOrigin validates the websocket handshake origin. Nil enforces same origin.
	CheckOrigin func(r *http.Request) bool
}

func (o *Options) norm() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = DefaultSendBuffer
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = DefaultPublishTimeout
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
}

// Gateway accepts client connections, publishes events on the bus and
// delivers bus events to the local hub.
type Gateway struct {
	bus      Bus
	hub      *Hub
	queue    chan model.Event
	upgrader websocket.Upgrader
	opts     Options
	metrics  metrics.Recorder
	logger   *slog.Logger
}

// NewGateway creates a Gateway.
func NewGateway(bus Bus, hub *Hub, opts Options, recorder metrics.Recorder, logger *slog.Logger) *Gateway {
	opts.norm()
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		bus:   bus,
		hub:   hub,
		queue: make(chan model.Event, opts.QueueSize),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		opts:    opts,
		metrics: recorder,
		logger:  logger.With("component", "push.gateway"),
	}
}

// Hub returns the local connection hub.
func (g *Gateway) Hub() *Hub {
	return g.hub
}

// Emit queues an event for publishing and returns immediately. When the
// queue is full the event is dropped.
func (g *Gateway) Emit(event model.Event) {
	select {
	case g.queue <- event:
	default:
		g.metrics.IncPushDropped(string(event.Type), metrics.DropBusError)
		g.logger.Warn("push queue full, event dropped", "type", event.Type)
	}
}

// Run publishes queued events and delivers bus events to the hub until ctx
// is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("push gateway started")

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return g.publishLoop(ctx)
	})
	group.Go(func() error {
		if err := g.bus.Subscribe(ctx, g.hub.Deliver); err != nil {
			return fmt.Errorf("bus subscribe: %w", err)
		}
		return nil
	})

	err := group.Wait()
	g.logger.Info("push gateway stopped")
	return err
}

func (g *Gateway) publishLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-g.queue:
			g.publish(ctx, event)
		}
	}
}

func (g *Gateway) publish(ctx context.Context, event model.Event) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.PublishTimeout)
	defer cancel()

	if err := g.bus.Publish(ctx, event); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		g.metrics.IncPushDropped(string(event.Type), metrics.DropBusError)
		g.logger.Warn("push publish failed", "type", event.Type, "error", err)
	}
}

// Accept upgrades the request to a websocket and serves it until the client
// disconnects. The connection joins the tenant room of the caller.
func (g *Gateway) Accept(w http.ResponseWriter, r *http.Request, principalID, tenantID string) error {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade: %w", err)
	}

	sub := model.PushSubscription{
		ConnectionID: ulid.Make().String(),
		PrincipalID:  principalID,
		TenantID:     tenantID,
		JoinedAt:     time.Now().UTC(),
	}
	conn := newConn(sub, ws, g.opts.SendBuffer)

	g.logger.Debug("push connection opened",
		"connection_id", sub.ConnectionID,
		"principal_id", principalID,
		"tenant_id", tenantID,
	)
	conn.serve(g.hub, connOptions{
		writeTimeout: g.opts.WriteTimeout,
		pingInterval: g.opts.PingInterval,
	}, g.metrics, g.logger)
	g.logger.Debug("push connection closed", "connection_id", sub.ConnectionID)
	return nil
}

// Shutdown closes every local connection.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.hub.CloseAll()
	return nil
}
