package geyser

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Client errors.
var (
	ErrClosed        = errors.New("geyser client closed")
	ErrStreamClosed  = errors.New("geyser stream closed")
	ErrStreamStale   = errors.New("geyser stream stale")
	ErrMaxReconnects = errors.New("max reconnection attempts reached")
)

// Client subscribes to account updates of a vault node.
//
// Each subscription runs on its own stream. When a stream fails the client
// resubscribes with exponential backoff until the subscription context is
// cancelled, the client is closed or MaxReconnects is exceeded.
type Client struct {
	config Config
	conn   *grpc.ClientConn
	log    *logrus.Entry

	// State management
	streams        atomic.Int32
	closed         atomic.Bool
	lastSlot       atomic.Uint64
	lastUpdate     atomic.Int64 // Unix nano timestamp
	reconnectCount atomic.Int32
	dropped        atomic.Uint64
	lastError      error
	lastErrorMu    sync.RWMutex
}

// NewClient creates a client for the configured endpoint. The connection
// is established lazily by the first subscription.
func NewClient(config Config) (*Client, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, pkgerrors.Wrap(err, "invalid config")
	}

	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                config.KeepaliveTime,
			Timeout:             config.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff: backoff.Config{
				BaseDelay:  config.ReconnectMinDelay,
				Multiplier: backoff.DefaultConfig.Multiplier,
				Jitter:     backoff.DefaultConfig.Jitter,
				MaxDelay:   config.ReconnectMaxDelay,
			},
			MinConnectTimeout: 20 * time.Second,
		}),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(jsonCodec{}),
			grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
			grpc.MaxCallSendMsgSize(config.MaxMessageSize),
		),
	}

	if config.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(
			credentials.NewTLS(&tls.Config{
				MinVersion: tls.VersionTLS12,
			}),
		))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	if config.Token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(&tokenAuth{
			token:      config.ExpandedToken(),
			requireTLS: config.UseTLS,
		}))
	}

	//nolint:staticcheck // Using Dial for compatibility with older gRPC versions
	conn, err := grpc.Dial(config.Endpoint, opts...)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "dial %s", config.Endpoint)
	}

	return &Client{
		config: config,
		conn:   conn,
		log:    logrus.StandardLogger().WithField("type", "geyser"),
	}, nil
}

// Subscribe opens a subscription for the accounts selected by filter. The
// returned channel is closed when ctx is cancelled, the client is closed
// or resubscription gives up. If the consumer falls behind the oldest
// buffered updates are dropped.
func (c *Client) Subscribe(ctx context.Context, filter Filter) (<-chan AccountUpdate, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	req := newSubscribeRequest(filter)
	stream, cancel, err := c.open(ctx, req)
	if err != nil {
		return nil, err
	}

	updates := make(chan AccountUpdate, c.config.ChannelSize)
	go c.run(ctx, req, stream, cancel, updates)
	return updates, nil
}

// open starts a stream and sends the subscription request.
func (c *Client) open(ctx context.Context, req *SubscribeRequest) (grpc.ClientStream, context.CancelFunc, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	streamCtx = metadata.NewOutgoingContext(streamCtx, metadata.New(c.config.Headers))

	stream, err := c.conn.NewStream(streamCtx, &subscribeStreamDesc, subscribeMethod)
	if err != nil {
		cancel()
		return nil, nil, pkgerrors.Wrap(err, "open subscription stream")
	}
	if err := stream.SendMsg(req); err != nil {
		cancel()
		return nil, nil, pkgerrors.Wrap(err, "send subscription request")
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, nil, pkgerrors.Wrap(err, "close subscription send side")
	}

	c.streams.Add(1)
	c.lastUpdate.Store(time.Now().UnixNano())
	if c.config.OnConnect != nil {
		c.config.OnConnect()
	}
	return stream, cancel, nil
}

// run delivers updates and resubscribes whenever the stream fails.
func (c *Client) run(ctx context.Context, req *SubscribeRequest, stream grpc.ClientStream, cancel context.CancelFunc, updates chan AccountUpdate) {
	defer close(updates)

	failures := 0
	for {
		received, err := c.receive(stream, cancel, updates)
		cancel()
		c.streams.Add(-1)

		if ctx.Err() != nil || c.closed.Load() {
			return
		}
		c.setLastError(err)
		if status.Code(err) == codes.InvalidArgument {
			c.log.WithError(err).Warn("subscription rejected")
			return
		}
		if received {
			failures = 0
		}

		c.log.WithError(err).Warn("subscription stream lost, resubscribing")
		if c.config.OnDisconnect != nil {
			c.config.OnDisconnect(err)
		}

		stream, cancel, failures, err = c.reconnect(ctx, req, failures)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				c.setLastError(err)
			}
			return
		}
		if c.config.OnReconnect != nil {
			c.config.OnReconnect(failures)
		}
	}
}

// receive reads the stream until it fails or goes stale. It reports
// whether any message arrived.
func (c *Client) receive(stream grpc.ClientStream, cancel context.CancelFunc, updates chan AccountUpdate) (bool, error) {
	var stale atomic.Bool
	done := make(chan struct{})
	defer close(done)
	go c.watchStale(&stale, cancel, done)

	received := false
	for {
		var msg SubscribeUpdate
		if err := stream.RecvMsg(&msg); err != nil {
			if stale.Load() {
				return received, ErrStreamStale
			}
			if err == io.EOF {
				return received, ErrStreamClosed
			}
			return received, err
		}
		received = true
		c.lastUpdate.Store(time.Now().UnixNano())

		if msg.Account == nil {
			continue
		}
		update, err := msg.Account.update()
		if err != nil {
			c.log.WithError(err).Warn("dropping malformed account update")
			continue
		}
		c.lastSlot.Store(update.Slot)

		// Non-blocking send, dropping the oldest update when full.
		select {
		case updates <- update:
		default:
			select {
			case <-updates:
				c.dropped.Add(1)
			default:
			}
			updates <- update
		}
	}
}

// watchStale cancels the stream if no message arrives within StaleTimeout.
func (c *Client) watchStale(stale *atomic.Bool, cancel context.CancelFunc, done <-chan struct{}) {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			lastUpdate := time.Unix(0, c.lastUpdate.Load())
			if time.Since(lastUpdate) > c.config.StaleTimeout {
				stale.Store(true)
				cancel()
				return
			}
		}
	}
}

// reconnect resubscribes with exponential backoff. failures counts the
// consecutive streams that failed before delivering a message and carries
// the backoff across short lived streams.
func (c *Client) reconnect(ctx context.Context, req *SubscribeRequest, failures int) (grpc.ClientStream, context.CancelFunc, int, error) {
	delay := c.config.ReconnectMinDelay
	for i := 0; i < failures && delay < c.config.ReconnectMaxDelay; i++ {
		delay = minDuration(delay*2, c.config.ReconnectMaxDelay)
	}

	for {
		failures++
		if c.closed.Load() {
			return nil, nil, failures, ErrClosed
		}
		if c.config.MaxReconnects > 0 && failures > c.config.MaxReconnects {
			return nil, nil, failures, ErrMaxReconnects
		}
		c.reconnectCount.Add(1)

		select {
		case <-ctx.Done():
			return nil, nil, failures, ctx.Err()
		case <-time.After(delay):
		}

		stream, cancel, err := c.open(ctx, req)
		if err == nil {
			return stream, cancel, failures, nil
		}
		c.setLastError(err)
		delay = minDuration(delay*2, c.config.ReconnectMaxDelay)
	}
}

// Health returns the current health status of the client.
func (c *Client) Health() ClientHealth {
	return ClientHealth{
		Connected:      c.streams.Load() > 0,
		LastSlot:       c.lastSlot.Load(),
		LastUpdate:     time.Unix(0, c.lastUpdate.Load()),
		Endpoint:       c.config.Endpoint,
		ReconnectCount: int(c.reconnectCount.Load()),
		DroppedUpdates: c.dropped.Load(),
		LastError:      c.getLastError(),
	}
}

// Close closes the connection, ending every subscription.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return ErrClosed
	}
	return c.conn.Close()
}

// setLastError safely sets the last error.
func (c *Client) setLastError(err error) {
	c.lastErrorMu.Lock()
	c.lastError = err
	c.lastErrorMu.Unlock()
}

// getLastError safely gets the last error.
func (c *Client) getLastError() error {
	c.lastErrorMu.RLock()
	defer c.lastErrorMu.RUnlock()
	return c.lastError
}

// tokenAuth implements grpc.PerRPCCredentials for token authentication.
type tokenAuth struct {
	token      string
	requireTLS bool
}

// GetRequestMetadata returns the authentication metadata.
func (t *tokenAuth) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{
		"x-token": t.token,
	}, nil
}

// RequireTransportSecurity returns whether TLS is required.
func (t *tokenAuth) RequireTransportSecurity() bool {
	return t.requireTLS
}

// minDuration returns the minimum of two durations.
func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
