// Package integration runs the transport worker for the remote-integration
// channel: a WebSocket client that drains the bounded payload queue and
// pushes each JSON message to the configured endpoint. The worker owns its
// connection lifecycle and reconnects with a flat delay; the session worker
// never observes transport failures.
package integration

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/coder/websocket"
)

// reconnectDelay paces dial attempts after a connection failure.
const reconnectDelay = 5 * time.Second

// Client is the integration transport worker.
type Client struct {
	url      string
	payloads <-chan string
	delay    time.Duration

	// dial is swapped in tests.
	dial func(ctx context.Context, url string) (conn, error)
}

// conn is the subset of the websocket connection the worker uses.
type conn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// New creates a Client that sends every payload received on payloads to the
// WebSocket endpoint at url.
func New(url string, payloads <-chan string) *Client {
	return &Client{
		url:      url,
		payloads: payloads,
		delay:    reconnectDelay,
		dial: func(ctx context.Context, url string) (conn, error) {
			c, _, err := websocket.Dial(ctx, url, nil)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	}
}

// Run drains the payload queue until ctx is cancelled. Send failures drop the
// connection and the affected payload; the next payload triggers a redial.
// Run always returns nil after a clean shutdown so an errgroup does not treat
// cancellation as failure.
func (c *Client) Run(ctx context.Context) error {
	var active conn
	defer func() {
		if active != nil {
			active.Close(websocket.StatusNormalClosure, "session ended")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-c.payloads:
			if !ok {
				return nil
			}
			if active == nil {
				cc, err := c.dial(ctx, c.url)
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					slog.Warn("integration dial failed, dropping payload",
						"url", c.url, "error", err)
					c.pause(ctx)
					continue
				}
				slog.Info("integration connected", "url", c.url)
				active = cc
			}
			if err := active.Write(ctx, websocket.MessageText, []byte(payload)); err != nil {
				slog.Warn("integration send failed, reconnecting on next payload", "error", err)
				active.Close(websocket.StatusInternalError, "write failed")
				active = nil
				c.pause(ctx)
			}
		}
	}
}

// pause sleeps the reconnect delay, returning early on cancellation.
func (c *Client) pause(ctx context.Context) {
	t := time.NewTimer(c.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
