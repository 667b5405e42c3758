package remote

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/vk/starbundle/internal/ctxlog"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// connectTimeout bounds the socket.io handshake.
const connectTimeout = 15 * time.Second

// Conn is a request/reply channel to a worker.
type Conn interface {
	// Request emits payload on emit and returns the first argument of the
	// next reply event.
	Request(ctx context.Context, emit, reply string, payload any) (any, error)
	Close()
}

type dialer func(ctx context.Context, cfg *config) (Conn, error)

// socketConn is a Conn over a connected socket.io client.
type socketConn struct {
	io *socket.Socket
}

// dialSocket connects to the worker and waits for the handshake.
func dialSocket(ctx context.Context, cfg *config) (Conn, error) {
	logger := ctxlog.FromContext(ctx).With("url", cfg.URL, "namespace", cfg.Namespace)

	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("failed to parse URL: %q has no scheme or host", cfg.URL)
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification.")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connected := make(chan error, 1)
	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(cfg.Namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Debug("Connected to worker.", "sid", io.Id())
		connected <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		connected <- connectError(errs...)
	})
	io.Connect()

	select {
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return &socketConn{io: io}, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, ctx.Err()
	case <-time.After(connectTimeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %v waiting for socket.io connection", connectTimeout)
	}
}

// connectError turns the arguments of a connect_error event into an error.
// The event may arrive without arguments.
func connectError(errs ...any) error {
	if len(errs) == 0 || errs[0] == nil {
		return errors.New("connect_error without details")
	}
	if err, ok := errs[0].(error); ok {
		return err
	}
	return fmt.Errorf("%v", errs[0])
}

func (c *socketConn) Request(ctx context.Context, emit, reply string, payload any) (any, error) {
	logger := ctxlog.FromContext(ctx).With("sid", c.io.Id())
	if !c.io.Connected() {
		return nil, fmt.Errorf("socket.io client is not connected")
	}

	done := make(chan any, 1)
	c.io.Once(types.EventName(reply), func(data ...any) {
		if len(data) == 0 {
			done <- nil
			return
		}
		done <- data[0]
	})

	if logger.Enabled(ctx, slog.LevelDebug) {
		if raw, err := json.Marshal(payload); err == nil {
			logger.Debug("Emitting event.", "event", emit, "bytes", len(raw))
		}
	}
	c.io.Emit(emit, payload)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data := <-done:
		logger.Debug("Received reply event.", "event", reply)
		return data, nil
	}
}

func (c *socketConn) Close() {
	c.io.Disconnect()
}
