package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/vmelnikau/echolink/internal/wire"
)

const defaultResponseTimeout = 30 * time.Second

var (
	// ErrClosed is returned once the connection's reader has stopped.
	ErrClosed = errors.New("client: connection closed")
	// ErrResponseTimeout is returned when the server does not answer a
	// request within the response timeout.
	ErrResponseTimeout = errors.New("client: timed out waiting for server response")
)

// Conn wraps a WebSocket connection to the server. A reader goroutine
// parses every inbound frame exactly once and routes it: responses go to
// the waiter registered for their correlation id, everything else (server
// notifications, late responses whose waiter already gave up) goes to the
// Inbound channel so the consumer can apply it idempotently and ack it.
//
// Frames delivered on Inbound are never acked by Conn; the consumer acks
// after the frame's effect is durably applied.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	timeout time.Duration

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan wire.Frame

	inbound chan wire.Frame
	done    chan struct{}
	closeFn sync.Once
	readErr error
}

// Dial connects to the server's WebSocket endpoint and starts the reader.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Conn, error) {
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing websocket: %w", err)
	}
	ws.SetReadLimit(256 * 1024)

	c := &Conn{
		ws:      ws,
		logger:  logger,
		timeout: defaultResponseTimeout,
		pending: make(map[string]chan wire.Frame),
		inbound: make(chan wire.Frame, 64),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Inbound delivers notifications and any response no waiter claimed.
// The channel closes when the connection dies.
func (c *Conn) Inbound() <-chan wire.Frame { return c.inbound }

// Err reports why the reader stopped, once it has.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.readErr
	default:
		return nil
	}
}

func (c *Conn) Close() error {
	var err error
	c.closeFn.Do(func() {
		err = c.ws.Close(websocket.StatusNormalClosure, "bye")
	})
	return err
}

// Request sends a request frame and blocks until the correlated response
// arrives, the timeout elapses, or ctx is cancelled. An error-status
// response is surfaced as an error. The returned frame has NOT been
// acked; callers ack after applying it.
func (c *Conn) Request(ctx context.Context, api string, payload any) (wire.Frame, error) {
	frame, err := wire.NewRequest(api, payload)
	if err != nil {
		return wire.Frame{}, fmt.Errorf("encoding %s request: %w", api, err)
	}

	waiter := make(chan wire.Frame, 1)
	c.pendingMu.Lock()
	c.pending[frame.ID] = waiter
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, frame.ID)
		c.pendingMu.Unlock()
	}()

	if err := c.writeFrame(ctx, frame); err != nil {
		return wire.Frame{}, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-waiter:
		if resp.Status == wire.StatusError {
			var ep wire.ErrorPayload
			if err := json.Unmarshal(resp.Payload, &ep); err != nil || ep.Error == "" {
				return resp, fmt.Errorf("%s failed", api)
			}
			return resp, fmt.Errorf("%s failed: %s", api, ep.Error)
		}
		return resp, nil
	case <-timer.C:
		return wire.Frame{}, ErrResponseTimeout
	case <-ctx.Done():
		return wire.Frame{}, ctx.Err()
	case <-c.done:
		return wire.Frame{}, c.closedErr()
	}
}

// Ack tells the server the frame with the given id has been applied.
func (c *Conn) Ack(ctx context.Context, id string) error {
	return c.writeFrame(ctx, wire.NewAck(id))
}

func (c *Conn) writeFrame(ctx context.Context, frame wire.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

func (c *Conn) closedErr() error {
	if c.readErr != nil {
		return c.readErr
	}
	return ErrClosed
}

func (c *Conn) readLoop() {
	defer func() {
		// Closing done wakes every blocked Request; they report the
		// read error instead of a fabricated response.
		close(c.done)
		close(c.inbound)
	}()

	for {
		_, data, err := c.ws.Read(context.Background())
		if err != nil {
			c.readErr = fmt.Errorf("reading frame: %w", err)
			c.logger.Debug("connection reader stopped", slog.String("error", err.Error()))
			return
		}

		frame, kind := wire.Classify(data)
		switch kind {
		case wire.KindMalformed:
			c.logger.Debug("dropping unparseable frame", slog.Int("bytes", len(data)))

		case wire.KindSystem:
			c.handleSystem(frame)

		case wire.KindRequest, wire.KindNotification:
			// Responses classify under their request api; notifications
			// carry their own kind. route tells them apart by status.
			c.route(frame)
		}
	}
}

func (c *Conn) handleSystem(frame wire.Frame) {
	switch frame.API {
	case wire.APIPing:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := c.writeFrame(ctx, wire.NewPong(frame.ID)); err != nil {
			c.logger.Debug("pong failed", slog.String("error", err.Error()))
		}
		cancel()
	default:
		// The server never acks or pongs the client.
		c.logger.Debug("unexpected system frame", slog.String("api", frame.API))
	}
}

func (c *Conn) route(frame wire.Frame) {
	if frame.Status != "" {
		c.pendingMu.Lock()
		waiter, ok := c.pending[frame.ID]
		if ok {
			delete(c.pending, frame.ID)
		}
		c.pendingMu.Unlock()
		if ok {
			waiter <- frame
			return
		}
		if frame.Status == wire.StatusError {
			c.logger.Debug("dropping unclaimed error response",
				slog.String("api", frame.API), slog.String("id", frame.ID))
			return
		}
		// A retransmitted success response whose waiter timed out still
		// carries state the server expects us to apply and ack. Fall
		// through to the inbound channel rather than losing it.
	}

	select {
	case c.inbound <- frame:
	default:
		c.logger.Warn("inbound channel full, dropping frame",
			slog.String("api", frame.API), slog.String("id", frame.ID))
	}
}
