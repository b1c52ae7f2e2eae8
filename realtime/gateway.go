package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrEthical07/sessiongate"
	"github.com/MrEthical07/sessiongate/internal"
	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
)

const (
	defaultSendBuffer   = 32
	defaultWriteTimeout = 5 * time.Second
	defaultRelayRetry   = 500 * time.Millisecond
	maxRelayRetry       = 30 * time.Second

	closeReasonUnauthorized = "unauthorized"
	closeReasonInternal     = "internal error"
)

// Conn is an authenticated connection as seen by a [MessageHandler].
type Conn struct {
	ID       string
	Identity *sessiongate.Identity
}

// MessageHandler receives every JSON frame read from a connection.
type MessageHandler func(ctx context.Context, conn *Conn, msg json.RawMessage)

// Options configures a [Gateway]. The zero value is usable.
type Options struct {
	// OriginPatterns lists the cross-origin hosts allowed to connect.
	OriginPatterns []string
	// Relay carries messages between processes. Nil delivers to local connections only.
	Relay        Relay
	Handler      MessageHandler
	Logger       *zerolog.Logger
	SendBuffer   int
	WriteTimeout time.Duration
	// RelayRetry is the first wait before resubscribing after the relay fails.
	RelayRetry time.Duration
}

// Gateway accepts WebSocket connections for authenticated sessions.
type Gateway struct {
	engine *sessiongate.Engine
	hub    *Hub
	opts   Options
	logger zerolog.Logger

	exposeReason bool
}

// NewGateway creates a [Gateway] in front of engine.
func NewGateway(engine *sessiongate.Engine, opts Options) *Gateway {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.RelayRetry <= 0 {
		opts.RelayRetry = defaultRelayRetry
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Gateway{
		engine: engine,
		hub:    NewHub(),
		opts:   opts,
		logger: logger.With().Str("component", "gateway").Logger(),

		exposeReason: engine.Config().Handshake.ExposeRejectReason,
	}
}

// Hub returns the gateway's local connection registry.
func (g *Gateway) Hub() *Hub {
	return g.hub
}

type readyEvent struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
}

// ServeHTTP authenticates, upgrades and serves one connection until either side closes it.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := g.engine.AuthenticateHandshake(r.Context(), sessiongate.Handshake{
		CookieHeader: r.Header.Get("Cookie"),
		RemoteAddr:   r.RemoteAddr,
	})

	ws, acceptErr := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: g.opts.OriginPatterns})
	if acceptErr != nil {
		g.logger.Debug().Err(acceptErr).Str("remote_addr", r.RemoteAddr).Msg("upgrade failed")
		return
	}
	if err != nil {
		g.refuse(ws, err)
		return
	}

	connID := internal.NewConnectionID()
	if err := g.engine.BindConnection(r.Context(), identity.SessionID, connID); err != nil {
		g.refuse(ws, err)
		return
	}

	c := &client{id: connID, sessionID: identity.SessionID, send: make(chan []byte, g.opts.SendBuffer)}
	g.hub.add(c)
	defer func() {
		g.hub.remove(connID)
		// The request context is already cancelled here.
		if err := g.engine.UnbindConnection(context.WithoutCancel(r.Context()), identity.SessionID, connID); err != nil {
			g.logger.Warn().Err(err).Str("connection", connID).Msg("unbind failed")
		}
	}()

	g.serve(r.Context(), ws, c, &Conn{ID: connID, Identity: identity})
}

func (g *Gateway) serve(parent context.Context, ws *websocket.Conn, c *client, conn *Conn) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if err := g.write(ctx, ws, readyEvent{Type: "ready", ConnectionID: c.id}); err != nil {
		_ = ws.Close(websocket.StatusInternalError, "write_failed")
		return
	}

	readErr := make(chan error, 1)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			var msg json.RawMessage
			if err := wsjson.Read(ctx, ws, &msg); err != nil {
				readErr <- err
				return
			}
			if g.opts.Handler != nil {
				g.opts.Handler(ctx, conn, msg)
			}
		}
	}()
	defer func() { <-readDone }()

	for {
		select {
		case <-ctx.Done():
			_ = ws.Close(websocket.StatusGoingAway, "closed")
			return
		case err := <-readErr:
			if status := websocket.CloseStatus(err); status == -1 {
				g.logger.Debug().Err(err).Str("connection", c.id).Msg("read failed")
			}
			_ = ws.Close(websocket.StatusNormalClosure, "closed")
			return
		case payload := <-c.send:
			writeCtx, cancelWrite := context.WithTimeout(ctx, g.opts.WriteTimeout)
			err := ws.Write(writeCtx, websocket.MessageText, payload)
			cancelWrite()
			if err != nil {
				_ = ws.Close(websocket.StatusInternalError, "write_failed")
				return
			}
		}
	}
}

func (g *Gateway) write(ctx context.Context, ws *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, g.opts.WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, v)
}

// refuse closes an accepted connection whose handshake or bind failed.
func (g *Gateway) refuse(ws *websocket.Conn, err error) {
	code, reason := websocket.StatusPolicyViolation, closeReasonUnauthorized
	if errors.Is(err, sessiongate.ErrStoreUnavailable) || errors.Is(err, sessiongate.ErrEngineNotReady) {
		code, reason = websocket.StatusInternalError, closeReasonInternal
	}

	if g.exposeReason {
		var hsErr *sessiongate.HandshakeError
		switch {
		case errors.As(err, &hsErr):
			reason = hsErr.Reason
		case errors.Is(err, sessiongate.ErrSessionNotFound):
			reason = sessiongate.HandshakeReasonSessionNotFound
		case errors.Is(err, sessiongate.ErrUnauthorized):
			reason = sessiongate.HandshakeReasonNoUserID
		}
	}

	_ = ws.Close(code, reason)
}

// SendToSession delivers v to every connection bound to sessionID, wherever it is held. It
// returns the number of connections addressed.
func (g *Gateway) SendToSession(ctx context.Context, sessionID string, v any) (int, error) {
	ids, err := g.engine.ConnectionIDs(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encode message: %w", err)
	}

	sent := 0
	for _, id := range ids {
		if err := g.publish(ctx, Envelope{ConnectionID: id, Payload: payload}); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// SendToConnection delivers v to one connection, wherever it is held.
func (g *Gateway) SendToConnection(ctx context.Context, connectionID string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return g.publish(ctx, Envelope{ConnectionID: connectionID, Payload: payload})
}

func (g *Gateway) publish(ctx context.Context, env Envelope) error {
	if g.opts.Relay == nil {
		g.deliver(env)
		return nil
	}
	return g.opts.Relay.Publish(ctx, env)
}

func (g *Gateway) deliver(env Envelope) {
	if !g.hub.Deliver(env.ConnectionID, env.Payload) {
		g.logger.Debug().Str("connection", env.ConnectionID).Msg("envelope not delivered locally")
	}
}

// Run consumes the relay until ctx is done. A failed subscription is retried with
// exponential backoff; local delivery keeps working meanwhile. Without a relay it only waits
// for ctx.
func (g *Gateway) Run(ctx context.Context) error {
	if g.opts.Relay == nil {
		<-ctx.Done()
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.opts.RelayRetry
	b.MaxInterval = max(maxRelayRetry, g.opts.RelayRetry)

	for {
		started := time.Now()
		err := g.opts.Relay.Subscribe(ctx, g.deliver)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > b.MaxInterval {
			b.Reset()
		}

		wait := b.NextBackOff()
		g.logger.Warn().Err(err).Dur("retry_in", wait).Msg("relay subscription lost")
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
