// Package gateway turns a bidirectional named-event channel into correlated
// request/response calls plus re-emitted server push events.
//
// Every inbound event (responses, pushes, lifecycle notices) is dispatched on the
// channel's reader goroutine in arrival order, so response callbacks and push
// handlers never interleave.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	v1 "battleships/contracts/battle/v1"
)

// Local lifecycle events emitted by the gateway itself.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// Sink receives inbound events from a Channel. Calls are sequential.
type Sink func(event string, payload json.RawMessage)

// Channel is one open bidirectional connection.
type Channel interface {
	Emit(ctx context.Context, event string, payload json.RawMessage) error
	Close() error
}

// Dialer opens a Channel that reports inbound events to sink. When the connection
// ends for any reason other than Close, the channel reports EventDisconnect once.
type Dialer func(ctx context.Context, sink Sink) (Channel, error)

// Target selects the handshake performed by Connect.
type Target struct {
	Settings *v1.Settings
	GameID   string
}

// CreateTarget asks the server for a new session with the given settings.
func CreateTarget(s v1.Settings) Target { return Target{Settings: &s} }

// JoinTarget asks the server to join an existing session.
func JoinTarget(gameID string) Target { return Target{GameID: gameID} }

func (t Target) handshake() (string, any, error) {
	switch {
	case t.Settings != nil && t.GameID != "":
		return "", nil, errors.New("gateway: target has both settings and game id")
	case t.Settings != nil:
		return v1.TypeCreate, *t.Settings, nil
	case t.GameID != "":
		return v1.TypeJoin, t.GameID, nil
	default:
		return "", nil, errors.New("gateway: empty target")
	}
}

// ResponseFunc receives a correlated response. It runs on the reader goroutine,
// or on the goroutine that called Destroy when the gateway is torn down first.
type ResponseFunc func(resp json.RawMessage, err error)

type pending struct {
	started time.Time
	fn      ResponseFunc
}

// Option configures a Gateway.
type Option func(*Gateway)

func WithLogger(log *slog.Logger) Option {
	return func(g *Gateway) {
		if log != nil {
			g.log = log
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// Gateway owns at most one Channel at a time.
type Gateway struct {
	log     *slog.Logger
	dial    Dialer
	metrics *Metrics
	events  *Emitter

	mu         sync.Mutex
	ch         Channel
	pending    map[string]*pending
	delegating bool
	destroyed  bool
}

// New returns an unconnected gateway that opens channels with dial.
func New(dial Dialer, opts ...Option) *Gateway {
	g := &Gateway{
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		dial:    dial,
		events:  NewEmitter(),
		pending: make(map[string]*pending),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// HandshakeFunc consumes a successful handshake response on the reader goroutine,
// before any push event is re-emitted. A non-nil error fails the handshake.
type HandshakeFunc func(resp json.RawMessage) error

// Connect opens the channel and performs the create or join handshake.
// Push events are re-emitted locally only after the handshake succeeds.
func (g *Gateway) Connect(ctx context.Context, target Target) (json.RawMessage, error) {
	return g.ConnectWith(ctx, target, nil)
}

// ConnectWith is Connect with a hook that applies the handshake response before
// push delegation starts.
func (g *Gateway) ConnectWith(ctx context.Context, target Target, apply HandshakeFunc) (json.RawMessage, error) {
	name, arg, err := target.handshake()
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	switch {
	case g.destroyed:
		g.mu.Unlock()
		return nil, ErrClosed
	case g.ch != nil:
		g.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	g.mu.Unlock()

	ch, err := g.dial(ctx, g.dispatch)
	if err != nil {
		g.log.Info("gateway.connect.fail", "event", name, "err", err)
		return nil, fmt.Errorf("gateway: dial: %w", err)
	}

	g.mu.Lock()
	if g.destroyed || g.ch != nil {
		closed := g.destroyed
		g.mu.Unlock()
		_ = ch.Close()
		if closed {
			return nil, ErrClosed
		}
		return nil, ErrAlreadyConnected
	}
	g.ch = ch
	g.mu.Unlock()

	g.log.Debug("gateway.connect", "event", name)
	g.events.Emit(EventConnect, nil)

	type result struct {
		resp json.RawMessage
		err  error
	}
	done := make(chan result, 1)

	p, err := g.submit(ctx, name, []any{arg}, func(resp json.RawMessage, err error) {
		if err == nil && apply != nil {
			err = apply(resp)
		}
		if err == nil {
			g.mu.Lock()
			if !g.destroyed {
				g.delegating = true
			}
			g.mu.Unlock()
		}
		done <- result{resp: resp, err: err}
	})
	if err != nil {
		return nil, err
	}

	select {
	case r := <-done:
		if r.err != nil {
			g.log.Info("gateway.handshake.fail", "event", name, "err", r.err)
			return nil, r.err
		}
		return r.resp, nil
	case <-ctx.Done():
		g.cancelPending(name, p)
		return nil, ctx.Err()
	}
}

// Submit emits a request and arranges for fn to receive the correlated
// "<name>Response". Only one request per name may be outstanding; a second one
// fails with ErrRequestInFlight and leaves the first untouched.
//
// Zero args send no payload, one arg is sent as the payload and several args are
// sent as a JSON array.
func (g *Gateway) Submit(ctx context.Context, name string, args []any, fn ResponseFunc) error {
	_, err := g.submit(ctx, name, args, fn)
	return err
}

func (g *Gateway) submit(ctx context.Context, name string, args []any, fn ResponseFunc) (*pending, error) {
	payload, err := encodeArgs(args)
	if err != nil {
		return nil, fmt.Errorf("gateway: encode %s: %w", name, err)
	}

	g.mu.Lock()
	switch {
	case g.destroyed:
		g.mu.Unlock()
		g.metrics.countRejected(name, resultClosed)
		return nil, ErrClosed
	case g.ch == nil:
		g.mu.Unlock()
		return nil, ErrNotConnected
	}
	if _, busy := g.pending[name]; busy {
		g.mu.Unlock()
		g.metrics.countRejected(name, resultInFlight)
		return nil, fmt.Errorf("%s: %w", name, ErrRequestInFlight)
	}
	p := &pending{started: time.Now(), fn: fn}
	g.pending[name] = p
	ch := g.ch
	g.metrics.setInFlight(len(g.pending))
	g.mu.Unlock()

	if err := ch.Emit(ctx, name, payload); err != nil {
		g.mu.Lock()
		if g.pending[name] == p {
			delete(g.pending, name)
		}
		g.metrics.setInFlight(len(g.pending))
		g.mu.Unlock()

		g.metrics.observeRequest(name, resultError, time.Since(p.started))
		g.log.Info("gateway.request.fail", "event", name, "err", err)
		return nil, fmt.Errorf("gateway: emit %s: %w", name, err)
	}

	g.log.Debug("gateway.request", "event", name)
	return p, nil
}

// Request is the blocking form of Submit. If ctx ends first the outstanding
// correlation is dropped so the name can be requested again.
func (g *Gateway) Request(ctx context.Context, name string, args ...any) (json.RawMessage, error) {
	type result struct {
		resp json.RawMessage
		err  error
	}
	done := make(chan result, 1)

	p, err := g.submit(ctx, name, args, func(resp json.RawMessage, err error) {
		done <- result{resp: resp, err: err}
	})
	if err != nil {
		return nil, err
	}

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		g.cancelPending(name, p)
		return nil, ctx.Err()
	}
}

// Emit sends a fire-and-forget event with no correlated response.
func (g *Gateway) Emit(ctx context.Context, name string, args ...any) error {
	payload, err := encodeArgs(args)
	if err != nil {
		return fmt.Errorf("gateway: encode %s: %w", name, err)
	}

	g.mu.Lock()
	ch := g.ch
	destroyed := g.destroyed
	g.mu.Unlock()

	if destroyed {
		return ErrClosed
	}
	if ch == nil {
		return ErrNotConnected
	}
	if err := ch.Emit(ctx, name, payload); err != nil {
		g.log.Info("gateway.emit.fail", "event", name, "err", err)
		return fmt.Errorf("gateway: emit %s: %w", name, err)
	}
	return nil
}

// On subscribes to a push or lifecycle event. The returned func unsubscribes.
func (g *Gateway) On(event string, fn Handler) (off func()) { return g.events.On(event, fn) }

// Once subscribes to the next occurrence of event only.
func (g *Gateway) Once(event string, fn Handler) (off func()) { return g.events.Once(event, fn) }

// Off removes every listener of every event.
func (g *Gateway) Off() { g.events.Clear() }

// Connected reports whether a channel is open and the handshake succeeded.
func (g *Gateway) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ch != nil && g.delegating
}

// Destroy removes all listeners and closes the channel. Outstanding requests are
// released with ErrClosed. It is safe to call before Connect and more than once.
func (g *Gateway) Destroy() {
	g.mu.Lock()
	if g.destroyed {
		g.mu.Unlock()
		return
	}
	g.destroyed = true
	g.delegating = false
	ch := g.ch
	g.ch = nil
	waiting := g.pending
	g.pending = make(map[string]*pending)
	g.metrics.setInFlight(0)
	g.mu.Unlock()

	g.events.Clear()

	if ch != nil {
		if err := ch.Close(); err != nil {
			g.log.Debug("gateway.close.fail", "err", err)
		}
	}
	for name, p := range waiting {
		g.metrics.observeRequest(name, resultClosed, time.Since(p.started))
		p.fn(nil, ErrClosed)
	}
	g.log.Debug("gateway.destroy", "released", len(waiting))
}

func (g *Gateway) cancelPending(name string, p *pending) {
	g.mu.Lock()
	if g.pending[name] == p {
		delete(g.pending, name)
	}
	g.metrics.setInFlight(len(g.pending))
	g.mu.Unlock()
}

// dispatch is the Sink handed to the channel.
func (g *Gateway) dispatch(event string, payload json.RawMessage) {
	if event == EventDisconnect {
		g.onDisconnect(payload)
		return
	}

	g.mu.Lock()
	if g.destroyed {
		g.mu.Unlock()
		return
	}
	if v1.IsResponse(event) {
		name := event[:len(event)-len(v1.ResponseSuffix)]
		p, ok := g.pending[name]
		if ok {
			delete(g.pending, name)
			g.metrics.setInFlight(len(g.pending))
		}
		g.mu.Unlock()

		if !ok {
			g.log.Debug("gateway.response.orphan", "event", event)
			return
		}
		resp, err := decodeReply(name, payload)
		switch {
		case err == nil:
			g.metrics.observeRequest(name, resultOK, time.Since(p.started))
		case errors.Is(err, ErrServerRejected):
			g.metrics.observeRequest(name, resultRejected, time.Since(p.started))
		default:
			g.metrics.observeRequest(name, resultError, time.Since(p.started))
		}
		p.fn(resp, err)
		return
	}

	delegating := g.delegating
	g.mu.Unlock()

	if !v1.IsPushEvent(event) {
		g.log.Debug("gateway.event.unknown", "event", event)
		return
	}
	if !delegating {
		g.log.Debug("gateway.push.dropped", "event", event)
		return
	}

	g.metrics.incPush(event)
	g.events.Emit(event, payload)
}

func (g *Gateway) onDisconnect(payload json.RawMessage) {
	g.mu.Lock()
	if g.destroyed {
		g.mu.Unlock()
		return
	}
	g.ch = nil
	g.delegating = false
	waiting := g.pending
	g.pending = make(map[string]*pending)
	g.metrics.setInFlight(0)
	g.mu.Unlock()

	var reason string
	_ = json.Unmarshal(payload, &reason)
	g.log.Info("gateway.disconnect", "reason", reason, "released", len(waiting))

	for name, p := range waiting {
		g.metrics.observeRequest(name, resultError, time.Since(p.started))
		p.fn(nil, fmt.Errorf("%s: %w", name, ErrDisconnected))
	}
	g.events.Emit(EventDisconnect, payload)
}

func decodeReply(name string, payload json.RawMessage) (json.RawMessage, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var r v1.Reply
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", name, ErrBadResponse, err)
	}
	if r.Error != "" {
		return nil, ServerError{Event: name, Message: r.Error}
	}
	return r.Response, nil
}

func encodeArgs(args []any) (json.RawMessage, error) {
	switch len(args) {
	case 0:
		return nil, nil
	case 1:
		return json.Marshal(args[0])
	default:
		return json.Marshal(args)
	}
}
