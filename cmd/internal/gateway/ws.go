package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"battleships/cmd/internal/ids"
	v1 "battleships/contracts/battle/v1"

	"github.com/coder/websocket"
)

const (
	// Subprotocol is negotiated on every websocket handshake.
	Subprotocol = "battleships.v1"

	wsDefaultDialTimeout  = 10 * time.Second
	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultPingEvery    = 25 * time.Second
	wsDefaultPingTimeout  = 5 * time.Second
	wsDefaultReadLimit    = 64 << 10 // 64 KiB

	wsMaxPingFailures = 3
)

// WSConfig configures WebSocketDialer. Zero durations use defaults; a negative
// PingInterval disables heartbeats.
type WSConfig struct {
	URL    string
	Origin string

	DialTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
	PingTimeout  time.Duration
	ReadLimit    int64

	HTTPClient *http.Client
	Log        *slog.Logger
}

func (c WSConfig) withDefaults() WSConfig {
	if c.DialTimeout <= 0 {
		c.DialTimeout = wsDefaultDialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = wsDefaultWriteTimeout
	}
	if c.PingInterval == 0 {
		c.PingInterval = wsDefaultPingEvery
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = wsDefaultPingTimeout
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = wsDefaultReadLimit
	}
	if c.Log == nil {
		c.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

// WebSocketDialer returns a Dialer that speaks the battle envelope protocol over a websocket.
func WebSocketDialer(cfg WSConfig) Dialer {
	cfg = cfg.withDefaults()

	return func(ctx context.Context, sink Sink) (Channel, error) {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()

		h := http.Header{}
		if strings.TrimSpace(cfg.Origin) != "" {
			h.Set("Origin", cfg.Origin)
		}

		conn, resp, err := websocket.Dial(dialCtx, cfg.URL, &websocket.DialOptions{
			Subprotocols: []string{Subprotocol},
			HTTPHeader:   h,
			HTTPClient:   cfg.HTTPClient,
		})
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return nil, err
		}
		if sp := conn.Subprotocol(); sp != Subprotocol {
			_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
			return nil, fmt.Errorf("%w: got=%q want=%q", ErrSubprotocol, sp, Subprotocol)
		}
		conn.SetReadLimit(cfg.ReadLimit)

		return newWSChannel(conn, sink, cfg), nil
	}
}

type wsChannel struct {
	conn *websocket.Conn
	sink Sink
	cfg  WSConfig
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closing   chan struct{}
}

func newWSChannel(conn *websocket.Conn, sink Sink, cfg WSConfig) *wsChannel {
	ctx, cancel := context.WithCancel(context.Background())
	c := &wsChannel{
		conn:    conn,
		sink:    sink,
		cfg:     cfg,
		log:     cfg.Log,
		ctx:     ctx,
		cancel:  cancel,
		closing: make(chan struct{}),
	}

	go c.readLoop()
	if cfg.PingInterval > 0 {
		go c.heartbeat()
	}
	return c
}

func (c *wsChannel) Emit(ctx context.Context, event string, payload json.RawMessage) error {
	select {
	case <-c.closing:
		return net.ErrClosed
	default:
	}

	now := time.Now().UTC()
	id, err := ids.NewEnvelopeID(now)
	if err != nil {
		return err
	}
	env := v1.Envelope{V: v1.Version, Type: event, ID: id, TS: now, Payload: payload}
	if err := env.Validate(); err != nil {
		return err
	}
	return writeEnvelope(ctx, c.conn, env, c.cfg.WriteTimeout)
}

// Close is idempotent and does not block: the close handshake runs in the
// background so it may be called from inside the sink.
func (c *wsChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		go func() {
			if err := c.conn.Close(websocket.StatusNormalClosure, "bye"); err != nil {
				c.log.Debug("ws.close.fail", "err", err)
			}
			c.cancel()
		}()
	})
	return nil
}

func (c *wsChannel) readLoop() {
	reason := "closed"
	defer func() {
		select {
		case <-c.closing:
			// Local Close: the gateway already knows.
		default:
			b, _ := json.Marshal(reason)
			c.sink(EventDisconnect, b)
		}
		c.cancel()
	}()

	for {
		env, err := readEnvelope(c.ctx, c.conn)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				reason = fmt.Sprintf("peer closed: %d", websocket.CloseStatus(err))
				return
			case readErrCtxDone:
				reason = "context done"
				return
			case readErrConnClosed:
				reason = "conn closed"
				return
			case readErrBadJSON:
				c.log.Info("ws.read.bad_json", "err", err)
				continue
			default:
				c.log.Info("ws.read.fail", "err", err)
				reason = "read failed"
				return
			}
		}

		if err := env.Validate(); err != nil {
			c.log.Info("ws.read.bad_envelope", "type", env.Type, "err", err)
			continue
		}
		c.sink(env.Type, env.Payload)
	}
}

func (c *wsChannel) heartbeat() {
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(c.ctx, c.cfg.PingTimeout)
			err := c.conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				c.log.Info("ws.ping.fail", "failures", failures, "err", err)
				if failures >= wsMaxPingFailures {
					_ = c.conn.Close(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// readEnvelope reads one frame and decodes it. Decode failures are wrapped in errBadJSON.
func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("%w: %v", errBadJSON, err)
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

var errBadJSON = errors.New("bad json")

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if errors.Is(err, errBadJSON) {
		return readErrBadJSON
	}
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}
