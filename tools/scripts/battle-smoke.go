// Package main provides a CI-friendly smoke test for a battleships game server.
//
// Two raw websocket clients play one short match:
//   - handshake + subprotocol selection
//   - create / join / accept
//   - ready with a single one-cell ship each
//   - battleStarted, one winning shot, playerShoot mirror with winnerId
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "battleships/contracts/battle/v1"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"
)

const (
	defaultSubprotocol = "battleships.v1"
	maxReadBytes       = 1 << 20
)

type smokeClient struct {
	name string
	conn *websocket.Conn
	id   string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	root := context.Background()

	host := mustConnect(root, "host", *wsURL, *origin, *timeout)
	defer closeWS(host.conn)

	var created v1.CreateResult
	host.mustRequest(root, v1.TypeCreate, v1.Settings{Size: 3, ShipsSchema: map[int]int{1: 1}}, &created, *timeout)
	if created.GameID == "" || created.PlayerID == "" {
		fatalf("createResponse missing ids: %+v", created)
	}
	host.id = created.PlayerID

	guest := mustConnect(root, "guest", *wsURL, *origin, *timeout)
	defer closeWS(guest.conn)

	var joined v1.JoinResult
	guest.mustRequest(root, v1.TypeJoin, created.GameID, &joined, *timeout)
	if joined.OpponentID != host.id || joined.Settings.Size != 3 {
		fatalf("joinResponse mismatch: %+v", joined)
	}
	guest.id = joined.PlayerID

	if *verbose {
		fmt.Printf("game=%s host=%s guest=%s\n", created.GameID, host.id, guest.id)
	}

	guest.mustRequest(root, v1.TypeAccept, nil, nil, *timeout)
	var accepted v1.GuestAccepted
	host.mustReadPush(root, v1.TypeGuestAccepted, &accepted, *timeout)
	if accepted.ID != guest.id {
		fatalf("guestAccepted id=%q want %q", accepted.ID, guest.id)
	}

	shipAt := v1.Position{0, 0}
	fleet := []v1.Ship{{ID: "s1", Length: 1, Position: &shipAt}}
	host.mustRequest(root, v1.TypeReady, fleet, nil, *timeout)
	guest.mustRequest(root, v1.TypeReady, fleet, nil, *timeout)

	var started v1.BattleStarted
	host.mustReadPush(root, v1.TypeBattleStarted, &started, *timeout)

	shooter, target := host, guest
	switch started.ActivePlayerID {
	case host.id:
	case guest.id:
		shooter, target = guest, host
	default:
		fatalf("battleStarted with unknown active player %q", started.ActivePlayerID)
	}

	var shot v1.Shot
	shooter.mustRequest(root, v1.TypeShoot, shipAt, &shot, *timeout)
	if shot.Type != v1.FieldHit || shot.WinnerID != shooter.id || shot.Sunk == nil {
		fatalf("shootResponse=%+v want winning hit", shot)
	}

	var mirrored v1.Shot
	target.mustReadPush(root, v1.TypePlayerShoot, &mirrored, *timeout)
	if mirrored.WinnerID != shooter.id || mirrored.Position != shipAt {
		fatalf("playerShoot=%+v", mirrored)
	}

	fmt.Printf("OK: game_id=%s winner=%s\n", created.GameID, shooter.id)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	if got := conn.Subprotocol(); got != "" && got != defaultSubprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, defaultSubprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				c.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

// mustRequest sends name and decodes the correlated reply into out (if non-nil).
// Pushes arriving before the reply are kept for later reads.
func (c *smokeClient) mustRequest(parent context.Context, name string, payload, out any, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:    v1.Version,
		Type: name,
		ID:   ulid.Make().String(),
		TS:   time.Now().UTC(),
	}
	if payload != nil {
		env.Payload = mustJSON(payload)
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	resp := c.mustReadUntilType(parent, v1.ResponseType(name), stepTimeout)

	var r v1.Reply
	if err := json.Unmarshal(resp.Payload, &r); err != nil {
		fatalf("unmarshal %s (%s): %v", resp.Type, c.name, err)
	}
	if r.Error != "" {
		fatalf("%s rejected (%s): %s", name, c.name, r.Error)
	}
	if out != nil {
		if err := json.Unmarshal(r.Response, out); err != nil {
			fatalf("unmarshal %s response (%s): %v", name, c.name, err)
		}
	}
}

func (c *smokeClient) mustReadPush(parent context.Context, typ string, out any, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, typ, stepTimeout)
	if err := json.Unmarshal(env.Payload, out); err != nil {
		fatalf("unmarshal %s payload (%s): %v", typ, c.name, err)
	}
}

// mustReadUntilType skips pushes the script does not assert on and fails on
// an unexpected response or gameOver.
func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			switch {
			case env.Type == wantType:
				return env
			case env.Type == v1.TypeGameOver:
				var reason string
				_ = json.Unmarshal(env.Payload, &reason)
				fatalf("game over while waiting for %q (%s): %s", wantType, c.name, reason)
			case v1.IsResponse(env.Type):
				fatalf("unexpected response (%s): got=%q want=%q", c.name, env.Type, wantType)
			}
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
