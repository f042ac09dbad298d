package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"battleships/cmd/internal/gateway"
	"battleships/cmd/internal/gateway/gatewaytest"
	v1 "battleships/contracts/battle/v1"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func connectCreate(t *testing.T, srv *gatewaytest.Server, opts ...gateway.Option) *gateway.Gateway {
	t.Helper()

	srv.Reply(v1.TypeCreate, v1.CreateResult{GameID: "g1", PlayerID: "p1"})
	gw := gateway.New(srv.Dialer(), opts...)
	if _, err := gw.Connect(context.Background(), gateway.CreateTarget(v1.DefaultSettings())); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(gw.Destroy)
	return gw
}

func TestConnect_CreateSendsSettingsAndReturnsResponse(t *testing.T) {
	t.Parallel()

	srv := gatewaytest.New()
	srv.Reply(v1.TypeCreate, v1.CreateResult{GameID: "g1", PlayerID: "p1"})

	gw := gateway.New(srv.Dialer())
	defer gw.Destroy()

	raw, err := gw.Connect(context.Background(), gateway.CreateTarget(v1.Settings{Size: 5, ShipsSchema: map[int]int{1: 2}}))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var res v1.CreateResult
	if err := json.Unmarshal(raw, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.GameID != "g1" || res.PlayerID != "p1" {
		t.Fatalf("unexpected result: %+v", res)
	}

	call, ok := srv.Last(v1.TypeCreate)
	if !ok {
		t.Fatalf("create was not emitted")
	}
	if string(call.Payload) != `{"size":5,"shipsSchema":{"1":2}}` {
		t.Fatalf("create payload=%s", call.Payload)
	}
	if !gw.Connected() {
		t.Fatalf("gateway must be connected after handshake")
	}
}

func TestConnect_JoinSendsGameID(t *testing.T) {
	t.Parallel()

	srv := gatewaytest.New()
	srv.Reply(v1.TypeJoin, v1.JoinResult{PlayerID: "p2", OpponentID: "p1"})

	gw := gateway.New(srv.Dialer())
	defer gw.Destroy()

	if _, err := gw.Connect(context.Background(), gateway.JoinTarget("g1")); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	call, _ := srv.Last(v1.TypeJoin)
	if string(call.Payload) != `"g1"` {
		t.Fatalf("join payload=%s", call.Payload)
	}
}

func TestConnect_ServerErrorRejectsAndDoesNotDelegate(t *testing.T) {
	t.Parallel()

	srv := gatewaytest.New()
	srv.Reject(v1.TypeJoin, "not found")

	gw := gateway.New(srv.Dialer())
	defer gw.Destroy()

	got := 0
	gw.On(v1.TypeGuestJoined, func(json.RawMessage) { got++ })

	_, err := gw.Connect(context.Background(), gateway.JoinTarget("nope"))
	if !errors.Is(err, gateway.ErrServerRejected) {
		t.Fatalf("err=%v want ErrServerRejected", err)
	}
	if reason, ok := gateway.Reason(err); !ok || reason != "not found" {
		t.Fatalf("reason=%q ok=%v", reason, ok)
	}

	srv.Push(t, v1.TypeGuestJoined, v1.GuestJoined{GuestsNumber: 1})
	if got != 0 {
		t.Fatalf("push delegated after failed handshake")
	}
	if gw.Connected() {
		t.Fatalf("gateway must not report connected")
	}
}

func TestConnect_DialFailure(t *testing.T) {
	t.Parallel()

	srv := gatewaytest.New()
	boom := errors.New("boom")
	srv.FailDial(boom)

	gw := gateway.New(srv.Dialer())
	defer gw.Destroy()

	if _, err := gw.Connect(context.Background(), gateway.JoinTarget("g")); !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
}

func TestConnect_InvalidTargets(t *testing.T) {
	t.Parallel()

	srv := gatewaytest.New()
	gw := gateway.New(srv.Dialer())
	defer gw.Destroy()

	if _, err := gw.Connect(context.Background(), gateway.Target{}); err == nil {
		t.Fatalf("empty target must fail")
	}
	s := v1.DefaultSettings()
	if _, err := gw.Connect(context.Background(), gateway.Target{Settings: &s, GameID: "x"}); err == nil {
		t.Fatalf("ambiguous target must fail")
	}
	if srv.Dials() != 0 {
		t.Fatalf("invalid targets must not dial")
	}
}

func TestConnect_Twice(t *testing.T) {
	t.Parallel()

	srv := gatewaytest.New()
	gw := connectCreate(t, srv)

	if _, err := gw.Connect(context.Background(), gateway.JoinTarget("g")); !errors.Is(err, gateway.ErrAlreadyConnected) {
		t.Fatalf("err=%v want ErrAlreadyConnected", err)
	}
}

func TestConnect_EmitsLocalConnectEvent(t *testing.T) {
	t.Parallel()

	srv := gatewaytest.New()
	srv.Reply(v1.TypeCreate, v1.CreateResult{GameID: "g1"})
	gw := gateway.New(srv.Dialer())
	defer gw.Destroy()

	connected := 0
	gw.On(gateway.EventConnect, func(json.RawMessage) { connected++ })

	if _, err := gw.Connect(context.Background(), gateway.CreateTarget(v1.DefaultSettings())); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if connected != 1 {
		t.Fatalf("connect events=%d want 1", connected)
	}
}

func TestRequest_ResolvesWithResponse(t *testing.T) {
	t.Parallel()

	srv := gatewaytest.New()
	gw := connectCreate(t, srv)
	srv.Reply(v1.TypeShoot, v1.Shot{Position: v1.Position{1, 1}, Type: v1.FieldMissed, ActivePlayerID: "p2"})

	raw, err := gw.Request(context.Background(), v1.TypeShoot, v1.Position{1, 1})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	var shot v1.Shot
	if err := json.Unmarshal(raw, &shot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if shot.ActivePlayerID != "p2" {
		t.Fatalf("unexpected shot: %+v", shot)
	}
	call, _ := srv.Last(v1.TypeShoot)
	if string(call.Payload) != `[1,1]` {
		t.Fatalf("shoot payload=%s", call.Payload)
	}
}

func TestRequest_EmptyResponse(t *testing.T) {
	t.Parallel()

	srv := gatewaytest.New()
	gw := connectCreate(t, srv)
	srv.Reply(v1.TypeAccept, nil)

	raw, err := gw.Request(context.Background(), v1.TypeAccept)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if len(raw) != 0 {
		t.Fatalf("response=%s want empty", raw)
	}
	call, _ := srv.Last(v1.TypeAccept)
	if len(call.Payload) != 0 {
		t.Fatalf("accept payload=%s want none", call.Payload)
	}
}

func TestRequest_ServerError(t *testing.T) {
	t.Parallel()

	srv := gatewaytest.New()
	gw := connectCreate(t, srv)
	srv.Reject(v1.TypeReady, "bad ships")

	_, err := gw.Request(context.Background(), v1.TypeReady, []int{1})
	var se gateway.ServerError
	if !errors.As(err, &se) {
		t.Fatalf("err=%v want ServerError", err)
	}
	if se.Event != v1.TypeReady || se.Message != "bad ships" {
		t.Fatalf("unexpected server error: %+v", se)
	}
}

func TestRequest_SingleFlightPerName(t *testing.T) {
	t.Parallel()

	srv := gatewaytest.New()
	gw := connectCreate(t, srv)

	type result struct {
		raw json.RawMessage
		err error
	}
	first := make(chan result, 1)
	go func() {
		raw, err := gw.Request(context.Background(), v1.TypeShoot, v1.Position{0, 0})
		first <- result{raw, err}
	}()
	srv.WaitCall(t, v1.TypeShoot, 1)

	if _, err := gw.Request(context.Background(), v1.TypeShoot, v1.Position{1, 1}); !errors.Is(err, gateway.ErrRequestInFlight) {
		t.Fatalf("err=%v want ErrRequestInFlight", err)
	}
	if n := srv.Count(v1.TypeShoot); n != 1 {
		t.Fatalf("shoot emitted %d times want 1", n)
	}

	// A different name is not blocked.
	srv.Reply(v1.TypeAccept, nil)
	if _, err := gw.Request(context.Background(), v1.TypeAccept); err != nil {
		t.Fatalf("accept while shoot pending: %v", err)
	}

	srv.Respond(t, v1.TypeShoot, v1.Shot{Type: v1.FieldHit}, "")
	select {
	case r := <-first:
		if r.err != nil {
			t.Fatalf("first shoot: %v", r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("first shoot never resolved")
	}

	srv.Reply(v1.TypeShoot, v1.Shot{Type: v1.FieldMissed})
	if _, err := gw.Request(context.Background(), v1.TypeShoot, v1.Position{2, 2}); err != nil {
		t.Fatalf("shoot after completion: %v", err)
	}
}

func TestRequest_ContextCancelFreesName(t *testing.T) {
	t.Parallel()

	srv := gatewaytest.New()
	gw := connectCreate(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := gw.Request(ctx, v1.TypeAccept); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want deadline", err)
	}

	srv.Reply(v1.TypeAccept, nil)
	if _, err := gw.Request(context.Background(), v1.TypeAccept); err != nil {
		t.Fatalf("accept after cancel: %v", err)
	}
}

func TestRequest_NotConnected(t *testing.T) {
	t.Parallel()

	gw := gateway.New(gatewaytest.New().Dialer())
	if _, err := gw.Request(context.Background(), v1.TypeAccept); !errors.Is(err, gateway.ErrNotConnected) {
		t.Fatalf("err=%v want ErrNotConnected", err)
	}
	if err := gw.Emit(context.Background(), v1.TypeRequestRematch); !errors.Is(err, gateway.ErrNotConnected) {
		t.Fatalf("err=%v want ErrNotConnected", err)
	}
}

func TestRequest_EmitFailureReleasesName(t *testing.T) {
	t.Parallel()

	srv := gatewaytest.New()
	gw := connectCreate(t, srv)

	srv.FailEmit(errors.New("write failed"))
	if _, err := gw.Request(context.Background(), v1.TypeAccept); err == nil {
		t.Fatalf("expected emit failure")
	}

	srv.FailEmit(nil)
	srv.Reply(v1.TypeAccept, nil)
	if _, err := gw.Request(context.Background(), v1.TypeAccept); err != nil {
		t.Fatalf("accept after failed emit: %v", err)
	}
}

func TestEmit_FireAndForget(t *testing.T) {
	t.Parallel()

	srv := gatewaytest.New()
	gw := connectCreate(t, srv)

	if err := gw.Emit(context.Background(), v1.TypeRequestRematch); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := gw.Emit(context.Background(), v1.TypeRequestRematch); err != nil {
		t.Fatalf("second Emit must not be single-flight: %v", err)
	}
	if n := srv.Count(v1.TypeRequestRematch); n != 2 {
		t.Fatalf("requestRematch emitted %d times want 2", n)
	}
}

func TestPush_ReemittedInOrder(t *testing.T) {
	t.Parallel()

	srv := gatewaytest.New()
	gw := connectCreate(t, srv)

	var got []string
	for _, ev := range v1.PushEvents {
		ev := ev
		gw.On(ev, func(json.RawMessage) { got = append(got, ev) })
	}

	for _, ev := range v1.PushEvents {
		srv.Push(t, ev, nil)
	}
	if len(got) != len(v1.PushEvents) {
		t.Fatalf("got %d events want %d", len(got), len(v1.PushEvents))
	}
	for i := range got {
		if got[i] != v1.PushEvents[i] {
			t.Fatalf("event[%d]=%s want %s", i, got[i], v1.PushEvents[i])
		}
	}
}

func TestPush_ResponseThenPushOrdering(t *testing.T) {
	t.Parallel()

	srv := gatewaytest.New()
	gw := connectCreate(t, srv)

	var mu sync.Mutex
	var order []string

	gw.On(v1.TypePlayerShoot, func(json.RawMessage) {
		mu.Lock()
		order = append(order, "push")
		mu.Unlock()
	})

	done := make(chan struct{})
	if err := gw.Submit(context.Background(), v1.TypeShoot, []any{v1.Position{0, 0}}, func(json.RawMessage, error) {
		mu.Lock()
		order = append(order, "response")
		mu.Unlock()
		close(done)
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	srv.Respond(t, v1.TypeShoot, v1.Shot{Type: v1.FieldMissed}, "")
	srv.Push(t, v1.TypePlayerShoot, v1.Shot{Type: v1.FieldMissed})
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "response" || order[1] != "push" {
		t.Fatalf("order=%v", order)
	}
}

func TestOnOff(t *testing.T) {
	t.Parallel()

	srv := gatewaytest.New()
	gw := connectCreate(t, srv)

	n := 0
	off := gw.On(v1.TypeGuestJoined, func(json.RawMessage) { n++ })
	once := 0
	gw.Once(v1.TypeGuestJoined, func(json.RawMessage) { once++ })

	srv.Push(t, v1.TypeGuestJoined, v1.GuestJoined{GuestsNumber: 1})
	off()
	srv.Push(t, v1.TypeGuestJoined, v1.GuestJoined{GuestsNumber: 2})

	if n != 1 || once != 1 {
		t.Fatalf("n=%d once=%d want 1/1", n, once)
	}
}

func TestDestroy_Idempotent(t *testing.T) {
	t.Parallel()

	// Before any connection.
	gateway.New(gatewaytest.New().Dialer()).Destroy()

	srv := gatewaytest.New()
	gw := connectCreate(t, srv)

	fired := 0
	gw.On(v1.TypeGuestJoined, func(json.RawMessage) { fired++ })

	gw.Destroy()
	gw.Destroy()

	srv.Push(t, v1.TypeGuestJoined, v1.GuestJoined{GuestsNumber: 3})
	if fired != 0 {
		t.Fatalf("handler fired after destroy")
	}
	if srv.Closes() != 1 {
		t.Fatalf("closes=%d want 1", srv.Closes())
	}
	if _, err := gw.Request(context.Background(), v1.TypeAccept); !errors.Is(err, gateway.ErrClosed) {
		t.Fatalf("err=%v want ErrClosed", err)
	}
	if _, err := gw.Connect(context.Background(), gateway.JoinTarget("g")); !errors.Is(err, gateway.ErrClosed) {
		t.Fatalf("err=%v want ErrClosed", err)
	}
}

func TestDestroy_ReleasesWaiters(t *testing.T) {
	t.Parallel()

	srv := gatewaytest.New()
	gw := connectCreate(t, srv)

	errCh := make(chan error, 1)
	go func() {
		_, err := gw.Request(context.Background(), v1.TypeReady, []int{})
		errCh <- err
	}()
	srv.WaitCall(t, v1.TypeReady, 1)

	gw.Destroy()
	select {
	case err := <-errCh:
		if !errors.Is(err, gateway.ErrClosed) {
			t.Fatalf("err=%v want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("waiter not released")
	}
}

func TestDisconnect_ReleasesWaitersAndNotifies(t *testing.T) {
	t.Parallel()

	srv := gatewaytest.New()
	gw := connectCreate(t, srv)

	var reason string
	gw.On(gateway.EventDisconnect, func(p json.RawMessage) { _ = json.Unmarshal(p, &reason) })

	errCh := make(chan error, 1)
	go func() {
		_, err := gw.Request(context.Background(), v1.TypeAccept)
		errCh <- err
	}()
	srv.WaitCall(t, v1.TypeAccept, 1)

	srv.Drop("server gone")

	if err := <-errCh; !errors.Is(err, gateway.ErrDisconnected) {
		t.Fatalf("err=%v want ErrDisconnected", err)
	}
	if reason != "server gone" {
		t.Fatalf("reason=%q", reason)
	}
	if gw.Connected() {
		t.Fatalf("gateway must not report connected after drop")
	}
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := gateway.NewMetrics(reg)

	srv := gatewaytest.New()
	gw := connectCreate(t, srv, gateway.WithMetrics(m))

	srv.Reject(v1.TypeAccept, "nope")
	_, _ = gw.Request(context.Background(), v1.TypeAccept)
	srv.Push(t, v1.TypeGuestJoined, v1.GuestJoined{GuestsNumber: 1})

	if n, err := testutil.GatherAndCount(reg, "battleships_gateway_requests_total"); err != nil || n != 2 {
		t.Fatalf("requests_total series=%d err=%v want 2", n, err)
	}
	if n, err := testutil.GatherAndCount(reg, "battleships_gateway_push_events_total"); err != nil || n != 1 {
		t.Fatalf("push_events_total series=%d err=%v want 1", n, err)
	}
}

func TestConnectWith_AppliesBeforeDelegation(t *testing.T) {
	t.Parallel()

	srv := gatewaytest.New()
	srv.Reply(v1.TypeCreate, v1.CreateResult{GameID: "g1", PlayerID: "p1"})

	gw := gateway.New(srv.Dialer())
	defer gw.Destroy()

	var gameID string
	var seenID string
	gw.On(v1.TypeGuestJoined, func(json.RawMessage) { seenID = gameID })

	_, err := gw.ConnectWith(context.Background(), gateway.CreateTarget(v1.DefaultSettings()), func(raw json.RawMessage) error {
		var res v1.CreateResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return err
		}
		gameID = res.GameID
		return nil
	})
	if err != nil {
		t.Fatalf("ConnectWith: %v", err)
	}

	srv.Push(t, v1.TypeGuestJoined, v1.GuestJoined{GuestsNumber: 1})
	if seenID != "g1" {
		t.Fatalf("push handler saw game id %q", seenID)
	}
}

func TestConnectWith_ApplyErrorFailsHandshake(t *testing.T) {
	t.Parallel()

	srv := gatewaytest.New()
	srv.Reply(v1.TypeJoin, "garbage")

	gw := gateway.New(srv.Dialer())
	defer gw.Destroy()

	bad := errors.New("bad join response")
	if _, err := gw.ConnectWith(context.Background(), gateway.JoinTarget("g1"), func(json.RawMessage) error { return bad }); !errors.Is(err, bad) {
		t.Fatalf("err=%v want %v", err, bad)
	}
	if gw.Connected() {
		t.Fatalf("gateway must not delegate after a failed apply")
	}
}
