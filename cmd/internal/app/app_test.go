package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"battleships/cmd/internal/game"
	"battleships/cmd/internal/gateway/gatewaytest"
	v1 "battleships/contracts/battle/v1"
)

var testSettings = v1.Settings{Size: 5, ShipsSchema: map[int]int{1: 2}}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func newTestApp(t *testing.T, srv *gatewaytest.Server, in io.Reader) (*App, *syncBuffer) {
	t.Helper()

	cfg := Config{
		InviteBaseURL:  "http://play.test/",
		RequestTimeout: 2 * time.Second,
		Size:           testSettings.Size,
	}
	out := &syncBuffer{}
	a := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), in, out)
	a.dial = srv.Dialer()
	return a, out
}

func waitOutput(t *testing.T, out *syncBuffer, want string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(out.String(), want) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("output never contained %q:\n%s", want, out.String())
}

func TestApp_CreateScript(t *testing.T) {
	t.Parallel()

	srv := gatewaytest.New()
	srv.Reply(v1.TypeCreate, v1.CreateResult{GameID: "g1", PlayerID: "p1"})

	a, out := newTestApp(t, srv, strings.NewReader("status\ninvite\n\nbogus\nshoot 1 1\nquit\nstatus\n"))
	if err := a.Create(context.Background(), testSettings); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"game g1 created (5x5, ships 1:2)",
		"invite: http://play.test/#g1",
		"status: available game: g1 you: p1 opponent: - guests: 0",
		"http://play.test/#g1\n",
		`unknown command "bogus"`,
		"error: game.Shoot: invalid_state: invalid game status",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Count(got, "status: available") != 1 {
		t.Fatalf("commands after quit must not run:\n%s", got)
	}
	if srv.Closes() != 1 {
		t.Fatalf("session not destroyed on quit")
	}
}

func TestApp_CreateRejected(t *testing.T) {
	t.Parallel()

	srv := gatewaytest.New()
	srv.Reject(v1.TypeCreate, "maintenance")

	a, _ := newTestApp(t, srv, strings.NewReader(""))
	if err := a.Create(context.Background(), testSettings); err == nil || !strings.Contains(err.Error(), "maintenance") {
		t.Fatalf("err=%v want server reason", err)
	}
}

func TestApp_JoinAndAccept(t *testing.T) {
	t.Parallel()

	srv := gatewaytest.New()
	srv.Reply(v1.TypeJoin, v1.JoinResult{Settings: testSettings, PlayerID: "p2", OpponentID: "p1", GuestsNumber: 1})
	srv.Reply(v1.TypeAccept, nil)

	a, out := newTestApp(t, srv, strings.NewReader("accept\nstatus\n"))
	if err := a.Join(context.Background(), "g1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	got := out.String()
	for _, want := range []string{"joined game g1 as p2", "status: full", "opponent: p1"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
}

func TestApp_PlaysToVictory(t *testing.T) {
	t.Parallel()

	srv := gatewaytest.New()
	srv.Reply(v1.TypeCreate, v1.CreateResult{GameID: "g1", PlayerID: "p1"})
	srv.Reply(v1.TypeReady, nil)
	srv.Reply(v1.TypeShoot, v1.Shot{Position: v1.Position{1, 1}, Type: v1.FieldHit, WinnerID: "p1"})

	pr, pw := io.Pipe()
	defer pw.Close()

	a, out := newTestApp(t, srv, pr)

	errCh := make(chan error, 1)
	go func() { errCh <- a.Create(context.Background(), testSettings) }()

	send := func(line string) {
		t.Helper()
		if _, err := fmt.Fprintln(pw, line); err != nil {
			t.Fatalf("write %q: %v", line, err)
		}
	}

	send("ready")
	send("status")
	waitOutput(t, out, "you are ready")

	srv.Push(t, v1.TypeGuestAccepted, v1.GuestAccepted{ID: "p2"})
	srv.Push(t, v1.TypePlayerReady, v1.PlayerReady{PlayerID: "p2"})
	srv.Push(t, v1.TypeBattleStarted, v1.BattleStarted{ActivePlayerID: "p1"})
	waitOutput(t, out, "your turn")

	send("shoot 1 1")
	waitOutput(t, out, "you won!")

	send("board")
	waitOutput(t, out, "opponent:")

	srv.Push(t, v1.TypeGameOver, "opponent left")

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not end")
	}

	got := out.String()
	for _, want := range []string{"opponent joined", "opponent is ready", "status: battle", "status: over", "session ended: opponent left"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
}

func TestApp_ContextCancelEndsSession(t *testing.T) {
	t.Parallel()

	srv := gatewaytest.New()
	srv.Reply(v1.TypeCreate, v1.CreateResult{GameID: "g1", PlayerID: "p1"})

	pr, pw := io.Pipe()
	defer pw.Close()

	a, _ := newTestApp(t, srv, pr)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Create(ctx, testSettings) }()

	srv.WaitCall(t, v1.TypeCreate, 1)
	cancel()

	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("session ignored cancellation")
	}
	if srv.Closes() != 1 {
		t.Fatalf("session not destroyed")
	}
}

func TestApp_PrintStatusFlags(t *testing.T) {
	t.Parallel()

	a, out := newTestApp(t, gatewaytest.New(), strings.NewReader(""))
	a.printStatus(game.State{
		Status:         game.StatusBattle,
		GameID:         "g1",
		ActivePlayerID: "p1",
		Player:         game.PlayerState{ID: "p1", IsReady: true},
		Opponent:       game.PlayerState{ID: "p2", IsReady: true},
	})

	if got := out.String(); !strings.Contains(got, "  offline, you are ready, opponent is ready, your turn\n") {
		t.Fatalf("unexpected status output:\n%s", got)
	}
}
