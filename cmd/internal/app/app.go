// Package app wires the battleships terminal client: config, logging, the
// command tree and an interactive session loop.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"battleships/cmd/internal/game"
	"battleships/cmd/internal/gateway"
	v1 "battleships/contracts/battle/v1"

	"github.com/prometheus/client_golang/prometheus"
)

var errQuit = errors.New("quit")

// App runs one game session against the configured server.
type App struct {
	cfg Config
	log Logger

	reg     *prometheus.Registry
	metrics *gateway.Metrics

	in  io.Reader
	out *syncWriter

	dial gateway.Dialer
}

// New constructs an App reading commands from in and printing to out.
func New(cfg Config, log Logger, in io.Reader, out io.Writer) *App {
	reg := newRegistry()
	return &App{
		cfg:     cfg,
		log:     log,
		reg:     reg,
		metrics: gateway.NewMetrics(reg),
		in:      in,
		out:     &syncWriter{w: out},
		dial: gateway.WebSocketDialer(gateway.WSConfig{
			URL:          cfg.ServerURL,
			Origin:       cfg.Origin,
			DialTimeout:  cfg.DialTimeout,
			WriteTimeout: cfg.WriteTimeout,
			Log:          log,
		}),
	}
}

func (a *App) options() game.Options {
	return game.Options{Dialer: a.dial, Logger: a.log, Metrics: a.metrics}
}

// Create hosts a new game and plays it until it ends or ctx is done.
func (a *App) Create(ctx context.Context, settings v1.Settings) error {
	stop, err := a.serveMetrics()
	if err != nil {
		return err
	}
	defer stop()

	g, err := game.Create(ctx, a.options(), settings)
	if err != nil {
		return err
	}
	a.printf("game %s created (%dx%d, ships %s)\n", g.GameID(), settings.Size, settings.Size, FormatShipsSchema(settings.ShipsSchema))
	a.printf("invite: %s\n", g.InviteURL(a.cfg.InviteBaseURL))
	return a.play(ctx, g)
}

// Join enters an existing game as a guest and plays it.
func (a *App) Join(ctx context.Context, gameID string) error {
	stop, err := a.serveMetrics()
	if err != nil {
		return err
	}
	defer stop()

	g, err := game.Join(ctx, a.options(), gameID)
	if err != nil {
		return err
	}
	a.printf("joined game %s as %s, type accept to take the seat\n", g.GameID(), g.Player().ID())
	return a.play(ctx, g)
}

func (a *App) serveMetrics() (func(), error) {
	if a.cfg.MetricsAddr == "" {
		return func() {}, nil
	}
	m, err := startMetrics(a.cfg.MetricsAddr, a.reg, a.log)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	return m.Stop, nil
}

// play runs the command loop. A session ended by the server is not an error.
func (a *App) play(ctx context.Context, g *game.Game) error {
	defer g.Destroy()

	cancel := g.Subscribe(func(c game.Change) { a.announce(g, c) })
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-g.Done():
				return
			}
		}
	}()

	a.printf("type help for commands\n")
	for {
		select {
		case <-ctx.Done():
			a.log.Info("session.stop", "reason", "context_done")
			return nil
		case <-g.Done():
			if reason, ok := game.IsTerminated(g.Err()); ok {
				a.printf("session ended: %s\n", reason)
			}
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := a.exec(ctx, g, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				a.printf("error: %v\n", err)
			}
		}
	}
}

func (a *App) exec(ctx context.Context, g *game.Game, line string) error {
	name, args := parseCommand(line)
	if name == "" {
		return nil
	}

	rctx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
	defer cancel()

	switch name {
	case "accept":
		return g.Accept(rctx)
	case "random":
		return g.Player().Battlefield().Random()
	case "ready":
		return g.Ready(rctx)
	case "shoot":
		p, err := parsePosition(args, g.Settings().Size)
		if err != nil {
			return err
		}
		return g.Shoot(rctx, p)
	case "rematch":
		return g.RequestRematch(rctx)
	case "status":
		a.printStatus(g.Snapshot())
	case "board":
		a.out.Lock()
		renderBoard(a.out.w, "your fleet:", g.Player().Battlefield())
		renderBoard(a.out.w, "opponent:", g.Opponent().Battlefield())
		a.out.Unlock()
	case "invite":
		a.printf("%s\n", g.InviteURL(a.cfg.InviteBaseURL))
	case "help":
		a.printf("%s\n", helpText)
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, type help", name)
	}
	return nil
}

func (a *App) printStatus(s game.State) {
	opp := s.Opponent.ID
	if opp == "" {
		opp = "-"
	}
	a.printf("status: %s game: %s you: %s opponent: %s guests: %d\n", s.Status, s.GameID, s.Player.ID, opp, s.GuestsNumber)

	var flags []string
	if !s.Connected {
		flags = append(flags, "offline")
	}
	if s.Player.IsReady {
		flags = append(flags, "you are ready")
	}
	if s.Opponent.IsReady {
		flags = append(flags, "opponent is ready")
	}
	switch {
	case s.WinnerID != "" && s.WinnerID == s.Player.ID:
		flags = append(flags, "you won")
	case s.WinnerID != "":
		flags = append(flags, "you lost")
	case s.ActivePlayerID != "" && s.ActivePlayerID == s.Player.ID:
		flags = append(flags, "your turn")
	case s.ActivePlayerID != "":
		flags = append(flags, "opponent's turn")
	}
	if len(flags) > 0 {
		a.printf("  %s\n", strings.Join(flags, ", "))
	}
}

// announce prints the changes a player cares about.
func (a *App) announce(g *game.Game, c game.Change) {
	me := g.Player().ID()

	switch c.Target {
	case game.TargetGame:
		switch c.Field {
		case game.FieldStatus:
			a.printf("status: %v\n", c.Value)
		case game.FieldGuestsNumber:
			a.printf("guests watching: %v\n", c.Value)
		case game.FieldActivePlayerID:
			switch c.Value {
			case "":
			case me:
				a.printf("your turn\n")
			default:
				a.printf("opponent's turn\n")
			}
		case game.FieldWinnerID:
			switch c.Value {
			case "":
			case me:
				a.printf("you won!\n")
			default:
				a.printf("you lost\n")
			}
		}
	case game.TargetOpponent:
		switch {
		case c.Field == game.FieldIsInGame && c.Value == true:
			a.printf("opponent joined\n")
		case c.Field == game.FieldIsInGame:
			a.printf("opponent left\n")
		case c.Field == game.FieldIsReady && c.Value == true:
			a.printf("opponent is ready\n")
		case c.Field == game.FieldIsWaitingForRematch && c.Value == true:
			a.printf("opponent wants a rematch\n")
		}
	}
}

func (a *App) printf(format string, args ...any) {
	a.out.Lock()
	defer a.out.Unlock()
	fmt.Fprintf(a.out.w, format, args...)
}

type syncWriter struct {
	sync.Mutex
	w io.Writer
}
