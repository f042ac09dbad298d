// Package game is the client side of one battleships session: the status state
// machine, both participants and the reconciliation of server pushes.
//
// Status flows available -> full -> battle -> over. full falls back to available
// when the opponent leaves before the battle, and over returns to full on a
// mutual rematch. Server responses and pushes are applied on the gateway reader
// goroutine in arrival order.
package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"battleships/cmd/battlefield"
	"battleships/cmd/internal/gateway"
	v1 "battleships/contracts/battle/v1"
)

// Status is the session state.
type Status string

const (
	StatusAvailable Status = "available"
	StatusFull      Status = "full"
	StatusBattle    Status = "battle"
	StatusOver      Status = "over"
)

// Game fields published through Subscribe.
const (
	FieldStatus         = "status"
	FieldGameID         = "gameId"
	FieldGuestsNumber   = "guestsNumber"
	FieldActivePlayerID = "activePlayerId"
	FieldWinnerID       = "winnerId"
)

// Reasons used for locally detected terminations.
const (
	ReasonStarted      = "started"
	ReasonDisconnected = "disconnected"
)

// Options carries the collaborators of a session.
type Options struct {
	Dialer  gateway.Dialer
	Logger  *slog.Logger
	Metrics *gateway.Metrics

	// NewBattlefield builds a battlefield; nil uses battlefield.New / battlefield.NewEmpty.
	NewBattlefield func(size int, schema map[int]int, empty bool) Battlefield
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (o Options) battlefield(s v1.Settings, empty bool) Battlefield {
	if o.NewBattlefield != nil {
		return o.NewBattlefield(s.Size, s.ShipsSchema, empty)
	}
	if empty {
		return battlefield.NewEmpty(s.Size, s.ShipsSchema)
	}
	return battlefield.New(s.Size, s.ShipsSchema)
}

// Game is one session. It is safe for concurrent use.
type Game struct {
	log      *slog.Logger
	gw       *gateway.Gateway
	bus      *changeBus
	settings v1.Settings

	player   *Player
	opponent *Player

	mu             sync.Mutex
	status         Status
	gameID         string
	guestsNumber   int
	activePlayerID string
	winnerID       string
	offs           []func()
	ended          bool
	err            error

	done     chan struct{}
	doneOnce sync.Once
}

func newGame(gw *gateway.Gateway, opts Options, settings v1.Settings) *Game {
	bus := newChangeBus()
	return &Game{
		log:      opts.logger(),
		gw:       gw,
		bus:      bus,
		settings: settings,
		player:   newPlayer(opts.battlefield(settings, false), bus, TargetPlayer),
		opponent: newPlayer(opts.battlefield(settings, true), bus, TargetOpponent),
		status:   StatusAvailable,
		done:     make(chan struct{}),
	}
}

func newGateway(opts Options) *gateway.Gateway {
	return gateway.New(opts.Dialer, gateway.WithLogger(opts.logger()), gateway.WithMetrics(opts.Metrics))
}

// Create opens a new session as its host. It returns once the server assigned
// the game and player ids.
func Create(ctx context.Context, opts Options, settings v1.Settings) (*Game, error) {
	if settings.Size <= 0 || len(settings.ShipsSchema) == 0 {
		return nil, fmt.Errorf("game.Create: invalid settings: size=%d ships=%v", settings.Size, settings.ShipsSchema)
	}

	g := newGame(newGateway(opts), opts, settings)
	g.player.SetInGame(true)
	g.player.SetHost(true)
	if err := g.player.Battlefield().Random(); err != nil {
		g.gw.Destroy()
		return nil, fmt.Errorf("game.Create: %w", err)
	}
	g.listen()

	_, err := g.gw.ConnectWith(ctx, gateway.CreateTarget(settings), func(raw json.RawMessage) error {
		var res v1.CreateResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return fmt.Errorf("decode create response: %w", err)
		}
		g.lock()
		g.setGameID(res.GameID)
		g.player.SetID(res.PlayerID)
		g.unlock()
		return nil
	})
	if err != nil {
		g.Destroy()
		return nil, fmt.Errorf("game.Create: %w", err)
	}

	g.log.Info("game.created", "game_id", g.GameID(), "player_id", g.player.ID())
	return g, nil
}

// Join opens the session gameID as a guest. The local player is not in game until Accept.
func Join(ctx context.Context, opts Options, gameID string) (*Game, error) {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return nil, errors.New("game.Join: missing game id")
	}

	gw := newGateway(opts)

	var g *Game
	_, err := gw.ConnectWith(ctx, gateway.JoinTarget(gameID), func(raw json.RawMessage) error {
		var res v1.JoinResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return fmt.Errorf("decode join response: %w", err)
		}
		if res.Settings.Size <= 0 {
			return fmt.Errorf("join response without settings")
		}

		ng := newGame(gw, opts, res.Settings)
		if err := ng.player.Battlefield().Random(); err != nil {
			return err
		}

		ng.lock()
		ng.setGameID(gameID)
		ng.player.SetID(res.PlayerID)
		ng.opponent.SetID(res.OpponentID)
		ng.opponent.SetHost(true)
		ng.opponent.SetInGame(true)
		ng.opponent.SetReady(res.IsOpponentReady)
		ng.setGuestsNumber(res.GuestsNumber)
		ng.unlock()

		ng.listen()
		g = ng
		return nil
	})
	if err != nil {
		gw.Destroy()
		return nil, fmt.Errorf("game.Join: %w", err)
	}

	g.log.Info("game.joined", "game_id", gameID, "player_id", g.player.ID())
	return g, nil
}

// lock takes the state lock and defers change delivery until unlock.
func (g *Game) lock() {
	g.bus.hold()
	g.mu.Lock()
}

func (g *Game) unlock() {
	g.mu.Unlock()
	g.bus.release()
}

func (g *Game) Player() *Player   { return g.player }
func (g *Game) Opponent() *Player { return g.opponent }

// Settings returns the board settings of the session.
func (g *Game) Settings() v1.Settings { return g.settings }

func (g *Game) IsHost() bool { return g.player.IsHost() }

func (g *Game) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

func (g *Game) GameID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gameID
}

func (g *Game) GuestsNumber() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.guestsNumber
}

func (g *Game) ActivePlayerID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activePlayerID
}

func (g *Game) WinnerID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.winnerID
}

// InviteURL returns the link a guest opens to join: base followed by "#<gameId>".
func (g *Game) InviteURL(base string) string {
	return strings.TrimRight(base, "#") + "#" + g.GameID()
}

// Subscribe registers fn for every change of the session and both players.
func (g *Game) Subscribe(fn func(Change)) (cancel func()) {
	return g.bus.subscribe(fn)
}

// State is a consistent copy of the session for rendering.
type State struct {
	Status         Status
	GameID         string
	GuestsNumber   int
	ActivePlayerID string
	WinnerID       string
	Player         PlayerState
	Opponent       PlayerState
	Connected      bool
}

func (g *Game) Snapshot() State {
	connected := g.gw.Connected()

	g.mu.Lock()
	defer g.mu.Unlock()
	return State{
		Connected:      connected,
		Status:         g.status,
		GameID:         g.gameID,
		GuestsNumber:   g.guestsNumber,
		ActivePlayerID: g.activePlayerID,
		WinnerID:       g.winnerID,
		Player:         g.player.State(),
		Opponent:       g.opponent.State(),
	}
}

// Done is closed when the session ended, by termination or Destroy.
func (g *Game) Done() <-chan struct{} { return g.done }

// Err returns the TerminatedError that ended the session, or nil.
func (g *Game) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// Wait blocks until the session ends and returns Err.
func (g *Game) Wait(ctx context.Context) error {
	select {
	case <-g.done:
		return g.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Accept joins the battle as the opponent of the host.
func (g *Game) Accept(ctx context.Context) error {
	const op = "game.Accept"

	g.lock()
	if err := g.checkAlive(op); err != nil {
		g.unlock()
		return err
	}
	switch {
	case g.player.IsInGame():
		g.unlock()
		return invalidState(op, "already in game")
	case g.status != StatusAvailable:
		g.unlock()
		return invalidState(op, "not available")
	}
	g.player.SetInGame(true)
	g.unlock()

	return g.call(ctx, v1.TypeAccept, nil, func(_ json.RawMessage, err error) error {
		if err != nil {
			g.player.SetInGame(false)
			return g.terminate(reasonOf(err), err)
		}
		g.lock()
		if g.status == StatusAvailable {
			g.setStatus(StatusFull)
		}
		g.unlock()
		return nil
	})
}

// Ready locks the local fleet and sends it to the server.
func (g *Game) Ready(ctx context.Context) error {
	const op = "game.Ready"

	g.lock()
	if err := g.checkAlive(op); err != nil {
		g.unlock()
		return err
	}
	switch {
	case g.player.IsReady():
		g.unlock()
		return invalidState(op, "already ready")
	case !g.player.IsInGame():
		g.unlock()
		return invalidState(op, "not in game")
	}
	bf := g.player.Battlefield()
	if bf.IsCollision() {
		g.unlock()
		return OpError{Op: op, Kind: ErrInvalidShipsConfiguration, Msg: "ships collide or are not placed"}
	}
	g.player.SetReady(true)
	g.unlock()

	ships, err := bf.Ships().ToJSON()
	if err != nil {
		g.player.SetReady(false)
		return err
	}

	return g.call(ctx, v1.TypeReady, []any{ships}, func(_ json.RawMessage, err error) error {
		if err != nil {
			g.player.SetReady(false)
			return g.terminate(reasonOf(err), err)
		}
		return nil
	})
}

// Shoot fires at position on the opponent battlefield.
func (g *Game) Shoot(ctx context.Context, position v1.Position) error {
	const op = "game.Shoot"

	g.mu.Lock()
	if err := g.checkAlive(op); err != nil {
		g.mu.Unlock()
		return err
	}
	switch {
	case g.status != StatusBattle:
		g.mu.Unlock()
		return invalidState(op, "invalid game status")
	case g.activePlayerID != g.player.ID():
		g.mu.Unlock()
		return invalidState(op, "not your turn")
	}
	g.mu.Unlock()

	return g.call(ctx, v1.TypeShoot, []any{position}, func(raw json.RawMessage, err error) error {
		if err != nil {
			return err
		}
		var shot v1.Shot
		if err := json.Unmarshal(raw, &shot); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
		g.applyOwnShot(shot)
		return nil
	})
}

// RequestRematch asks for a rematch. Status changes only when the server pushes the mutual rematch.
func (g *Game) RequestRematch(ctx context.Context) error {
	const op = "game.RequestRematch"

	g.lock()
	if err := g.checkAlive(op); err != nil {
		g.unlock()
		return err
	}
	if g.status != StatusOver {
		g.unlock()
		return invalidState(op, "invalid game status")
	}
	g.player.SetWaitingForRematch(true)
	g.unlock()

	if err := g.gw.Emit(ctx, v1.TypeRequestRematch); err != nil {
		g.lock()
		g.player.SetWaitingForRematch(false)
		g.unlock()
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Destroy detaches every push listener and destroys the gateway. It is idempotent.
func (g *Game) Destroy() {
	g.mu.Lock()
	g.ended = true
	offs := g.offs
	g.offs = nil
	g.mu.Unlock()

	for _, off := range offs {
		off()
	}
	g.gw.Destroy()
	g.doneOnce.Do(func() { close(g.done) })
}

func (g *Game) checkAlive(op string) error {
	if g.ended {
		if g.err != nil {
			return g.err
		}
		return OpError{Op: op, Kind: ErrSessionTerminated, Msg: "session destroyed"}
	}
	return nil
}

// call submits a request whose response is applied by apply on the reader
// goroutine. If ctx ends first the request stays outstanding and its response
// is still applied.
func (g *Game) call(ctx context.Context, name string, args []any, apply func(json.RawMessage, error) error) error {
	done := make(chan error, 1)

	err := g.gw.Submit(ctx, name, args, func(raw json.RawMessage, err error) {
		done <- apply(raw, err)
	})
	if err != nil {
		if errors.Is(err, gateway.ErrRequestInFlight) {
			return err
		}
		return apply(nil, err)
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// terminate ends the session with reason and returns the resulting error.
func (g *Game) terminate(reason string, cause error) error {
	te := TerminatedError{Reason: reason, Cause: cause}

	g.mu.Lock()
	if g.ended {
		err := g.err
		g.mu.Unlock()
		if err == nil {
			return te
		}
		return err
	}
	g.err = te
	g.mu.Unlock()

	g.log.Info("game.terminated", "game_id", g.GameID(), "reason", reason)
	g.Destroy()
	return te
}

func (g *Game) setStatus(s Status) {
	if g.status == s {
		return
	}
	g.log.Debug("game.status", "game_id", g.gameID, "from", g.status, "to", s)
	g.status = s
	g.bus.publish(Change{Target: TargetGame, Field: FieldStatus, Value: s})
}

func (g *Game) setGameID(id string) {
	if g.gameID == id {
		return
	}
	g.gameID = id
	g.bus.publish(Change{Target: TargetGame, Field: FieldGameID, Value: id})
}

func (g *Game) setGuestsNumber(n int) {
	if g.guestsNumber == n {
		return
	}
	g.guestsNumber = n
	g.bus.publish(Change{Target: TargetGame, Field: FieldGuestsNumber, Value: n})
}

func (g *Game) setActivePlayerID(id string) {
	if g.activePlayerID == id {
		return
	}
	g.activePlayerID = id
	g.bus.publish(Change{Target: TargetGame, Field: FieldActivePlayerID, Value: id})
}

func (g *Game) setWinnerID(id string) {
	if g.winnerID == id {
		return
	}
	g.winnerID = id
	g.bus.publish(Change{Target: TargetGame, Field: FieldWinnerID, Value: id})
}

// finish moves to over. Callers hold the state lock.
func (g *Game) finish(winnerID string) {
	g.setActivePlayerID("")
	g.setWinnerID(winnerID)
	g.setStatus(StatusOver)
}
