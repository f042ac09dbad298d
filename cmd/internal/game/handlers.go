package game

import (
	"encoding/json"

	"battleships/cmd/battlefield"
	"battleships/cmd/internal/gateway"
	v1 "battleships/contracts/battle/v1"
)

// listen subscribes to every push event and to transport loss.
func (g *Game) listen() {
	handlers := map[string]gateway.Handler{
		v1.TypeGuestJoined:          g.onGuestJoined,
		v1.TypeGuestAccepted:        g.onGuestAccepted,
		v1.TypePlayerLeft:           g.onPlayerLeft,
		v1.TypePlayerReady:          g.onPlayerReady,
		v1.TypePlayerShoot:          g.onPlayerShoot,
		v1.TypePlayerRequestRematch: g.onPlayerRequestRematch,
		v1.TypeBattleStarted:        g.onBattleStarted,
		v1.TypeGameOver:             g.onGameOver,
		v1.TypeRematch:              g.onRematch,
		gateway.EventDisconnect:     g.onDisconnect,
	}

	offs := make([]func(), 0, len(handlers))
	for ev, h := range handlers {
		offs = append(offs, g.gw.On(ev, h))
	}

	g.mu.Lock()
	g.offs = append(g.offs, offs...)
	g.mu.Unlock()
}

func (g *Game) decode(event string, raw json.RawMessage, v any) bool {
	if err := json.Unmarshal(raw, v); err != nil {
		g.log.Info("game.push.bad_payload", "event", event, "err", err)
		return false
	}
	return true
}

func (g *Game) onGuestJoined(raw json.RawMessage) {
	var p v1.GuestJoined
	if !g.decode(v1.TypeGuestJoined, raw, &p) {
		return
	}
	g.lock()
	g.setGuestsNumber(p.GuestsNumber)
	g.unlock()
}

// onGuestAccepted: the host learns its opponent; a guest still watching lost the race.
func (g *Game) onGuestAccepted(raw json.RawMessage) {
	var p v1.GuestAccepted
	if len(raw) > 0 && !g.decode(v1.TypeGuestAccepted, raw, &p) {
		return
	}

	g.lock()
	if g.player.IsHost() {
		if g.status != StatusAvailable {
			g.log.Info("game.push.ignored", "event", v1.TypeGuestAccepted, "status", g.status)
			g.unlock()
			return
		}
		g.opponent.SetID(p.ID)
		g.opponent.SetInGame(true)
		g.setStatus(StatusFull)
		g.unlock()
		return
	}
	lost := !g.player.IsInGame()
	g.unlock()

	if lost {
		_ = g.terminate(ReasonStarted, nil)
	}
}

func (g *Game) onPlayerLeft(raw json.RawMessage) {
	var p v1.PlayerLeft
	if !g.decode(v1.TypePlayerLeft, raw, &p) {
		return
	}

	g.lock()
	defer g.unlock()

	if id := g.opponent.ID(); id != "" && id == p.PlayerID {
		g.opponent.Quit()
		if g.status == StatusFull {
			g.setStatus(StatusAvailable)
		}
	}
	g.setGuestsNumber(p.GuestsNumber)
}

func (g *Game) onPlayerReady(raw json.RawMessage) {
	var p v1.PlayerReady
	if len(raw) > 0 && string(raw) != "null" && !g.decode(v1.TypePlayerReady, raw, &p) {
		return
	}

	g.lock()
	defer g.unlock()

	if p.PlayerID != "" && p.PlayerID == g.player.ID() {
		return
	}
	g.opponent.SetReady(true)
}

func (g *Game) onBattleStarted(raw json.RawMessage) {
	var p v1.BattleStarted
	if !g.decode(v1.TypeBattleStarted, raw, &p) {
		return
	}

	g.lock()
	defer g.unlock()

	if g.status != StatusFull {
		g.log.Info("game.push.ignored", "event", v1.TypeBattleStarted, "status", g.status)
		return
	}
	if p.ActivePlayerID == "" {
		g.log.Warn("game.push.invalid", "event", v1.TypeBattleStarted, "err", "missing activePlayerId")
		return
	}
	g.setActivePlayerID(p.ActivePlayerID)
	g.setStatus(StatusBattle)
}

// applyOwnShot records the outcome of a local shot on the opponent battlefield.
func (g *Game) applyOwnShot(shot v1.Shot) {
	g.lock()
	defer g.unlock()

	if g.ended || g.status != StatusBattle {
		return
	}

	bf := g.opponent.Battlefield()
	if err := bf.MarkAs(shot.Position, battlefield.FieldType(shot.Type)); err != nil {
		g.log.Info("game.shoot.mark.fail", "position", shot.Position, "err", err)
	}
	if shot.Sunk != nil {
		bf.Ships().Add(battlefield.ShipFromDescriptor(*shot.Sunk))
	}

	if shot.WinnerID != "" {
		g.finish(shot.WinnerID)
		return
	}
	if shot.ActivePlayerID != "" {
		g.setActivePlayerID(shot.ActivePlayerID)
	}
}

// onPlayerShoot mirrors an opponent shot onto the local battlefield. When the
// opponent wins, its remaining fleet is revealed on the opponent battlefield.
func (g *Game) onPlayerShoot(raw json.RawMessage) {
	var shot v1.Shot
	if !g.decode(v1.TypePlayerShoot, raw, &shot) {
		return
	}

	g.lock()
	defer g.unlock()

	if g.status != StatusBattle {
		g.log.Info("game.push.ignored", "event", v1.TypePlayerShoot, "status", g.status)
		return
	}

	if err := g.player.Battlefield().MarkAs(shot.Position, battlefield.FieldType(shot.Type)); err != nil {
		g.log.Info("game.push.mark.fail", "position", shot.Position, "err", err)
	}

	if shot.WinnerID == "" {
		if shot.ActivePlayerID != "" {
			g.setActivePlayerID(shot.ActivePlayerID)
		}
		return
	}

	if shot.WinnerID != g.player.ID() {
		ships := g.opponent.Battlefield().Ships()
		ships.Add(battlefield.ShipsFromDescriptors(shot.WinnerShips)...)
		ships.FlagCollision(true)
	}
	g.finish(shot.WinnerID)
}

func (g *Game) onPlayerRequestRematch(raw json.RawMessage) {
	var p v1.RematchRequested
	if !g.decode(v1.TypePlayerRequestRematch, raw, &p) {
		return
	}

	g.lock()
	defer g.unlock()

	switch p.PlayerID {
	case "":
	case g.player.ID():
		g.player.SetWaitingForRematch(true)
	case g.opponent.ID():
		g.opponent.SetWaitingForRematch(true)
	}
}

// onRematch starts a new round. Both players are reset before the local fleet is
// rearranged so the battlefield is unlocked for Random.
func (g *Game) onRematch(json.RawMessage) {
	g.lock()
	defer g.unlock()

	if g.status != StatusOver {
		g.log.Info("game.push.ignored", "event", v1.TypeRematch, "status", g.status)
		return
	}

	g.player.Reset()
	g.opponent.Reset()

	obf := g.opponent.Battlefield()
	obf.Reset()
	obf.Ships().Clear()

	pbf := g.player.Battlefield()
	pbf.Reset()
	if err := pbf.Random(); err != nil {
		g.log.Error("game.rematch.random.fail", "err", err)
	}

	g.setActivePlayerID("")
	g.setWinnerID("")
	g.setStatus(StatusFull)
}

func (g *Game) onGameOver(raw json.RawMessage) {
	var reason string
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &reason)
	}
	_ = g.terminate(reason, nil)
}

func (g *Game) onDisconnect(json.RawMessage) {
	_ = g.terminate(ReasonDisconnected, nil)
}
