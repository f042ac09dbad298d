package game

import (
	"sync"

	"battleships/cmd/battlefield"
	v1 "battleships/contracts/battle/v1"
)

// Battlefield is what a session needs from the battle engine.
type Battlefield interface {
	Size() int
	Random() error
	Reset()
	Field(p v1.Position) (battlefield.Field, error)
	MarkAs(p v1.Position, t battlefield.FieldType) error
	Ships() *battlefield.Ships
	IsCollision() bool
	IsLocked() bool
	SetLocked(locked bool)
}

// Player fields published through Subscribe.
const (
	FieldID                  = "id"
	FieldIsHost              = "isHost"
	FieldIsInGame            = "isInGame"
	FieldIsReady             = "isReady"
	FieldIsWaitingForRematch = "isWaitingForRematch"
)

// Player is one participant. Every write to IsReady is mirrored into the
// battlefield lock until the player is destroyed.
type Player struct {
	bus    *changeBus
	target string

	mu                  sync.Mutex
	id                  string
	isHost              bool
	isInGame            bool
	isReady             bool
	isWaitingForRematch bool
	battlefield         Battlefield
	bound               bool
}

// NewPlayer returns a player owning bf.
func NewPlayer(bf Battlefield) *Player {
	return newPlayer(bf, newChangeBus(), TargetPlayer)
}

func newPlayer(bf Battlefield, bus *changeBus, target string) *Player {
	p := &Player{bus: bus, target: target, battlefield: bf, bound: bf != nil}
	if bf != nil {
		bf.SetLocked(false)
	}
	return p
}

// Subscribe registers fn for changes of this player. The returned func unsubscribes.
func (p *Player) Subscribe(fn func(Change)) (cancel func()) {
	return p.bus.subscribe(func(c Change) {
		if c.Target == p.target {
			fn(c)
		}
	})
}

func (p *Player) ID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

func (p *Player) IsHost() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isHost
}

func (p *Player) IsInGame() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isInGame
}

func (p *Player) IsReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isReady
}

func (p *Player) IsWaitingForRematch() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isWaitingForRematch
}

// Battlefield returns the owned battlefield, or nil after Destroy.
func (p *Player) Battlefield() Battlefield {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.battlefield
}

func (p *Player) SetID(id string) {
	p.mu.Lock()
	changed := p.id != id
	p.id = id
	p.mu.Unlock()
	p.changed(changed, FieldID, id)
}

func (p *Player) SetHost(v bool) {
	p.mu.Lock()
	changed := p.isHost != v
	p.isHost = v
	p.mu.Unlock()
	p.changed(changed, FieldIsHost, v)
}

func (p *Player) SetInGame(v bool) {
	p.mu.Lock()
	changed := p.isInGame != v
	p.isInGame = v
	p.mu.Unlock()
	p.changed(changed, FieldIsInGame, v)
}

func (p *Player) SetReady(v bool) {
	p.mu.Lock()
	changed := p.isReady != v
	p.isReady = v
	if p.bound {
		p.battlefield.SetLocked(v)
	}
	p.mu.Unlock()
	p.changed(changed, FieldIsReady, v)
}

func (p *Player) SetWaitingForRematch(v bool) {
	p.mu.Lock()
	changed := p.isWaitingForRematch != v
	p.isWaitingForRematch = v
	p.mu.Unlock()
	p.changed(changed, FieldIsWaitingForRematch, v)
}

// Reset clears the ready and rematch flags. Membership is kept. The battlefield
// is unlocked on return, so the caller may rearrange ships afterwards.
func (p *Player) Reset() {
	p.SetReady(false)
	p.SetWaitingForRematch(false)
}

// Quit is Reset plus leaving: the id is cleared and the player is no longer in game.
func (p *Player) Quit() {
	p.Reset()
	p.SetID("")
	p.SetInGame(false)
}

// Destroy detaches the lock binding and releases the battlefield.
func (p *Player) Destroy() {
	p.mu.Lock()
	p.bound = false
	p.battlefield = nil
	p.mu.Unlock()
}

// PlayerState is a point-in-time copy of a player.
type PlayerState struct {
	ID                  string
	IsHost              bool
	IsInGame            bool
	IsReady             bool
	IsWaitingForRematch bool
}

func (p *Player) State() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PlayerState{
		ID:                  p.id,
		IsHost:              p.isHost,
		IsInGame:            p.isInGame,
		IsReady:             p.isReady,
		IsWaitingForRematch: p.isWaitingForRematch,
	}
}

func (p *Player) changed(changed bool, field string, v any) {
	if changed {
		p.bus.publish(Change{Target: p.target, Field: field, Value: v})
	}
	p.bus.flush()
}
