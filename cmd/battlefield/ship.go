package battlefield

import (
	"encoding/json"
	"fmt"
	"sync"

	v1 "battleships/contracts/battle/v1"

	"github.com/google/uuid"
)

// Ship is one vessel on a battlefield. A nil Position means the ship is not placed yet.
// Horizontal ships extend along x from Position; rotated ships extend along y.
type Ship struct {
	ID          string
	Length      int
	Position    *v1.Position
	IsRotated   bool
	IsCollision bool
}

// NewShip returns an unplaced ship with a fresh id.
func NewShip(length int) *Ship {
	return &Ship{ID: uuid.NewString(), Length: length}
}

// ShipFromDescriptor builds a ship from its wire form. Missing ids are generated.
func ShipFromDescriptor(d v1.Ship) *Ship {
	s := &Ship{ID: d.ID, Length: d.Length, IsRotated: d.IsRotated}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if d.Position != nil {
		p := *d.Position
		s.Position = &p
	}
	return s
}

// Descriptor returns the wire form of the ship.
func (s *Ship) Descriptor() v1.Ship {
	d := v1.Ship{ID: s.ID, Length: s.Length, IsRotated: s.IsRotated}
	if s.Position != nil {
		p := *s.Position
		d.Position = &p
	}
	return d
}

// Cells returns every cell the ship covers, or nil when unplaced.
func (s *Ship) Cells() []v1.Position {
	if s.Position == nil || s.Length <= 0 {
		return nil
	}
	out := make([]v1.Position, 0, s.Length)
	x, y := s.Position[0], s.Position[1]
	for i := 0; i < s.Length; i++ {
		if s.IsRotated {
			out = append(out, v1.Position{x, y + i})
		} else {
			out = append(out, v1.Position{x + i, y})
		}
	}
	return out
}

func (s *Ship) clone() *Ship {
	cp := *s
	if s.Position != nil {
		p := *s.Position
		cp.Position = &p
	}
	return &cp
}

// Ships is the collection of ships owned by a battlefield. It is safe for concurrent use.
type Ships struct {
	mu    sync.RWMutex
	items []*Ship
}

// Add appends ships to the collection. Ships whose id is already present replace the old entry.
func (c *Ships) Add(ships ...*Ship) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range ships {
		if s == nil {
			continue
		}
		replaced := false
		for i, cur := range c.items {
			if cur.ID == s.ID {
				c.items[i] = s
				replaced = true
				break
			}
		}
		if !replaced {
			c.items = append(c.items, s)
		}
	}
}

func (c *Ships) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// All returns copies of every ship in insertion order.
func (c *Ships) All() []Ship {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Ship, 0, len(c.items))
	for _, s := range c.items {
		out = append(out, *s.clone())
	}
	return out
}

func (c *Ships) Clear() {
	c.mu.Lock()
	c.items = nil
	c.mu.Unlock()
}

// Descriptors returns the wire form of every ship.
func (c *Ships) Descriptors() []v1.Ship {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]v1.Ship, 0, len(c.items))
	for _, s := range c.items {
		out = append(out, s.Descriptor())
	}
	return out
}

// ToJSON serializes the collection as a JSON array of ship descriptors.
func (c *Ships) ToJSON() (json.RawMessage, error) {
	b, err := json.Marshal(c.Descriptors())
	if err != nil {
		return nil, fmt.Errorf("battlefield: marshal ships: %w", err)
	}
	return b, nil
}

// ShipsFromDescriptors builds ships from decoded wire descriptors, e.g. a sunk
// ship or a revealed winner fleet.
func ShipsFromDescriptors(ds []v1.Ship) []*Ship {
	out := make([]*Ship, 0, len(ds))
	for _, d := range ds {
		out = append(out, ShipFromDescriptor(d))
	}
	return out
}

func (c *Ships) mutate(fn func(items []*Ship)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.items)
}

func (c *Ships) view(fn func(items []*Ship)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn(c.items)
}

// FlagCollision sets IsCollision on every ship. Revealed fleets are rendered this way.
func (c *Ships) FlagCollision(v bool) {
	c.mutate(func(items []*Ship) {
		for _, s := range items {
			s.IsCollision = v
		}
	})
}
