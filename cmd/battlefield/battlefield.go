// Package battlefield is the battle engine used by a session: the grid, the fleet,
// placement validation, random placement and shot bookkeeping.
package battlefield

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	v1 "battleships/contracts/battle/v1"
)

// FieldType is the outcome recorded on a cell.
type FieldType string

const (
	FieldEmpty  FieldType = ""
	FieldHit    FieldType = v1.FieldHit
	FieldMissed FieldType = v1.FieldMissed
)

var (
	ErrLocked          = errors.New("battlefield: locked")
	ErrOutOfBounds     = errors.New("battlefield: position out of bounds")
	ErrUnknownShip     = errors.New("battlefield: unknown ship")
	ErrPlacementFailed = errors.New("battlefield: random placement failed")
	ErrInvalidField    = errors.New("battlefield: invalid field type")
)

const (
	randomLayoutAttempts = 200
	randomShipAttempts   = 400
)

// Field is a read-only view of one cell.
type Field struct {
	Position v1.Position
	Type     FieldType
	ShipIDs  []string
}

func (f Field) IsHit() bool    { return f.Type == FieldHit }
func (f Field) IsMissed() bool { return f.Type == FieldMissed }
func (f Field) IsEmpty() bool  { return len(f.ShipIDs) == 0 }

// Battlefield is a Size x Size grid with a fleet. It is safe for concurrent use.
type Battlefield struct {
	mu     sync.Mutex
	size   int
	schema map[int]int
	marks  map[v1.Position]FieldType
	ships  *Ships
	locked bool
	rnd    *rand.Rand
}

// New returns a battlefield whose fleet follows schema (length -> count). Ships start unplaced.
func New(size int, schema map[int]int) *Battlefield {
	cp := make(map[int]int, len(schema))
	for k, v := range schema {
		cp[k] = v
	}
	bf := &Battlefield{
		size:   size,
		schema: cp,
		marks:  make(map[v1.Position]FieldType),
		ships:  &Ships{},
		rnd:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64())),
	}
	bf.ships.Add(fleetFromSchema(cp)...)
	return bf
}

// NewEmpty returns a battlefield with no ships, used to track an opponent's board.
func NewEmpty(size int, schema map[int]int) *Battlefield {
	bf := New(size, schema)
	bf.ships.Clear()
	return bf
}

// SetRand replaces the random source used by Random. Tests use it for deterministic layouts.
func (b *Battlefield) SetRand(r *rand.Rand) {
	b.mu.Lock()
	b.rnd = r
	b.mu.Unlock()
}

func (b *Battlefield) Size() int { return b.size }

// Schema returns a copy of the fleet schema.
func (b *Battlefield) Schema() map[int]int {
	cp := make(map[int]int, len(b.schema))
	for k, v := range b.schema {
		cp[k] = v
	}
	return cp
}

// Ships returns the fleet collection.
func (b *Battlefield) Ships() *Ships { return b.ships }

func (b *Battlefield) IsLocked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locked
}

func (b *Battlefield) SetLocked(v bool) {
	b.mu.Lock()
	b.locked = v
	b.mu.Unlock()
}

func (b *Battlefield) inBounds(p v1.Position) bool {
	return p[0] >= 0 && p[1] >= 0 && p[0] < b.size && p[1] < b.size
}

// Field returns the state of the cell at p.
func (b *Battlefield) Field(p v1.Position) (Field, error) {
	if !b.inBounds(p) {
		return Field{}, fmt.Errorf("%w: %v", ErrOutOfBounds, p)
	}
	b.mu.Lock()
	f := Field{Position: p, Type: b.marks[p]}
	b.mu.Unlock()

	b.ships.view(func(items []*Ship) {
		for _, s := range items {
			for _, c := range s.Cells() {
				if c == p {
					f.ShipIDs = append(f.ShipIDs, s.ID)
					break
				}
			}
		}
	})
	return f, nil
}

// MarkAs records a shot outcome on the cell at p. Marks are independent of the lock.
func (b *Battlefield) MarkAs(p v1.Position, t FieldType) error {
	if !b.inBounds(p) {
		return fmt.Errorf("%w: %v", ErrOutOfBounds, p)
	}
	switch t {
	case FieldHit, FieldMissed:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidField, t)
	}
	b.mu.Lock()
	b.marks[p] = t
	b.mu.Unlock()
	return nil
}

// MoveShip places (or with a nil position, unplaces) the ship with the given id.
func (b *Battlefield) MoveShip(id string, p *v1.Position) error {
	return b.editShip(id, func(s *Ship) {
		if p == nil {
			s.Position = nil
			return
		}
		pp := *p
		s.Position = &pp
	})
}

func (b *Battlefield) RotateShip(id string) error {
	return b.editShip(id, func(s *Ship) { s.IsRotated = !s.IsRotated })
}

func (b *Battlefield) editShip(id string, fn func(*Ship)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.locked {
		return ErrLocked
	}

	found := false
	b.ships.mutate(func(items []*Ship) {
		for _, s := range items {
			if s.ID == id {
				fn(s)
				found = true
				return
			}
		}
	})
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownShip, id)
	}
	return nil
}

// Collisions returns the ids of ships that are unplaced, out of bounds, or overlapping or
// touching (diagonals included) another ship.
func (b *Battlefield) Collisions() []string {
	var out []string
	b.ships.view(func(items []*Ship) {
		bad := make(map[string]struct{})
		for i, s := range items {
			cells := s.Cells()
			if cells == nil {
				bad[s.ID] = struct{}{}
				continue
			}
			for _, c := range cells {
				if !b.inBounds(c) {
					bad[s.ID] = struct{}{}
					break
				}
			}
			for _, o := range items[i+1:] {
				if touches(cells, o.Cells()) {
					bad[s.ID] = struct{}{}
					bad[o.ID] = struct{}{}
				}
			}
		}
		for _, s := range items {
			if _, ok := bad[s.ID]; ok {
				out = append(out, s.ID)
			}
		}
	})
	return out
}

// IsCollision reports whether the current layout is not acceptable for battle.
func (b *Battlefield) IsCollision() bool {
	return len(b.Collisions()) > 0
}

func touches(a, c []v1.Position) bool {
	for _, p := range a {
		for _, q := range c {
			if abs(p[0]-q[0]) <= 1 && abs(p[1]-q[1]) <= 1 {
				return true
			}
		}
	}
	return false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Random arranges the whole fleet at random positions without collisions.
// A fleet that does not match the schema (e.g. after Clear) is rebuilt first.
func (b *Battlefield) Random() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.locked {
		return ErrLocked
	}

	if !b.fleetMatchesSchema() {
		b.ships.Clear()
		b.ships.Add(fleetFromSchema(b.schema)...)
	}

	var placed bool
	b.ships.mutate(func(items []*Ship) {
		order := make([]*Ship, len(items))
		copy(order, items)
		sort.SliceStable(order, func(i, j int) bool { return order[i].Length > order[j].Length })

		for attempt := 0; attempt < randomLayoutAttempts; attempt++ {
			for _, s := range order {
				s.Position = nil
				s.IsCollision = false
			}
			if b.placeAll(order) {
				placed = true
				return
			}
		}
	})
	if !placed {
		return ErrPlacementFailed
	}
	return nil
}

func (b *Battlefield) placeAll(order []*Ship) bool {
	var taken [][]v1.Position
	for _, s := range order {
		ok := false
		for try := 0; try < randomShipAttempts; try++ {
			s.IsRotated = b.rnd.IntN(2) == 1
			limX, limY := b.size, b.size
			if s.IsRotated {
				limY = b.size - s.Length + 1
			} else {
				limX = b.size - s.Length + 1
			}
			if limX <= 0 || limY <= 0 {
				return false
			}
			p := v1.Position{b.rnd.IntN(limX), b.rnd.IntN(limY)}
			s.Position = &p

			cells := s.Cells()
			free := true
			for _, t := range taken {
				if touches(cells, t) {
					free = false
					break
				}
			}
			if free {
				taken = append(taken, cells)
				ok = true
				break
			}
		}
		if !ok {
			s.Position = nil
			return false
		}
	}
	return true
}

func (b *Battlefield) fleetMatchesSchema() bool {
	counts := make(map[int]int)
	b.ships.view(func(items []*Ship) {
		for _, s := range items {
			counts[s.Length]++
		}
	})
	if len(counts) != len(nonZero(b.schema)) {
		return false
	}
	for l, n := range b.schema {
		if n > 0 && counts[l] != n {
			return false
		}
	}
	return true
}

func nonZero(m map[int]int) map[int]int {
	out := make(map[int]int, len(m))
	for k, v := range m {
		if v > 0 {
			out[k] = v
		}
	}
	return out
}

// Reset clears every shot mark. Ships are kept.
func (b *Battlefield) Reset() {
	b.mu.Lock()
	b.marks = make(map[v1.Position]FieldType)
	b.mu.Unlock()
}

func fleetFromSchema(schema map[int]int) []*Ship {
	lengths := make([]int, 0, len(schema))
	for l := range schema {
		lengths = append(lengths, l)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(lengths)))

	var out []*Ship
	for _, l := range lengths {
		for i := 0; i < schema[l]; i++ {
			out = append(out, NewShip(l))
		}
	}
	return out
}
