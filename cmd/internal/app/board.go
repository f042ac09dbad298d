package app

import (
	"fmt"
	"io"
	"strings"

	"battleships/cmd/battlefield"
	"battleships/cmd/internal/game"
	v1 "battleships/contracts/battle/v1"
)

// Cell glyphs.
const (
	glyphEmpty    = '.'
	glyphShip     = '#'
	glyphFlagged  = '!'
	glyphHit      = 'X'
	glyphMissed   = 'o'
	glyphNoBoard  = "(no battlefield)"
	boardColWidth = 2
)

// renderBoard writes bf as a grid with x growing to the right and y downwards.
// Ships flagged as colliding (or revealed after a loss) use '!'.
func renderBoard(w io.Writer, title string, bf game.Battlefield) {
	fmt.Fprintln(w, title)
	if bf == nil {
		fmt.Fprintln(w, "  "+glyphNoBoard)
		return
	}

	size := bf.Size()
	flagged := make(map[string]bool)
	for _, s := range bf.Ships().All() {
		flagged[s.ID] = s.IsCollision
	}

	var b strings.Builder
	b.WriteString(strings.Repeat(" ", boardColWidth+1))
	for x := range size {
		fmt.Fprintf(&b, "%*d", boardColWidth, x)
	}
	b.WriteByte('\n')

	for y := range size {
		fmt.Fprintf(&b, "%*d ", boardColWidth, y)
		for x := range size {
			f, err := bf.Field(v1.Position{x, y})
			if err != nil {
				continue
			}
			fmt.Fprintf(&b, "%*c", boardColWidth, cellGlyph(f, flagged))
		}
		b.WriteByte('\n')
	}
	_, _ = io.WriteString(w, b.String())
}

func cellGlyph(f battlefield.Field, flagged map[string]bool) rune {
	switch {
	case f.IsHit():
		return glyphHit
	case f.IsMissed():
		return glyphMissed
	case f.IsEmpty():
		return glyphEmpty
	}
	for _, id := range f.ShipIDs {
		if flagged[id] {
			return glyphFlagged
		}
	}
	return glyphShip
}
