package app

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	v1 "battleships/contracts/battle/v1"
)

const helpText = `commands:
  accept        take the free seat in a joined game
  random        rearrange your ships
  ready         lock your ships and send them
  shoot X Y     fire at column X, row Y
  rematch       ask for a rematch once the game is over
  status        show the session state
  board         show both battlefields
  invite        print the invite link
  help          show this text
  quit          leave the game`

func parseCommand(line string) (string, []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

// parsePosition reads "X Y" or "X,Y" within a board of the given size.
func parsePosition(args []string, size int) (v1.Position, error) {
	if len(args) == 1 {
		args = strings.Split(args[0], ",")
	}
	if len(args) != 2 {
		return v1.Position{}, fmt.Errorf("usage: shoot X Y")
	}

	var p v1.Position
	for i, a := range args {
		n, err := strconv.Atoi(strings.TrimSpace(a))
		if err != nil {
			return v1.Position{}, fmt.Errorf("bad coordinate %q", a)
		}
		if n < 0 || n >= size {
			return v1.Position{}, fmt.Errorf("coordinate %d outside 0..%d", n, size-1)
		}
		p[i] = n
	}
	return p, nil
}

// parseGameID accepts a bare game id or an invite link carrying it as fragment.
func parseGameID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("missing game id")
	}
	if !strings.Contains(s, "#") {
		return s, nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("bad invite link: %w", err)
	}
	if u.Fragment == "" {
		return "", fmt.Errorf("invite link without game id")
	}
	return u.Fragment, nil
}
