package v1

// Field outcomes reported by shoot responses and playerShoot pushes.
const (
	FieldHit    = "hit"
	FieldMissed = "missed"
)

// Settings describe the board: Size x Size cells and ShipsSchema mapping ship length to count.
type Settings struct {
	Size        int         `json:"size"`
	ShipsSchema map[int]int `json:"shipsSchema"`
}

// DefaultSettings is the classic ten by ten board with a ten ship fleet.
func DefaultSettings() Settings {
	return Settings{
		Size:        10,
		ShipsSchema: map[int]int{1: 4, 2: 3, 3: 2, 4: 1},
	}
}

// Position is an [x, y] cell coordinate.
type Position [2]int

// Ship is the serialized form of one ship. Position is nil while the ship is not placed.
type Ship struct {
	ID        string    `json:"id"`
	Length    int       `json:"length"`
	Position  *Position `json:"position"`
	IsRotated bool      `json:"isRotated"`
}

type CreateResult struct {
	GameID   string `json:"gameId"`
	PlayerID string `json:"playerId"`
}

type JoinResult struct {
	Settings        Settings `json:"settings"`
	PlayerID        string   `json:"playerId"`
	OpponentID      string   `json:"opponentId"`
	IsOpponentReady bool     `json:"isOpponentReady"`
	GuestsNumber    int      `json:"guestsNumber"`
}

// Shot is both the shoot response and the playerShoot push payload.
type Shot struct {
	Position       Position `json:"position"`
	Type           string   `json:"type"`
	Sunk           *Ship    `json:"sunk,omitempty"`
	WinnerID       string   `json:"winnerId,omitempty"`
	WinnerShips    []Ship   `json:"winnerShips,omitempty"`
	ActivePlayerID string   `json:"activePlayerId,omitempty"`
}

type GuestJoined struct {
	GuestsNumber int `json:"guestsNumber"`
}

type GuestAccepted struct {
	ID string `json:"id"`
}

type PlayerLeft struct {
	PlayerID     string `json:"playerId"`
	GuestsNumber int    `json:"guestsNumber"`
}

type PlayerReady struct {
	PlayerID string `json:"playerId"`
}

type BattleStarted struct {
	ActivePlayerID string `json:"activePlayerId"`
}

type RematchRequested struct {
	PlayerID string `json:"playerId"`
}
