package model

type RoomCode = string

const EmptyRoomCode RoomCode = ""

type RoomStatus = string

const (
	StatusWaiting   RoomStatus = "waiting"
	StatusLobby     RoomStatus = "lobby"
	StatusRanking   RoomStatus = "ranking"
	StatusCompleted RoomStatus = "completed"
)

// Participant is one connected player inside a room document.
// Ranking stays nil until the player submits; Submitted mirrors that.
type Participant struct {
	Name        string `json:"name"`
	IsHost      bool   `json:"isHost"`
	Ranking     []int  `json:"ranking"`
	Submitted   bool   `json:"submitted"`
	JoinedAt    int64  `json:"joinedAt"`
	SubmittedAt int64  `json:"submittedAt,omitempty"`
}

// Room is the shared document one game session lives in. The room code is
// the document key, not a stored field.
type Room struct {
	Code        RoomCode               `json:"-"`
	Prompt      string                 `json:"prompt"`
	ItemCount   int                    `json:"itemCount"`
	Items       []Item                 `json:"items"`
	Status      RoomStatus             `json:"status"`
	HostID      string                 `json:"hostId"`
	CreatedAt   int64                  `json:"createdAt"`
	RestartedAt int64                  `json:"restartedAt,omitempty"`
	Players     map[string]Participant `json:"players"`
}

func (r Room) PlayerCount() int {
	return len(r.Players)
}

func (r Room) SubmittedCount() int {
	n := 0
	for _, p := range r.Players {
		if p.Submitted {
			n++
		}
	}
	return n
}

// AllSubmitted is derived from the players mapping, never stored.
// An empty room is not "all submitted".
func (r Room) AllSubmitted() bool {
	return r.PlayerCount() > 0 && r.SubmittedCount() == r.PlayerCount()
}
