package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	PlayerName      string     `json:"player_name"`
	Auth            *HelloAuth `json:"auth,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	SessionID       string   `json:"session_id"`
	PlayerID        string   `json:"player_id"`
	ChunkSize       int      `json:"chunk_size"`
	Games           []string `json:"games,omitempty"`
}

// CREATE_GAME (client -> server). Zero fields take the server defaults.
type CreateGameMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	ReqID           string  `json:"req_id,omitempty"`
	GameID          string  `json:"game_id,omitempty"`
	Seed            int64   `json:"seed,omitempty"`
	SeedText        string  `json:"seed_text,omitempty"`
	MineThreshold   float64 `json:"mine_threshold,omitempty"`
}

// GAME_CREATED (server -> client)
type GameCreatedMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	ReqID           string  `json:"req_id,omitempty"`
	GameID          string  `json:"game_id"`
	Seed            int64   `json:"seed"`
	MineThreshold   float64 `json:"mine_threshold"`
}

// JOIN_GAME (client -> server)
type JoinGameMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	GameID          string `json:"game_id"`
}

// GAME_JOINED (server -> client)
type GameJoinedMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	ReqID           string    `json:"req_id,omitempty"`
	GameID          string    `json:"game_id"`
	Stats           GameStats `json:"stats"`
}

type GameStats struct {
	Actions      uint64 `json:"actions"`
	MineHits     uint64 `json:"mine_hits"`
	Chunks       int    `json:"chunks"`
	PendingFills int    `json:"pending_fills"`
}

// SUBSCRIBE (client -> server) replaces the session's watched chunks with
// the square of the given radius around Center (chunk coordinates).
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Center          [2]int `json:"center"`
	Radius          int    `json:"radius"`
}

// ACT (client -> server)
type ActMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Action          string `json:"action"`
	X               int    `json:"x"`
	Y               int    `json:"y"`
}

// RESULT (server -> client) answers one ACT.
type ResultMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	ReqID           string    `json:"req_id,omitempty"`
	GameID          string    `json:"game_id"`
	Action          string    `json:"action"`
	X               int       `json:"x"`
	Y               int       `json:"y"`
	Outcome         string    `json:"outcome"`
	Cells           []CellObs `json:"cells,omitempty"`
}

// CellObs is a cell as seen by players. Mine and Adjacent are only set on
// revealed cells.
type CellObs struct {
	X        int  `json:"x"`
	Y        int  `json:"y"`
	Revealed bool `json:"revealed,omitempty"`
	Flagged  bool `json:"flagged,omitempty"`
	Mine     bool `json:"mine,omitempty"`
	Adjacent int  `json:"adjacent,omitempty"`
}

// ChunkObs carries a chunk's cells. Packed is only set on CHUNK_STATE: the
// whole chunk as run-length cell codes (0 hidden, 1 flagged, 2 mine, 10+n
// open with n adjacent mines), row-major from the chunk's low corner.
type ChunkObs struct {
	ID     string    `json:"id"`
	CX     int       `json:"cx"`
	CY     int       `json:"cy"`
	State  string    `json:"state,omitempty"`
	Cells  []CellObs `json:"cells"`
	Packed string    `json:"packed,omitempty"`
}

// CHUNK_STATE (server -> client) carries every visible cell of a chunk the
// session just subscribed to.
type ChunkStateMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	GameID          string   `json:"game_id"`
	Chunk           ChunkObs `json:"chunk"`
}

// CHUNK_UPDATE (server -> client) carries the cells of a chunk changed by
// someone's action.
type ChunkUpdateMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	GameID          string   `json:"game_id"`
	Chunk           ChunkObs `json:"chunk"`
}

// MINE_HIT (server -> client) is sent to everyone watching the mine's chunk.
type MineHitMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	GameID          string `json:"game_id"`
	PlayerID        string `json:"player_id"`
	X               int    `json:"x"`
	Y               int    `json:"y"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewError(reqID, code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, ReqID: reqID, Code: code, Message: msg}
}
