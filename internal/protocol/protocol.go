package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello       = "HELLO"
	TypeWelcome     = "WELCOME"
	TypeCreateGame  = "CREATE_GAME"
	TypeGameCreated = "GAME_CREATED"
	TypeJoinGame    = "JOIN_GAME"
	TypeGameJoined  = "GAME_JOINED"
	TypeSubscribe   = "SUBSCRIBE"
	TypeAct         = "ACT"
	TypeResult      = "RESULT"
	TypeChunkState  = "CHUNK_STATE"
	TypeChunkUpdate = "CHUNK_UPDATE"
	TypeMineHit     = "MINE_HIT"
	TypeError       = "ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	ReqID           string `json:"req_id,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
