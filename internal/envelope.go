package internal

import "encoding/json"

// Client→server envelope types. The set is closed: anything else is rejected
// as a bad envelope at the decode boundary.
const (
	typeRegister   = "register"
	typeLogin      = "login"
	typeCreateRoom = "create_room"
	typeGetRooms   = "get_rooms"
	typeGetUsers   = "get_users"
	typeJoinRoom   = "join_room"
	typeText       = "text"
	typeFileStart  = "file_start"
	typeFileChunk  = "file_chunk"
	typeTyping     = "typing"
	typeStopTyping = "stop_typing"
	typeIdle       = "idle"
	typeUserStatus = "user_status"
)

// Server→client envelope types.
const (
	typeStatus   = "status"
	typeError    = "error"
	typeFile     = "file"
	typeRoomList = "room_list"
	typeNewRoom  = "new_room"
	typeUserList = "user_list"
)

// inboundEnvelope is decoded once at the boundary to pick the dispatch tag;
// the raw payload is then decoded into the per-type request struct.
type inboundEnvelope struct {
	Type string `json:"type"`
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type createRoomRequest struct {
	RoomName    string `json:"roomName"`
	IsPublic    *bool  `json:"isPublic"`
	Password    string `json:"password"`
	KeyMaterial string `json:"keyMaterial"`
}

type joinRoomRequest struct {
	Room     string `json:"room"`
	Password string `json:"password"`
}

// textRequest carries the message payload. Content is opaque to the server:
// it may be a plain string or a structured blob, and is persisted and
// broadcast exactly as received.
type textRequest struct {
	Content json.RawMessage `json:"content"`
}

type fileStartRequest struct {
	UploadID    string          `json:"uploadId"`
	FileName    string          `json:"fileName"`
	FileSize    int64           `json:"fileSize"`
	TotalChunks int             `json:"totalChunks"`
	CryptoMeta  json.RawMessage `json:"cryptoMeta"`
}

type fileChunkRequest struct {
	UploadID   string `json:"uploadId"`
	ChunkIndex *int   `json:"chunkIndex"`
	Data       string `json:"data"`
}

type userStatusRequest struct {
	Status string `json:"status"`
}

type statusEnvelope struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Room        string `json:"room,omitempty"`
	KeyMaterial string `json:"keyMaterial,omitempty"`
}

type errorEnvelope struct {
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type textEnvelope struct {
	Type    string          `json:"type"`
	Room    string          `json:"room"`
	Sender  string          `json:"sender"`
	Content json.RawMessage `json:"content"`
	Ts      int64           `json:"ts"`
}

type fileEnvelope struct {
	Type       string          `json:"type"`
	Room       string          `json:"room"`
	Sender     string          `json:"sender"`
	FileURL    string          `json:"fileUrl"`
	FileName   string          `json:"fileName"`
	Ts         int64           `json:"ts"`
	CryptoMeta json.RawMessage `json:"cryptoMeta,omitempty"`
}

type roomEntry struct {
	Name     string `json:"name"`
	IsPublic bool   `json:"isPublic"`
}

type roomListEnvelope struct {
	Type  string      `json:"type"`
	Rooms []roomEntry `json:"rooms"`
}

type newRoomEnvelope struct {
	Type string    `json:"type"`
	Room roomEntry `json:"room"`
}

type userListEnvelope struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

type userStatusEnvelope struct {
	Type   string `json:"type"`
	User   string `json:"user"`
	Status string `json:"status"`
}

type typingEnvelope struct {
	Type string `json:"type"`
	Room string `json:"room"`
	User string `json:"user"`
}

func mustMarshal(v interface{}) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		// every outbound envelope is a plain struct of marshalable fields
		panic(err)
	}
	return payload
}

func statusPayload(message string) []byte {
	return mustMarshal(statusEnvelope{Type: typeStatus, Message: message})
}

func errorPayload(perr *ProtocolError) []byte {
	return mustMarshal(errorEnvelope{Type: typeError, Kind: string(perr.Kind), Message: perr.Message})
}

func userStatusPayload(user, status string) []byte {
	return mustMarshal(userStatusEnvelope{Type: typeUserStatus, User: user, Status: status})
}
