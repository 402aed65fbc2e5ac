package session

// Client to server events.
const (
	EventJoin           = "join"
	EventCodeChange     = "codeChange"
	EventTyping         = "typing"
	EventLanguageChange = "languageChange"
	EventLeaveRoom      = "leaveRoom"
)

// Server to client events, all scoped to a room.
const (
	EventUserJoined     = "userJoined"
	EventCodeUpdate     = "codeUpdate"
	EventUserTyping     = "userTyping"
	EventLanguageUpdate = "languageUpdate"
	EventFileCreated    = "fileCreated"
	EventFileRenamed    = "fileRenamed"
	EventFileDeleted    = "fileDeleted"
)

type (
	CodeUpdate struct {
		FileID string `json:"fileId,omitempty"`
		Code   string `json:"code"`
	}

	FileRenamed struct {
		FileID      string `json:"fileId"`
		NewFilename string `json:"newFilename"`
	}
)

// Broadcaster is the real-time half of the transport. Delivery is best
// effort; a returned error is logged and never fails the triggering action.
type Broadcaster interface {
	// Join subscribes connection connID to room broadcasts of roomID.
	Join(connID, roomID string)
	Leave(connID, roomID string)

	// EmitRoom delivers to every connection in roomID.
	EmitRoom(roomID, event string, payload any) error
	// EmitOthers delivers to every connection in roomID except connID.
	EmitOthers(connID, roomID, event string, payload any) error
}
