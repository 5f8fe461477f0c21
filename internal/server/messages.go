package server

import (
	"encoding/json"

	"github.com/npezzotti/go-drawboard/internal/types"
)

// Wire event names. Every frame is a JSON envelope of the form
// {"event": <name>, "data": <payload>} in both directions.
const (
	EventJoin        = "join"             // client -> server
	EventRoomInit    = "room:init"        // server -> joining client
	EventUserJoined  = "user:joined"      // server -> other members
	EventUserLeft    = "user:left"        // server -> remaining members
	EventUpdateUsers = "room:updateUsers" // server -> room
	EventStrokeStart = "stroke:start"
	EventStrokePoint = "stroke:point"
	EventStrokeEnd   = "stroke:end"
	EventCursorMove  = "cursor:move"
	EventUndo        = "history:undo"
	EventRedo        = "history:redo"
	EventHistory     = "history:replace" // server -> room
	EventClear       = "canvas:clear"
	EventCleared     = "canvas:cleared" // server -> room
	EventPing        = "ping:now"
	EventPong        = "pong:now"
	EventError       = "error" // server -> offending client only
)

type ClientMessage struct {
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
	client *Client
}

type ServerMessage struct {
	Event      string  `json:"event"`
	Data       any     `json:"data,omitempty"`
	SkipClient *Client `json:"-"`

	// raw holds the envelope bytes when the sender marshaled the
	// message before queueing it. Room broadcasts set it: their
	// payloads can point into drawing state the room goroutine keeps
	// mutating, so the frame must be frozen before fan-out.
	raw []byte
}

type JoinRequest struct {
	User   *types.Identity `json:"user,omitempty"`
	RoomId string          `json:"roomId,omitempty"`
}

type RoomInit struct {
	RoomId   string            `json:"roomId"`
	Users    []types.UserView  `json:"users"`
	History  []*types.StrokeOp `json:"history"`
	NextOpId int               `json:"nextOpId"`
}

type UserLeft struct {
	UserId   string `json:"userId"`
	UserName string `json:"userName"`
}

type CursorMove struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type CursorUpdate struct {
	UserId string  `json:"userId"`
	Color  string  `json:"color"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func newServerMessage(event string, data any) *ServerMessage {
	return &ServerMessage{
		Event: event,
		Data:  data,
	}
}

func newErrorMessage(msg string) *ServerMessage {
	return &ServerMessage{
		Event: EventError,
		Data:  &ErrorPayload{Message: msg},
	}
}

func ErrIdentityRequired() *ServerMessage {
	return newErrorMessage("identity required")
}

func ErrInvalidMessage() *ServerMessage {
	return newErrorMessage("invalid message format")
}

func ErrServiceUnavailable() *ServerMessage {
	return newErrorMessage("service unavailable")
}
