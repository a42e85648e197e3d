package server

import (
	"encoding/json"
	"time"

	"github.com/jacario/jacario/internal/types"
)

type Event string

// client -> server
const (
	EventJoinRoom       Event = "join_room"
	EventLeaveRoom      Event = "leave_room"
	EventSendMessage    Event = "send_message"
	EventTypingStart    Event = "typing_start"
	EventTypingStop     Event = "typing_stop"
	EventEditMessage    Event = "edit_message"
	EventDeleteMessage  Event = "delete_message"
	EventGetOnlineUsers Event = "get_online_users"
)

// server -> client
const (
	EventNewMessage       Event = "new_message"
	EventMessageEdited    Event = "message_edited"
	EventMessageDeleted   Event = "message_deleted"
	EventTypingUpdate     Event = "typing_update"
	EventUserJoined       Event = "user_joined"
	EventUserLeft         Event = "user_left"
	EventUserStatusChange Event = "user_status_change"
	EventOnlineUsersList  Event = "online_users_list"
	EventRoomJoined       Event = "room_joined"
	EventError            Event = "error"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type RoomRequest struct {
	RoomId int `json:"room_id"`
}

type SendMessageRequest struct {
	RoomId      int               `json:"room_id"`
	Content     string            `json:"content"`
	ParentId    *int              `json:"parent_id,omitempty"`
	MessageType types.MessageType `json:"message_type,omitempty"`
}

type EditMessageRequest struct {
	MessageId int    `json:"message_id"`
	Content   string `json:"content"`
}

type DeleteMessageRequest struct {
	MessageId int `json:"message_id"`
}

// ServerMessage is shared between every recipient of a publish and
// must not be modified once queued.
type ServerMessage struct {
	BaseMessage
	Event Event `json:"event"`
	Data  any   `json:"data,omitempty"`
}

type MessageDeleted struct {
	MessageId int `json:"message_id"`
}

type TypingUpdate struct {
	RoomId      int      `json:"room_id"`
	TypingUsers []string `json:"typing_users"`
}

type MembershipChange struct {
	Username string `json:"username"`
	UserId   int    `json:"user_id"`
	RoomId   int    `json:"room_id"`
}

type StatusChange struct {
	UserId   int    `json:"user_id"`
	Username string `json:"username"`
	IsOnline bool   `json:"is_online"`
}

type OnlineUser struct {
	Id       int    `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

type OnlineUsers struct {
	RoomId int          `json:"room_id"`
	Users  []OnlineUser `json:"users"`
}

type RoomJoined struct {
	Room     types.Room      `json:"room"`
	Messages []types.Message `json:"messages"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func newEvent(event Event, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Event: event,
		Data:  data,
	}
}

// reply builds a direct response to the client request with the given id.
func reply(id int, event Event, data any) *ServerMessage {
	msg := newEvent(event, data)
	if id > 0 {
		msg.Id = id
	}
	return msg
}

func ErrorEvent(id int, err error) *ServerMessage {
	return reply(id, EventError, ErrorPayload{Message: userMessage(err)})
}

func ErrInvalidMessage(id int) *ServerMessage {
	return ErrorEvent(id, ErrInvalidFormat)
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
