package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerMessageEncoding(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := &ServerMessage{
		BaseMessage: BaseMessage{Id: 3, Timestamp: ts},
		Event:       EventTypingUpdate,
		Data:        TypingUpdate{RoomId: 1, TypingUsers: []string{}},
	}

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": 3,
		"timestamp": "2024-05-01T12:00:00Z",
		"event": "typing_update",
		"data": {"room_id": 1, "typing_users": []}
	}`, string(raw))
}

func TestClientMessageDecoding(t *testing.T) {
	var msg ClientMessage
	err := json.Unmarshal([]byte(`{"id":9,"event":"send_message","data":{"room_id":2,"content":"hi","parent_id":4}}`), &msg)
	require.NoError(t, err)
	assert.Equal(t, 9, msg.Id)
	assert.Equal(t, EventSendMessage, msg.Event)

	var req SendMessageRequest
	require.NoError(t, decode(msg.Data, &req))
	assert.Equal(t, 2, req.RoomId)
	assert.Equal(t, "hi", req.Content)
	require.NotNil(t, req.ParentId)
	assert.Equal(t, 4, *req.ParentId)
}

func TestReply(t *testing.T) {
	msg := reply(5, EventRoomJoined, nil)
	assert.Equal(t, 5, msg.Id)
	assert.Equal(t, EventRoomJoined, msg.Event)
	assert.False(t, msg.Timestamp.IsZero())

	assert.Zero(t, reply(-1, EventError, nil).Id)

	errMsg := ErrInvalidMessage(2)
	assert.Equal(t, EventError, errMsg.Event)
	assert.Equal(t, ErrorPayload{Message: "invalid message format"}, errMsg.Data)
}
