package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jacario/jacario/internal/database"
	"github.com/jacario/jacario/internal/testutil"
	"github.com/jacario/jacario/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		assert.True(t, c.queueMessage(&ServerMessage{}))
		assert.Len(t, c.send, 1)
	})

	t.Run("full buffer drops oldest", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 2),
			log:  testutil.TestLogger(t),
		}

		first := &ServerMessage{Event: EventNewMessage, Data: 1}
		second := &ServerMessage{Event: EventNewMessage, Data: 2}
		third := &ServerMessage{Event: EventNewMessage, Data: 3}

		assert.True(t, c.queueMessage(first))
		assert.True(t, c.queueMessage(second))
		assert.True(t, c.queueMessage(third), "expected a full buffer to never reject new events")

		assert.Equal(t, []*ServerMessage{second, third}, drain(c))
	})
}

func Test_stopClient(t *testing.T) {
	c := &Client{stop: make(chan struct{})}

	c.stopClient()
	c.stopClient()

	select {
	case <-c.stop:
	default:
		t.Error("expected stop channel to be closed")
	}
}

func TestClientRooms(t *testing.T) {
	c := &Client{rooms: make(map[int]struct{})}

	c.addRoom(3)
	c.addRoom(1)
	assert.True(t, c.inRoom(3))
	assert.Equal(t, []int{1, 3}, c.roomIds())

	c.delRoom(3)
	c.delRoom(3)
	assert.False(t, c.inRoom(3))
	assert.Equal(t, []int{1}, c.roomIds())
}

func clientMessage(t *testing.T, id int, event Event, data any) *ClientMessage {
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return &ClientMessage{BaseMessage: BaseMessage{Id: id}, Event: event, Data: raw}
}

func TestClientDispatch(t *testing.T) {
	alice := testutil.NewUser(1, "alice", types.RoleUser)

	t.Run("join replies and announces", func(t *testing.T) {
		env := newTestChatServer(t)
		c := newTestClient(t, env.cs, alice)
		other := newTestClient(t, env.cs, testutil.NewUser(2, "bob", types.RoleUser))
		subscribe(t, env, other, 1)
		env.db.On("IsMember", mock.Anything, 1, 1).Return(true, nil)
		env.db.On("GetRecentMessages", mock.Anything, 1, DefaultHistoryLimit).
			Return([]database.Message{storedMessage(5, 1, 2, "welcome")}, nil)

		err := c.dispatch(context.Background(), clientMessage(t, 7, EventJoinRoom, RoomRequest{RoomId: 1}))
		require.NoError(t, err)

		got := drain(c)
		require.Len(t, got, 1)
		assert.Equal(t, EventRoomJoined, got[0].Event)
		assert.Equal(t, 7, got[0].Id, "expected reply to carry the request id")
		joined := got[0].Data.(RoomJoined)
		assert.Equal(t, 1, joined.Room.Id)
		require.Len(t, joined.Messages, 1)
		assert.Equal(t, "welcome", joined.Messages[0].Content)

		announced := eventsOf(drain(other), EventUserJoined)
		require.Len(t, announced, 1)
		assert.Equal(t, MembershipChange{Username: "alice", UserId: 1, RoomId: 1}, announced[0].Data)

		// joining again only replies
		require.NoError(t, c.dispatch(context.Background(), clientMessage(t, 8, EventJoinRoom, RoomRequest{RoomId: 1})))
		assert.Len(t, drain(c), 1)
		assert.Empty(t, drain(other))
	})

	t.Run("failed history load leaves the room untouched", func(t *testing.T) {
		env := newTestChatServer(t)
		c := newTestClient(t, env.cs, alice)
		other := newTestClient(t, env.cs, testutil.NewUser(2, "bob", types.RoleUser))
		subscribe(t, env, other, 1)
		drain(other)
		env.db.On("IsMember", mock.Anything, 1, 1).Return(false, nil)
		env.db.On("GetRecentMessages", mock.Anything, 1, DefaultHistoryLimit).
			Return(nil, errors.New("connection reset")).Once()

		err := c.dispatch(context.Background(), clientMessage(t, 7, EventJoinRoom, RoomRequest{RoomId: 1}))
		assert.ErrorIs(t, err, ErrPersistence)
		assert.False(t, env.cs.IsSubscribed(c, 1))
		assert.False(t, c.inRoom(1))
		assert.Empty(t, drain(c))
		assert.Empty(t, drain(other))
		env.db.AssertNotCalled(t, "AddMember", mock.Anything, 1, 1)

		// a retry that succeeds still announces the join
		env.db.On("AddMember", mock.Anything, 1, 1).Return(nil).Once()
		env.db.On("GetRecentMessages", mock.Anything, 1, DefaultHistoryLimit).
			Return([]database.Message{}, nil)

		require.NoError(t, c.dispatch(context.Background(), clientMessage(t, 8, EventJoinRoom, RoomRequest{RoomId: 1})))
		assert.True(t, env.cs.IsSubscribed(c, 1))
		assert.Len(t, eventsOf(drain(other), EventUserJoined), 1)
	})

	t.Run("typing from another connection of the same user", func(t *testing.T) {
		env := newTestChatServer(t)
		phone := newTestClient(t, env.cs, alice)
		laptop := newTestClient(t, env.cs, alice)
		bob := newTestClient(t, env.cs, testutil.NewUser(2, "bob", types.RoleUser))
		subscribe(t, env, phone, 1)
		subscribe(t, env, laptop, 1)
		subscribe(t, env, bob, 1)
		drain(phone)
		drain(laptop)
		drain(bob)

		require.NoError(t, phone.dispatch(context.Background(), clientMessage(t, 1, EventTypingStart, RoomRequest{RoomId: 1})))

		assert.Empty(t, eventsOf(drain(laptop), EventTypingUpdate))
		assert.Empty(t, eventsOf(drain(phone), EventTypingUpdate))
		updates := eventsOf(drain(bob), EventTypingUpdate)
		require.Len(t, updates, 1)
		assert.Equal(t, TypingUpdate{RoomId: 1, TypingUsers: []string{"alice"}}, updates[0].Data)
	})

	t.Run("typing requires joined room", func(t *testing.T) {
		env := newTestChatServer(t)
		c := newTestClient(t, env.cs, alice)

		err := c.dispatch(context.Background(), clientMessage(t, 1, EventTypingStart, RoomRequest{RoomId: 4}))
		assert.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, "room not joined", userMessage(err))
		assert.Empty(t, env.cs.typing.CurrentTypists(4, 0))
	})

	t.Run("typing stop", func(t *testing.T) {
		env := newTestChatServer(t)
		c := newTestClient(t, env.cs, alice)
		subscribe(t, env, c, 1)

		require.NoError(t, c.dispatch(context.Background(), clientMessage(t, 1, EventTypingStart, RoomRequest{RoomId: 1})))
		assert.Equal(t, []string{"alice"}, env.cs.typing.CurrentTypists(1, 0))
		require.NoError(t, c.dispatch(context.Background(), clientMessage(t, 2, EventTypingStop, RoomRequest{RoomId: 1})))
		assert.Empty(t, env.cs.typing.CurrentTypists(1, 0))
	})

	t.Run("online users", func(t *testing.T) {
		env := newTestChatServer(t)
		env.db.On("SetOnline", mock.Anything, mock.Anything, true, mock.Anything).Return(nil)
		env.db.On("GetRoom", mock.Anything, 1).Return(publicRoom(1), nil)
		env.db.On("IsMember", mock.Anything, 1, 1).Return(true, nil)
		env.db.On("ListRoomMembers", mock.Anything, 1).Return([]database.User{
			{Id: 1, Username: "alice"},
			{Id: 2, Username: "bob"},
		}, nil)

		c := newTestClient(t, env.cs, alice)
		require.NoError(t, env.cs.Connect(context.Background(), c))
		drain(c)

		require.NoError(t, c.dispatch(context.Background(), clientMessage(t, 3, EventGetOnlineUsers, RoomRequest{RoomId: 1})))

		got := drain(c)
		require.Len(t, got, 1)
		assert.Equal(t, EventOnlineUsersList, got[0].Event)
		assert.Equal(t, OnlineUsers{
			RoomId: 1,
			Users:  []OnlineUser{{Id: 1, Username: "alice", Avatar: types.DefaultAvatar}},
		}, got[0].Data)
	})

	t.Run("online users of private room", func(t *testing.T) {
		env := newTestChatServer(t)
		env.db.On("GetRoom", mock.Anything, 2).Return(privateRoom(2, 9), nil)
		env.db.On("IsMember", mock.Anything, 2, 1).Return(false, nil)

		c := newTestClient(t, env.cs, alice)
		err := c.dispatch(context.Background(), clientMessage(t, 3, EventGetOnlineUsers, RoomRequest{RoomId: 2}))
		assert.ErrorIs(t, err, ErrAccessDenied)
		env.db.AssertNotCalled(t, "ListRoomMembers", mock.Anything, mock.Anything)
	})

	t.Run("malformed payloads", func(t *testing.T) {
		env := newTestChatServer(t)
		c := newTestClient(t, env.cs, alice)

		err := c.dispatch(context.Background(), &ClientMessage{Event: EventSendMessage})
		assert.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, "invalid message format", userMessage(err))

		err = c.dispatch(context.Background(), &ClientMessage{Event: EventJoinRoom, Data: json.RawMessage(`{"room_id":"x"}`)})
		assert.Equal(t, "invalid message format", userMessage(err))

		err = c.dispatch(context.Background(), &ClientMessage{Event: "shout", Data: json.RawMessage(`{}`)})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("leave room not joined", func(t *testing.T) {
		env := newTestChatServer(t)
		c := newTestClient(t, env.cs, alice)

		assert.NoError(t, c.dispatch(context.Background(), clientMessage(t, 1, EventLeaveRoom, RoomRequest{RoomId: 1})))
		assert.ErrorIs(t, c.dispatch(context.Background(), clientMessage(t, 1, EventLeaveRoom, RoomRequest{})), ErrValidation)
	})
}

func TestClientReportError(t *testing.T) {
	env := newTestChatServer(t)
	c := newTestClient(t, env.cs, testutil.NewUser(1, "alice", types.RoleUser))

	c.reportError(&ClientMessage{BaseMessage: BaseMessage{Id: 4}, Event: EventDeleteMessage},
		&Error{Kind: ErrPermissionDenied, Detail: "not the author"})

	got := drain(c)
	require.Len(t, got, 1)
	assert.Equal(t, EventError, got[0].Event)
	assert.Equal(t, 4, got[0].Id)
	assert.Equal(t, ErrorPayload{Message: "permission denied"}, got[0].Data)
}

func TestClientWebsocketSession(t *testing.T) {
	env := newTestChatServer(t)
	env.db.On("SetOnline", mock.Anything, 1, mock.Anything, mock.Anything).Return(nil)
	env.db.On("GetRoom", mock.Anything, 1).Return(publicRoom(1), nil)
	env.db.On("IsMember", mock.Anything, 1, 1).Return(true, nil)
	env.db.On("GetRecentMessages", mock.Anything, 1, DefaultHistoryLimit).Return([]database.Message{}, nil)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(testutil.NewUser(1, "alice", types.RoleUser), conn, env.cs, testutil.TestLogger(t))
		if err := env.cs.Connect(r.Context(), c); err != nil {
			conn.Close()
			return
		}
		go c.Write()
		go c.Read()
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	readEvent := func(want Event) map[string]any {
		t.Helper()
		for {
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			var frame map[string]any
			require.NoError(t, conn.ReadJSON(&frame))
			if frame["event"] == string(want) {
				return frame
			}
		}
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	frame := readEvent(EventError)
	assert.Equal(t, map[string]any{"message": "invalid message format"}, frame["data"])

	require.NoError(t, conn.WriteJSON(map[string]any{"id": 2, "event": "join_room", "data": map[string]any{"room_id": 1}}))
	frame = readEvent(EventRoomJoined)
	assert.EqualValues(t, 2, frame["id"])
	assert.True(t, env.cs.presence.IsOnline(1))

	require.NoError(t, conn.WriteJSON(map[string]any{"id": 3, "event": "typing_start", "data": map[string]any{"room_id": 1}}))
	assert.Eventually(t, func() bool {
		return len(env.cs.typing.CurrentTypists(1, 0)) == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()

	assert.Eventually(t, func() bool {
		return !env.cs.presence.IsOnline(1)
	}, 2*time.Second, 10*time.Millisecond, "expected teardown after the connection dropped")
	assert.Empty(t, env.cs.typing.CurrentTypists(1, 0))

	env.cs.roomsLock.RLock()
	defer env.cs.roomsLock.RUnlock()
	assert.Empty(t, env.cs.rooms)
}
