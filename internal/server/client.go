package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jacario/jacario/internal/types"
	"github.com/teris-io/shortid"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingInterval    = (pongWait * 9) / 10
	maxMessageSize  = 4096
	sendBufferSize  = 256
	teardownTimeout = 10 * time.Second
)

// Client is one authenticated websocket connection.
type Client struct {
	id   string
	conn *websocket.Conn
	cs   *ChatServer
	log  *log.Logger
	user types.User

	send     chan *ServerMessage
	sendLock sync.Mutex

	rooms     map[int]struct{}
	roomsLock sync.RWMutex

	stop         chan struct{}
	stopOnce     sync.Once
	teardownOnce sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		id:    shortid.MustGenerate(),
		conn:  conn,
		cs:    cs,
		log:   l,
		user:  user,
		send:  make(chan *ServerMessage, sendBufferSize),
		rooms: make(map[int]struct{}),
		stop:  make(chan struct{}),
	}
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) User() types.User {
	return c.user
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// Read handles the commands of this connection one at a time. Its
// deferred teardown runs however the connection ends.
func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.teardown()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Printf("connection %s: error parsing message: %s", c.id, err)
			c.queueMessage(ErrInvalidMessage(0))
			continue
		}
		msg.Timestamp = Now()

		if err := c.dispatch(ctx, &msg); err != nil {
			c.reportError(&msg, err)
		}
	}
}

func (c *Client) reportError(msg *ClientMessage, err error) {
	switch {
	case errors.Is(err, ErrAccessDenied), errors.Is(err, ErrPermissionDenied):
		c.log.Printf("user %d denied %s: %s", c.user.Id, msg.Event, err)
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
	default:
		c.log.Printf("%s failed for user %d: %s", msg.Event, c.user.Id, err)
	}

	c.queueMessage(ErrorEvent(msg.Id, err))
}

func (c *Client) dispatch(ctx context.Context, msg *ClientMessage) error {
	switch msg.Event {
	case EventJoinRoom:
		var req RoomRequest
		if err := decode(msg.Data, &req); err != nil {
			return err
		}
		return c.joinRoom(ctx, msg.Id, req.RoomId)
	case EventLeaveRoom:
		var req RoomRequest
		if err := decode(msg.Data, &req); err != nil {
			return err
		}
		return c.leaveRoom(req.RoomId)
	case EventSendMessage:
		var req SendMessageRequest
		if err := decode(msg.Data, &req); err != nil {
			return err
		}
		_, err := c.cs.messages.Create(ctx, c, CreateParams{
			RoomId:      req.RoomId,
			Content:     req.Content,
			ParentId:    req.ParentId,
			MessageType: req.MessageType,
		})
		return err
	case EventTypingStart:
		var req RoomRequest
		if err := decode(msg.Data, &req); err != nil {
			return err
		}
		return c.startTyping(req.RoomId)
	case EventTypingStop:
		var req RoomRequest
		if err := decode(msg.Data, &req); err != nil {
			return err
		}
		if req.RoomId <= 0 {
			return ErrMissingRoomId
		}
		c.cs.typing.StopTyping(c, req.RoomId)
		return nil
	case EventEditMessage:
		var req EditMessageRequest
		if err := decode(msg.Data, &req); err != nil {
			return err
		}
		_, err := c.cs.messages.Edit(ctx, c.user, req.MessageId, req.Content)
		return err
	case EventDeleteMessage:
		var req DeleteMessageRequest
		if err := decode(msg.Data, &req); err != nil {
			return err
		}
		return c.cs.messages.SoftDelete(ctx, c.user, req.MessageId)
	case EventGetOnlineUsers:
		var req RoomRequest
		if err := decode(msg.Data, &req); err != nil {
			return err
		}
		return c.onlineUsers(ctx, msg.Id, req.RoomId)
	default:
		return validationError("unknown event")
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return ErrInvalidFormat
	}
	if err := json.Unmarshal(data, v); err != nil {
		return ErrInvalidFormat
	}
	return nil
}

func (c *Client) joinRoom(ctx context.Context, id, roomId int) error {
	room, history, added, err := c.cs.Join(ctx, c, roomId)
	if err != nil {
		return err
	}

	c.queueMessage(reply(id, EventRoomJoined, RoomJoined{Room: room, Messages: history}))

	if added {
		c.cs.Publish(roomId, newEvent(EventUserJoined, MembershipChange{
			Username: c.user.Username,
			UserId:   c.user.Id,
			RoomId:   roomId,
		}), c)
	}

	return nil
}

func (c *Client) leaveRoom(roomId int) error {
	if roomId <= 0 {
		return ErrMissingRoomId
	}

	c.cs.typing.StopTyping(c, roomId)
	if !c.cs.Unsubscribe(c, roomId) {
		return nil
	}

	c.cs.Publish(roomId, newEvent(EventUserLeft, MembershipChange{
		Username: c.user.Username,
		UserId:   c.user.Id,
		RoomId:   roomId,
	}), c)

	return nil
}

func (c *Client) startTyping(roomId int) error {
	if roomId <= 0 {
		return ErrMissingRoomId
	}
	if !c.inRoom(roomId) {
		return ErrRoomNotJoined
	}

	c.cs.typing.StartTyping(c, roomId)
	return nil
}

func (c *Client) onlineUsers(ctx context.Context, id, roomId int) error {
	if _, err := checkRoomAccess(ctx, c.cs.db, c.user, roomId); err != nil {
		return err
	}

	users, err := c.cs.presence.Snapshot(ctx, roomId)
	if err != nil {
		return err
	}

	online := make([]OnlineUser, 0, len(users))
	for _, u := range users {
		avatar := u.Avatar
		if avatar == "" {
			avatar = types.DefaultAvatar
		}
		online = append(online, OnlineUser{Id: u.Id, Username: u.Username, Avatar: avatar})
	}

	c.queueMessage(reply(id, EventOnlineUsersList, OnlineUsers{RoomId: roomId, Users: online}))
	return nil
}

// queueMessage never blocks. When the buffer is full the oldest queued
// event is dropped to make room.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	c.sendLock.Lock()
	defer c.sendLock.Unlock()

	for {
		select {
		case c.send <- msg:
			return true
		default:
		}

		select {
		case <-c.send:
			c.log.Printf("connection %s: send buffer full, dropped oldest event", c.id)
		default:
		}
	}
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// teardown releases the session exactly once, whichever side ended it.
func (c *Client) teardown() {
	c.teardownOnce.Do(func() {
		c.stopClient()

		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()

		c.cs.disconnect(ctx, c)
	})
}

func (c *Client) addRoom(roomId int) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[roomId] = struct{}{}
}

func (c *Client) delRoom(roomId int) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, roomId)
}

func (c *Client) inRoom(roomId int) bool {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	_, ok := c.rooms[roomId]
	return ok
}

func (c *Client) roomIds() []int {
	c.roomsLock.RLock()
	ids := make([]int, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	c.roomsLock.RUnlock()

	sort.Ints(ids)
	return ids
}
