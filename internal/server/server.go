package server

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/jacario/jacario/internal/audit"
	"github.com/jacario/jacario/internal/database"
	"github.com/jacario/jacario/internal/stats"
	"github.com/jacario/jacario/internal/types"
)

const (
	metricActiveConnections = "NumActiveConnections"
	metricOnlineUsers       = "NumOnlineUsers"
	metricActiveRooms       = "NumActiveRooms"
	metricMessagesPublished = "NumMessagesPublished"

	DefaultMaxMessageLength = 500
	DefaultHistoryLimit     = 100
)

var ErrServerClosed = errors.New("chat server closed")

type Options struct {
	MaxMessageLength int
	HistoryLimit     int
}

// ChatServer owns every piece of live chat state: connected clients, room
// subscriber sets, and the presence and typing registries.
type ChatServer struct {
	log   *log.Logger
	db    database.ChatRepository
	stats stats.StatsProvider

	clients     map[*Client]struct{}
	clientsLock sync.RWMutex
	closed      bool
	active      sync.WaitGroup

	rooms     map[int]*Room
	roomsLock sync.RWMutex

	presence *PresenceRegistry
	typing   *TypingRegistry
	messages *MessageManager
}

func NewChatServer(logger *log.Logger, db database.ChatRepository, su stats.StatsProvider, auditor audit.Publisher, opts Options) (*ChatServer, error) {
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = DefaultMaxMessageLength
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}

	for _, name := range []string{metricActiveConnections, metricOnlineUsers, metricActiveRooms, metricMessagesPublished} {
		su.RegisterMetric(name)
	}

	cs := &ChatServer{
		log:     logger,
		db:      db,
		stats:   su,
		clients: make(map[*Client]struct{}),
		rooms:   make(map[int]*Room),
	}

	cs.presence = newPresenceRegistry(logger, db, cs, su)
	cs.typing = newTypingRegistry(cs)
	cs.messages = newMessageManager(logger, db, cs, cs.typing, auditor, su, opts)

	return cs, nil
}

func (cs *ChatServer) Presence() *PresenceRegistry {
	return cs.presence
}

func (cs *ChatServer) Typing() *TypingRegistry {
	return cs.typing
}

func (cs *ChatServer) Messages() *MessageManager {
	return cs.messages
}

// Connect registers an authenticated client and marks its user online.
func (cs *ChatServer) Connect(ctx context.Context, c *Client) error {
	cs.clientsLock.Lock()
	if cs.closed {
		cs.clientsLock.Unlock()
		return ErrServerClosed
	}
	cs.clients[c] = struct{}{}
	cs.active.Add(1)
	cs.clientsLock.Unlock()

	cs.log.Printf("adding connection %s from %q", c.id, c.user.Username)
	cs.stats.Incr(metricActiveConnections)
	cs.presence.MarkOnline(ctx, c)

	return nil
}

// disconnect releases everything c holds. It is only called from the
// client's teardown, which runs once per connection.
func (cs *ChatServer) disconnect(ctx context.Context, c *Client) {
	for _, roomId := range c.roomIds() {
		cs.typing.StopTyping(c, roomId)
		cs.Unsubscribe(c, roomId)
	}
	cs.typing.StopTypingEverywhere(c)

	if !cs.removeClient(c) {
		return
	}

	cs.log.Printf("removing connection %s from %q", c.id, c.user.Username)
	cs.presence.MarkOffline(ctx, c)
	cs.stats.Decr(metricActiveConnections)
	cs.active.Done()
}

func (cs *ChatServer) removeClient(c *Client) bool {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; !ok {
		return false
	}
	delete(cs.clients, c)
	return true
}

// Subscribe attaches c to a room after checking access. The returned flag
// is false when c was already subscribed, which is not an error.
func (cs *ChatServer) Subscribe(ctx context.Context, c *Client, roomId int) (types.Room, bool, error) {
	access, err := checkRoomAccess(ctx, cs.db, c.user, roomId)
	if err != nil {
		return types.Room{}, false, err
	}
	if err := access.join(ctx, cs.db, c.user.Id); err != nil {
		return types.Room{}, false, err
	}

	return toRoom(access.room), cs.attach(c, roomId), nil
}

// Join subscribes c to a room and returns its recent history. History is
// loaded before c is attached, so a failed load leaves c outside the room.
func (cs *ChatServer) Join(ctx context.Context, c *Client, roomId int) (types.Room, []types.Message, bool, error) {
	access, err := checkRoomAccess(ctx, cs.db, c.user, roomId)
	if err != nil {
		return types.Room{}, nil, false, err
	}

	history, err := cs.messages.recent(ctx, roomId)
	if err != nil {
		return types.Room{}, nil, false, err
	}

	if err := access.join(ctx, cs.db, c.user.Id); err != nil {
		return types.Room{}, nil, false, err
	}

	return toRoom(access.room), history, cs.attach(c, roomId), nil
}

// attach adds c to the live room, loading it on first use. It reports
// whether c was newly added.
func (cs *ChatServer) attach(c *Client, roomId int) bool {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	r, ok := cs.rooms[roomId]
	if !ok {
		r = newRoom(roomId, cs.log)
		cs.rooms[roomId] = r
		cs.stats.Incr(metricActiveRooms)
		cs.log.Printf("loaded room %d", roomId)
	}
	added := r.addClient(c)
	if added {
		c.addRoom(roomId)
	}
	return added
}

// Unsubscribe detaches c from a room. It reports whether c was subscribed.
func (cs *ChatServer) Unsubscribe(c *Client, roomId int) bool {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	c.delRoom(roomId)

	r, ok := cs.rooms[roomId]
	if !ok {
		return false
	}

	removed := r.removeClient(c)
	cs.unloadIfEmpty(r)

	return removed
}

// EvictUser unsubscribes every connection of userId from a room, e.g.
// after the user gave up their membership. The user stops typing there
// first, while the connections can still see the update, and no typing
// start can slip in before they are gone.
func (cs *ChatServer) EvictUser(roomId, userId int) {
	var removed []*Client
	cs.typing.evictUser(roomId, userId, func() {
		cs.roomsLock.Lock()
		defer cs.roomsLock.Unlock()

		r, ok := cs.rooms[roomId]
		if !ok {
			return
		}
		removed = r.removeAllClientsForUser(userId)
		for _, c := range removed {
			c.delRoom(roomId)
		}
		cs.unloadIfEmpty(r)
	})

	if len(removed) > 0 {
		u := removed[0].user
		cs.Publish(roomId, newEvent(EventUserLeft, MembershipChange{
			Username: u.Username,
			UserId:   u.Id,
			RoomId:   roomId,
		}), nil)
	}
}

// unloadIfEmpty must be called with roomsLock held.
func (cs *ChatServer) unloadIfEmpty(r *Room) {
	if !r.isEmpty() {
		return
	}
	delete(cs.rooms, r.id)
	cs.stats.Decr(metricActiveRooms)
	cs.log.Printf("unloaded room %d", r.id)
}

func (cs *ChatServer) IsSubscribed(c *Client, roomId int) bool {
	cs.roomsLock.RLock()
	r, ok := cs.rooms[roomId]
	cs.roomsLock.RUnlock()

	return ok && r.hasClient(c)
}

// Publish delivers msg to the current subscribers of roomId except skip
// and returns the number of connections it was queued for.
func (cs *ChatServer) Publish(roomId int, msg *ServerMessage, skip *Client) int {
	cs.roomsLock.RLock()
	r, ok := cs.rooms[roomId]
	cs.roomsLock.RUnlock()

	if !ok {
		return 0
	}

	return r.broadcast(msg, skip)
}

// PublishExceptUser delivers msg to the subscribers of roomId that do not
// belong to userId.
func (cs *ChatServer) PublishExceptUser(roomId int, msg *ServerMessage, userId int) int {
	cs.roomsLock.RLock()
	r, ok := cs.rooms[roomId]
	cs.roomsLock.RUnlock()

	if !ok {
		return 0
	}

	return r.broadcastExceptUser(msg, userId)
}

// Broadcast delivers msg to every connected client except skip.
func (cs *ChatServer) Broadcast(msg *ServerMessage, skip *Client) {
	cs.clientsLock.RLock()
	defer cs.clientsLock.RUnlock()

	for c := range cs.clients {
		if c == skip {
			continue
		}
		c.queueMessage(msg)
	}
}

// RoomHistory returns the recent top-level messages of a room, oldest first.
func (cs *ChatServer) RoomHistory(ctx context.Context, user types.User, roomId int) ([]types.Message, error) {
	return cs.messages.History(ctx, user, roomId)
}

// Shutdown disconnects every client, waits for their teardown and clears
// the registries.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	cs.clientsLock.Lock()
	cs.closed = true
	clients := make([]*Client, 0, len(cs.clients))
	for c := range cs.clients {
		clients = append(clients, c)
	}
	cs.clientsLock.Unlock()

	for _, c := range clients {
		c.stopClient()
	}

	done := make(chan struct{})
	go func() {
		cs.active.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	cs.presence.Clear()
	cs.typing.Clear()

	return nil
}
