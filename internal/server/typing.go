package server

import (
	"sort"
	"sync"
)

// TypingRegistry holds the users currently typing in each room.
// Every change is published while the registry lock is held so
// subscribers observe updates in mutation order.
type TypingRegistry struct {
	mu sync.Mutex
	// room id -> user id -> username
	rooms map[int]map[int]string
	out   broadcaster
}

func newTypingRegistry(out broadcaster) *TypingRegistry {
	return &TypingRegistry{
		rooms: make(map[int]map[int]string),
		out:   out,
	}
}

// StartTyping marks c's user as typing in roomId and reports whether that
// changed anything. Connections not subscribed to roomId are ignored; the
// check runs under the registry lock so an eviction cannot interleave.
func (t *TypingRegistry) StartTyping(c *Client, roomId int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.out.IsSubscribed(c, roomId) {
		return false
	}

	typists, ok := t.rooms[roomId]
	if !ok {
		typists = make(map[int]string)
		t.rooms[roomId] = typists
	}
	if _, ok := typists[c.user.Id]; ok {
		return false
	}
	typists[c.user.Id] = c.user.Username

	t.publish(roomId, c.user.Id)
	return true
}

// StopTyping clears c's user from roomId and reports whether it was typing.
func (t *TypingRegistry) StopTyping(c *Client, roomId int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.remove(roomId, c.user.Id) {
		return false
	}

	t.publish(roomId, c.user.Id)
	return true
}

// StopTypingEverywhere clears c's user from every room it is typing in.
func (t *TypingRegistry) StopTypingEverywhere(c *Client) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var roomIds []int
	for roomId, typists := range t.rooms {
		if _, ok := typists[c.user.Id]; ok {
			roomIds = append(roomIds, roomId)
		}
	}
	sort.Ints(roomIds)

	for _, roomId := range roomIds {
		t.remove(roomId, c.user.Id)
		t.publish(roomId, c.user.Id)
	}
}

// evictUser clears userId from roomId, telling every subscriber including
// the user's own connections, then runs detach before any other typing
// change can happen.
func (t *TypingRegistry) evictUser(roomId, userId int, detach func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.remove(roomId, userId) {
		t.out.Publish(roomId, t.update(roomId), nil)
	}

	detach()
}

// remove must be called with mu held.
func (t *TypingRegistry) remove(roomId, userId int) bool {
	typists, ok := t.rooms[roomId]
	if !ok {
		return false
	}
	if _, ok := typists[userId]; !ok {
		return false
	}
	delete(typists, userId)
	if len(typists) == 0 {
		delete(t.rooms, roomId)
	}
	return true
}

// publish must be called with mu held. The actor's own connections never
// receive the update.
func (t *TypingRegistry) publish(roomId, actorId int) {
	t.out.PublishExceptUser(roomId, t.update(roomId), actorId)
}

func (t *TypingRegistry) update(roomId int) *ServerMessage {
	return newEvent(EventTypingUpdate, TypingUpdate{
		RoomId:      roomId,
		TypingUsers: t.typists(roomId, 0),
	})
}

// CurrentTypists returns the sorted usernames typing in roomId, leaving
// out the user with id exclude.
func (t *TypingRegistry) CurrentTypists(roomId, exclude int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.typists(roomId, exclude)
}

func (t *TypingRegistry) typists(roomId, exclude int) []string {
	names := make([]string, 0, len(t.rooms[roomId]))
	for id, name := range t.rooms[roomId] {
		if id == exclude {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func (t *TypingRegistry) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rooms = make(map[int]map[int]string)
}
