package server

import (
	"log"
	"sync"
)

// Room is the live subscriber set of one chat room. It only exists while
// at least one connection is subscribed.
type Room struct {
	id      int
	clients map[*Client]struct{}
	// userMap indexes the subscribed connections by user id
	userMap    map[int]map[*Client]struct{}
	clientLock sync.Mutex
	log        *log.Logger
}

func newRoom(id int, logger *log.Logger) *Room {
	return &Room{
		id:      id,
		clients: make(map[*Client]struct{}),
		userMap: make(map[int]map[*Client]struct{}),
		log:     logger,
	}
}

// addClient reports whether c was not already subscribed.
func (r *Room) addClient(c *Client) bool {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; ok {
		return false
	}

	r.clients[c] = struct{}{}
	if r.userMap[c.user.Id] == nil {
		r.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	r.userMap[c.user.Id][c] = struct{}{}

	return true
}

// removeClient reports whether c was subscribed.
func (r *Room) removeClient(c *Client) bool {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	return r.deleteClient(c)
}

func (r *Room) deleteClient(c *Client) bool {
	if _, ok := r.clients[c]; !ok {
		return false
	}

	delete(r.clients, c)
	if userClients, ok := r.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.userMap, c.user.Id)
		}
	}

	return true
}

// removeAllClientsForUser unsubscribes every connection of userId and
// returns the removed connections.
func (r *Room) removeAllClientsForUser(userId int) []*Client {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	var removed []*Client
	for c := range r.userMap[userId] {
		removed = append(removed, c)
	}
	for _, c := range removed {
		r.deleteClient(c)
	}

	return removed
}

func (r *Room) hasClient(c *Client) bool {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	_, ok := r.clients[c]
	return ok
}

func (r *Room) isEmpty() bool {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	return len(r.clients) == 0
}

// broadcast queues msg for every subscriber except skip. Holding the lock
// for the whole fan-out keeps publishes to this room in one order for all
// subscribers.
func (r *Room) broadcast(msg *ServerMessage, skip *Client) int {
	return r.fanOut(msg, func(c *Client) bool { return c == skip })
}

// broadcastExceptUser queues msg for every subscriber that does not belong
// to userId.
func (r *Room) broadcastExceptUser(msg *ServerMessage, userId int) int {
	return r.fanOut(msg, func(c *Client) bool { return c.user.Id == userId })
}

func (r *Room) fanOut(msg *ServerMessage, skip func(*Client) bool) int {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	delivered := 0
	for client := range r.clients {
		if skip(client) {
			continue
		}

		if client.queueMessage(msg) {
			delivered++
		}
	}

	return delivered
}
