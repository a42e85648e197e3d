package server

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/jacario/jacario/internal/database"
	"github.com/jacario/jacario/internal/stats"
	"github.com/jacario/jacario/internal/types"
)

const presenceWriteTimeout = 5 * time.Second

// broadcaster delivers events to room subscribers or to every connection
// and knows which connections are subscribed where.
type broadcaster interface {
	Publish(roomId int, msg *ServerMessage, skip *Client) int
	PublishExceptUser(roomId int, msg *ServerMessage, userId int) int
	Broadcast(msg *ServerMessage, skip *Client)
	IsSubscribed(c *Client, roomId int) bool
}

type presenceEntry struct {
	username    string
	connIds     map[string]struct{}
	connectedAt time.Time
}

// PresenceRegistry tracks which users hold at least one live connection.
// The in-memory state is authoritative; the store only mirrors it.
type PresenceRegistry struct {
	mu      sync.RWMutex
	entries map[int]*presenceEntry

	// serializes transitions of one user so persisted state follows
	// the in-memory order
	userLocks keyedLock

	db    database.ChatRepository
	out   broadcaster
	stats stats.StatsProvider
	log   *log.Logger
}

func newPresenceRegistry(logger *log.Logger, db database.ChatRepository, out broadcaster, su stats.StatsProvider) *PresenceRegistry {
	return &PresenceRegistry{
		entries: make(map[int]*presenceEntry),
		db:      db,
		out:     out,
		stats:   su,
		log:     logger,
	}
}

// MarkOnline records a new connection of c's user. The first connection
// persists the online flag and announces it to everyone.
func (p *PresenceRegistry) MarkOnline(ctx context.Context, c *Client) {
	unlock := p.userLocks.lock(c.user.Id)
	defer unlock()

	p.mu.Lock()
	e, ok := p.entries[c.user.Id]
	if !ok {
		e = &presenceEntry{
			username:    c.user.Username,
			connIds:     make(map[string]struct{}),
			connectedAt: Now(),
		}
		p.entries[c.user.Id] = e
	}
	e.connIds[c.id] = struct{}{}
	p.mu.Unlock()

	if ok {
		return
	}

	p.transition(ctx, c.user, true)
}

// MarkOffline forgets one connection of c's user. Removing the last one
// persists the offline flag and announces it to everyone.
func (p *PresenceRegistry) MarkOffline(ctx context.Context, c *Client) {
	unlock := p.userLocks.lock(c.user.Id)
	defer unlock()

	p.mu.Lock()
	e, ok := p.entries[c.user.Id]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(e.connIds, c.id)
	last := len(e.connIds) == 0
	if last {
		delete(p.entries, c.user.Id)
	}
	p.mu.Unlock()

	if !last {
		return
	}

	p.transition(ctx, c.user, false)
}

func (p *PresenceRegistry) transition(ctx context.Context, user types.User, online bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), presenceWriteTimeout)
	defer cancel()

	if err := p.db.SetOnline(ctx, user.Id, online, Now()); err != nil {
		p.log.Printf("set online=%t for user %d: %s", online, user.Id, err)
	}

	if online {
		p.stats.Incr(metricOnlineUsers)
	} else {
		p.stats.Decr(metricOnlineUsers)
	}

	p.out.Broadcast(newEvent(EventUserStatusChange, StatusChange{
		UserId:   user.Id,
		Username: user.Username,
		IsOnline: online,
	}), nil)
}

func (p *PresenceRegistry) IsOnline(userId int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	_, ok := p.entries[userId]
	return ok
}

// OnlineUserIds returns the ids of every online user in ascending order.
func (p *PresenceRegistry) OnlineUserIds() []int {
	p.mu.RLock()
	ids := make([]int, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	p.mu.RUnlock()

	sort.Ints(ids)
	return ids
}

// Snapshot returns the members of roomId that are currently online.
func (p *PresenceRegistry) Snapshot(ctx context.Context, roomId int) ([]types.User, error) {
	members, err := p.db.ListRoomMembers(ctx, roomId)
	if err != nil {
		return nil, persistenceError("list room members", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	online := make([]types.User, 0, len(members))
	for _, m := range members {
		if _, ok := p.entries[m.Id]; !ok {
			continue
		}
		online = append(online, types.User{
			Id:       m.Id,
			Username: m.Username,
			Avatar:   m.Avatar,
			Role:     types.Role(m.Role),
			IsOnline: true,
		})
	}

	return online, nil
}

func (p *PresenceRegistry) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.entries = make(map[int]*presenceEntry)
}
