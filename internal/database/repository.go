package database

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicate is returned when a write violates a unique constraint,
// e.g. a room or account name that is already taken.
var ErrDuplicate = errors.New("duplicate record")

// ChatRepository is the durable store behind the chat server.
// Lookups of missing rows return sql.ErrNoRows.
type ChatRepository interface {
	Ping() error
	CreateAccount(ctx context.Context, params CreateAccountParams) (User, error)
	GetAccountById(ctx context.Context, accountId int) (User, error)
	GetAccountByEmail(ctx context.Context, email string) (User, error)
	SetOnline(ctx context.Context, accountId int, online bool, lastSeen time.Time) error
	GetRoom(ctx context.Context, roomId int) (Room, error)
	CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error)
	ListRooms(ctx context.Context, accountId int) ([]Room, error)
	EnsureDefaultRooms(ctx context.Context, names []string) error
	IsMember(ctx context.Context, roomId, accountId int) (bool, error)
	AddMember(ctx context.Context, roomId, accountId int) error
	RemoveMember(ctx context.Context, roomId, accountId int) error
	ListRoomMembers(ctx context.Context, roomId int) ([]User, error)
	GetMessage(ctx context.Context, messageId int) (Message, error)
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	UpdateMessage(ctx context.Context, msg Message) error
	GetRecentMessages(ctx context.Context, roomId, limit int) ([]Message, error)
}
