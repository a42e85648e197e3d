package database

import (
	"database/sql"
	"time"
)

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	Avatar       string
	Role         int
	IsOnline     bool
	LastSeen     time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Room struct {
	Id          int
	Name        string
	Description string
	IsPrivate   bool
	IsDefault   bool
	OwnerId     sql.NullInt64
	CreatedAt   time.Time
}

type Message struct {
	Id          int
	Content     string
	MessageType int
	// UserId is zero when the author account no longer exists.
	UserId         int
	AuthorUsername sql.NullString
	AuthorAvatar   sql.NullString
	RoomId         int
	ParentId       sql.NullInt64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	IsEdited       bool
	IsDeleted      bool
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateRoomParams struct {
	Name        string
	Description string
	IsPrivate   bool
	OwnerId     int
}

type CreateMessageParams struct {
	Content     string
	MessageType int
	UserId      int
	RoomId      int
	ParentId    sql.NullInt64
	CreatedAt   time.Time
}
