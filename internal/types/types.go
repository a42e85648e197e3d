package types

import (
	"time"
)

type Role int

const (
	RoleUser Role = iota
	RoleModerator
	RoleAdmin
)

var roleNames = map[Role]string{
	RoleUser:      "user",
	RoleModerator: "moderator",
	RoleAdmin:     "admin",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return roleNames[RoleUser]
}

// AtLeast reports whether r grants every privilege of min.
// Roles are ordered, so an admin is also a moderator.
func (r Role) AtLeast(min Role) bool {
	return r >= min
}

func (r Role) IsModerator() bool {
	return r.AtLeast(RoleModerator)
}

type MessageType int

const (
	MessageTypeText MessageType = iota
	MessageTypeImage
	MessageTypeFile
	MessageTypeSystem
)

func (t MessageType) Valid() bool {
	return t >= MessageTypeText && t <= MessageTypeSystem
}

const (
	DeletedMessageContent = "[This message was deleted]"
	DeletedAuthorName     = "[deleted]"
	DefaultAvatar         = "default_avatar.png"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Avatar       string    `json:"avatar,omitempty"`
	Role         Role      `json:"role"`
	IsOnline     bool      `json:"is_online"`
	LastSeen     time.Time `json:"last_seen,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Room struct {
	Id          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsPrivate   bool      `json:"is_private"`
	IsDefault   bool      `json:"is_default"`
	OwnerId     int       `json:"owner_id,omitempty"`
	Members     []User    `json:"members,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// Message is the full client-facing representation of a chat message.
// Username and Avatar are resolved from the author at read time.
type Message struct {
	Id          int         `json:"id"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"message_type"`
	UserId      int         `json:"user_id"`
	Username    string      `json:"username"`
	Avatar      string      `json:"avatar"`
	RoomId      int         `json:"room_id"`
	ParentId    *int        `json:"parent_id"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	IsEdited    bool        `json:"is_edited"`
	IsDeleted   bool        `json:"is_deleted"`
}
