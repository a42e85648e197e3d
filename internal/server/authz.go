package server

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jacario/jacario/internal/database"
	"github.com/jacario/jacario/internal/types"
)

// roomAccess is the outcome of a successful access check.
type roomAccess struct {
	room database.Room
	// needsJoin is set for a public room the user is not a member of yet.
	needsJoin bool
}

// checkRoomAccess loads the room and verifies user may view it. Private
// rooms require membership. It never writes; callers that implicitly join
// public rooms call join once their own work has succeeded.
func checkRoomAccess(ctx context.Context, db database.ChatRepository, user types.User, roomId int) (roomAccess, error) {
	if roomId <= 0 {
		return roomAccess{}, ErrMissingRoomId
	}

	room, err := db.GetRoom(ctx, roomId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return roomAccess{}, ErrRoomNotFound
		}
		return roomAccess{}, persistenceError("get room", err)
	}

	member, err := db.IsMember(ctx, roomId, user.Id)
	if err != nil {
		return roomAccess{}, persistenceError("check membership", err)
	}

	if member {
		return roomAccess{room: room}, nil
	}

	if room.IsPrivate {
		return roomAccess{}, &Error{Kind: ErrAccessDenied, Detail: "private room"}
	}

	return roomAccess{room: room, needsJoin: true}, nil
}

// join records userId as a member when the check let a non-member into a
// public room.
func (a roomAccess) join(ctx context.Context, db database.ChatRepository, userId int) error {
	if !a.needsJoin {
		return nil
	}
	if err := db.AddMember(ctx, a.room.Id, userId); err != nil {
		return persistenceError("add member", err)
	}
	return nil
}

// authorizeModify allows the author of a message and any moderator or
// admin to edit or delete it.
func authorizeModify(actor types.User, msg database.Message) error {
	if msg.UserId != 0 && msg.UserId == actor.Id {
		return nil
	}
	if actor.Role.IsModerator() {
		return nil
	}
	return &Error{Kind: ErrPermissionDenied, Detail: "not the author"}
}

func toRoom(r database.Room) types.Room {
	return types.Room{
		Id:          r.Id,
		Name:        r.Name,
		Description: r.Description,
		IsPrivate:   r.IsPrivate,
		IsDefault:   r.IsDefault,
		OwnerId:     int(r.OwnerId.Int64),
		CreatedAt:   r.CreatedAt,
	}
}
