package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	accountColumns = "id, username, email, password_hash, avatar, role, is_online, last_seen, created_at, updated_at"
	roomColumns    = "id, name, description, is_private, is_default, owner_id, created_at"
	addMemberQuery = "INSERT INTO room_members (room_id, account_id, joined_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING"

	// messages are always read joined with their author so that the
	// username and avatar reflect the account at read time
	messageSelect = "SELECT m.id, m.content, m.message_type, COALESCE(m.user_id, 0), a.username, a.avatar, " +
		"m.room_id, m.parent_id, m.created_at, m.updated_at, m.is_edited, m.is_deleted " +
		"FROM messages m LEFT JOIN accounts a ON a.id = m.user_id "
)

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (User, error) {
	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.PasswordHash,
		&u.Avatar,
		&u.Role,
		&u.IsOnline,
		&u.LastSeen,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}

func scanRoom(row scanner) (Room, error) {
	var r Room
	err := row.Scan(
		&r.Id,
		&r.Name,
		&r.Description,
		&r.IsPrivate,
		&r.IsDefault,
		&r.OwnerId,
		&r.CreatedAt,
	)
	return r, err
}

func scanMessage(row scanner) (Message, error) {
	var m Message
	err := row.Scan(
		&m.Id,
		&m.Content,
		&m.MessageType,
		&m.UserId,
		&m.AuthorUsername,
		&m.AuthorAvatar,
		&m.RoomId,
		&m.ParentId,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.IsEdited,
		&m.IsDeleted,
	)
	return m, err
}

func (db *PgChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	now := time.Now().UTC()
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO accounts (username, email, password_hash, created_at, updated_at, last_seen) "+
			"VALUES ($1, $2, $3, $4, $4, $4) RETURNING "+accountColumns,
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		now,
	)

	u, err := scanAccount(row)
	if err != nil {
		return User{}, mapError(err)
	}
	return u, nil
}

func (db *PgChatRepository) GetAccountById(ctx context.Context, id int) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1 LIMIT 1",
		id,
	)
	return scanAccount(row)
}

func (db *PgChatRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE email = $1 LIMIT 1",
		email,
	)
	return scanAccount(row)
}

func (db *PgChatRepository) SetOnline(ctx context.Context, accountId int, online bool, lastSeen time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE accounts SET is_online = $2, last_seen = $3 WHERE id = $1",
		accountId,
		online,
		lastSeen,
	)
	return err
}

func (db *PgChatRepository) GetRoom(ctx context.Context, roomId int) (Room, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT "+roomColumns+" FROM rooms WHERE id = $1 LIMIT 1",
		roomId,
	)
	return scanRoom(row)
}

func (db *PgChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (room Room, err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Room{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	row := tx.QueryRowContext(ctx,
		"INSERT INTO rooms (name, description, is_private, owner_id, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING "+roomColumns,
		params.Name,
		params.Description,
		params.IsPrivate,
		params.OwnerId,
		now,
	)

	room, err = scanRoom(row)
	if err != nil {
		err = mapError(err)
		return Room{}, err
	}

	// the creator is always a member of their room
	if _, err = tx.ExecContext(ctx, addMemberQuery, room.Id, params.OwnerId, now); err != nil {
		return Room{}, err
	}

	if err = tx.Commit(); err != nil {
		return Room{}, err
	}

	return room, nil
}

// ListRooms returns every public room plus the private rooms accountId is a member of.
func (db *PgChatRepository) ListRooms(ctx context.Context, accountId int) ([]Room, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+roomColumns+" FROM rooms r WHERE r.is_private = FALSE "+
			"OR EXISTS (SELECT 1 FROM room_members rm WHERE rm.room_id = r.id AND rm.account_id = $1) "+
			"ORDER BY r.is_private, r.id",
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := make([]Room, 0)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

// EnsureDefaultRooms creates the default public rooms when no public room exists yet.
func (db *PgChatRepository) EnsureDefaultRooms(ctx context.Context, names []string) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var exists bool
	if err = tx.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM rooms WHERE is_private = FALSE)").Scan(&exists); err != nil {
		return err
	}

	if !exists {
		now := time.Now().UTC()
		for _, name := range names {
			_, err = tx.ExecContext(ctx,
				"INSERT INTO rooms (name, description, is_default, created_at) VALUES ($1, $2, TRUE, $3) "+
					"ON CONFLICT (name) DO NOTHING",
				name,
				fmt.Sprintf("Default %s chat room", name),
				now,
			)
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func (db *PgChatRepository) IsMember(ctx context.Context, roomId, accountId int) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id = $1 AND account_id = $2)",
		roomId,
		accountId,
	).Scan(&exists)

	return exists, err
}

func (db *PgChatRepository) AddMember(ctx context.Context, roomId, accountId int) error {
	_, err := db.conn.ExecContext(ctx, addMemberQuery, roomId, accountId, time.Now().UTC())
	return err
}

func (db *PgChatRepository) RemoveMember(ctx context.Context, roomId, accountId int) error {
	_, err := db.conn.ExecContext(ctx,
		"DELETE FROM room_members WHERE room_id = $1 AND account_id = $2",
		roomId,
		accountId,
	)
	return err
}

func (db *PgChatRepository) ListRoomMembers(ctx context.Context, roomId int) ([]User, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT a.id, a.username, a.avatar, a.role FROM room_members rm "+
			"JOIN accounts a ON a.id = rm.account_id WHERE rm.room_id = $1 ORDER BY a.username",
		roomId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]User, 0)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Id, &u.Username, &u.Avatar, &u.Role); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, u)
	}

	return members, rows.Err()
}

func (db *PgChatRepository) GetMessage(ctx context.Context, messageId int) (Message, error) {
	row := db.conn.QueryRowContext(ctx, messageSelect+"WHERE m.id = $1", messageId)
	return scanMessage(row)
}

func (db *PgChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	row := db.conn.QueryRowContext(ctx,
		"WITH m AS ("+
			"INSERT INTO messages (content, message_type, user_id, room_id, parent_id, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $6) RETURNING *) "+
			"SELECT m.id, m.content, m.message_type, COALESCE(m.user_id, 0), a.username, a.avatar, "+
			"m.room_id, m.parent_id, m.created_at, m.updated_at, m.is_edited, m.is_deleted "+
			"FROM m LEFT JOIN accounts a ON a.id = m.user_id",
		params.Content,
		params.MessageType,
		params.UserId,
		params.RoomId,
		params.ParentId,
		params.CreatedAt,
	)
	return scanMessage(row)
}

func (db *PgChatRepository) UpdateMessage(ctx context.Context, msg Message) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE messages SET content = $2, is_edited = $3, is_deleted = $4, updated_at = $5 WHERE id = $1",
		msg.Id,
		msg.Content,
		msg.IsEdited,
		msg.IsDeleted,
		msg.UpdatedAt,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// GetRecentMessages returns up to limit top-level messages of a room, newest first.
func (db *PgChatRepository) GetRecentMessages(ctx context.Context, roomId, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.conn.QueryContext(ctx,
		messageSelect+"WHERE m.room_id = $1 AND m.parent_id IS NULL ORDER BY m.created_at DESC, m.id DESC LIMIT $2",
		roomId,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}
