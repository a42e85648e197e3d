package server

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jacario/jacario/internal/audit"
	"github.com/jacario/jacario/internal/database"
	"github.com/jacario/jacario/internal/stats"
	"github.com/jacario/jacario/internal/types"
)

const auditTimeout = 5 * time.Second

type CreateParams struct {
	RoomId      int
	Content     string
	ParentId    *int
	MessageType types.MessageType
}

// MessageManager creates, edits and soft-deletes messages and publishes
// the resulting events to the room.
type MessageManager struct {
	db        database.ChatRepository
	out       broadcaster
	typing    *TypingRegistry
	audit     audit.Publisher
	stats     stats.StatsProvider
	sanitizer *Sanitizer
	log       *log.Logger

	maxLength    int
	historyLimit int

	// held across persist and publish so commit order equals
	// delivery order within a room
	roomLocks keyedLock
}

func newMessageManager(logger *log.Logger, db database.ChatRepository, out broadcaster, typing *TypingRegistry,
	auditor audit.Publisher, su stats.StatsProvider, opts Options) *MessageManager {
	return &MessageManager{
		db:           db,
		out:          out,
		typing:       typing,
		audit:        auditor,
		stats:        su,
		sanitizer:    NewSanitizer(),
		log:          logger,
		maxLength:    opts.MaxMessageLength,
		historyLimit: opts.HistoryLimit,
	}
}

// Create stores a new message from c and publishes it to the whole room,
// author included.
func (m *MessageManager) Create(ctx context.Context, c *Client, p CreateParams) (types.Message, error) {
	content, err := m.validateContent(p.Content)
	if err != nil {
		return types.Message{}, err
	}

	if !p.MessageType.Valid() || p.MessageType == types.MessageTypeSystem {
		return types.Message{}, validationError("invalid message type")
	}

	access, err := checkRoomAccess(ctx, m.db, c.user, p.RoomId)
	if err != nil {
		return types.Message{}, err
	}

	unlock := m.roomLocks.lock(p.RoomId)
	defer unlock()

	parentId, err := m.resolveParent(ctx, p.RoomId, p.ParentId)
	if err != nil {
		return types.Message{}, err
	}

	if err := access.join(ctx, m.db, c.user.Id); err != nil {
		return types.Message{}, err
	}

	dbMsg, err := m.db.CreateMessage(ctx, database.CreateMessageParams{
		Content:     content,
		MessageType: int(p.MessageType),
		UserId:      c.user.Id,
		RoomId:      p.RoomId,
		ParentId:    parentId,
		CreatedAt:   Now(),
	})
	if err != nil {
		return types.Message{}, persistenceError("create message", err)
	}

	msg := toMessage(dbMsg)
	m.stats.Incr(metricMessagesPublished)
	m.typing.StopTyping(c, p.RoomId)
	m.out.Publish(p.RoomId, newEvent(EventNewMessage, msg), nil)

	return msg, nil
}

// Edit replaces the content of a message. Only its author or a moderator
// may edit it, and deleted messages stay deleted.
func (m *MessageManager) Edit(ctx context.Context, actor types.User, messageId int, content string) (types.Message, error) {
	if messageId <= 0 {
		return types.Message{}, ErrMissingMsgId
	}

	existing, err := m.getMessage(ctx, messageId)
	if err != nil {
		return types.Message{}, err
	}
	if err := authorizeModify(actor, existing); err != nil {
		return types.Message{}, err
	}
	if existing.IsDeleted {
		return types.Message{}, ErrMessageDeleted
	}

	content, err = m.validateContent(content)
	if err != nil {
		return types.Message{}, err
	}

	unlock := m.roomLocks.lock(existing.RoomId)
	dbMsg, err := m.getMessage(ctx, messageId)
	if err == nil && dbMsg.IsDeleted {
		err = ErrMessageDeleted
	}
	if err != nil {
		unlock()
		return types.Message{}, err
	}

	dbMsg.Content = content
	dbMsg.IsEdited = true
	dbMsg.UpdatedAt = Now()
	if err := m.db.UpdateMessage(ctx, dbMsg); err != nil {
		unlock()
		return types.Message{}, m.updateError("edit message", err)
	}

	msg := toMessage(dbMsg)
	m.out.Publish(dbMsg.RoomId, newEvent(EventMessageEdited, msg), nil)
	unlock()

	m.recordModeration(ctx, audit.ActionMessageEdited, actor, dbMsg)

	return msg, nil
}

// SoftDelete replaces the content of a message with a placeholder and
// flags it deleted. The row itself is kept so replies stay attached.
func (m *MessageManager) SoftDelete(ctx context.Context, actor types.User, messageId int) error {
	if messageId <= 0 {
		return ErrMissingMsgId
	}

	existing, err := m.getMessage(ctx, messageId)
	if err != nil {
		return err
	}
	if err := authorizeModify(actor, existing); err != nil {
		return err
	}
	if existing.IsDeleted {
		return ErrMessageDeleted
	}

	unlock := m.roomLocks.lock(existing.RoomId)
	dbMsg, err := m.getMessage(ctx, messageId)
	if err == nil && dbMsg.IsDeleted {
		err = ErrMessageDeleted
	}
	if err != nil {
		unlock()
		return err
	}

	dbMsg.Content = types.DeletedMessageContent
	dbMsg.IsDeleted = true
	dbMsg.UpdatedAt = Now()
	if err := m.db.UpdateMessage(ctx, dbMsg); err != nil {
		unlock()
		return m.updateError("delete message", err)
	}

	m.out.Publish(dbMsg.RoomId, newEvent(EventMessageDeleted, MessageDeleted{MessageId: dbMsg.Id}), nil)
	unlock()

	m.recordModeration(ctx, audit.ActionMessageDeleted, actor, dbMsg)

	return nil
}

// History returns up to historyLimit top-level messages of the room,
// oldest first.
func (m *MessageManager) History(ctx context.Context, user types.User, roomId int) ([]types.Message, error) {
	access, err := checkRoomAccess(ctx, m.db, user, roomId)
	if err != nil {
		return nil, err
	}

	msgs, err := m.recent(ctx, roomId)
	if err != nil {
		return nil, err
	}

	if err := access.join(ctx, m.db, user.Id); err != nil {
		return nil, err
	}

	return msgs, nil
}

// recent loads the latest top-level messages of a room without any access
// check.
func (m *MessageManager) recent(ctx context.Context, roomId int) ([]types.Message, error) {
	recent, err := m.db.GetRecentMessages(ctx, roomId, m.historyLimit)
	if err != nil {
		return nil, persistenceError("get recent messages", err)
	}

	msgs := make([]types.Message, len(recent))
	for i, dbMsg := range recent {
		msgs[len(recent)-1-i] = toMessage(dbMsg)
	}

	return msgs, nil
}

// validateContent returns the sanitized form of raw.
func (m *MessageManager) validateContent(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(trimmed) > m.maxLength {
		return "", ErrMessageTooLong
	}

	content := m.sanitizer.Sanitize(trimmed)
	if content == "" {
		return "", validationError("message is empty after removing disallowed markup")
	}

	return content, nil
}

// resolveParent checks that the parent exists in the same room. Replies to
// a reply are attached to the top-level message.
func (m *MessageManager) resolveParent(ctx context.Context, roomId int, parentId *int) (sql.NullInt64, error) {
	if parentId == nil {
		return sql.NullInt64{}, nil
	}

	parent, err := m.db.GetMessage(ctx, *parentId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sql.NullInt64{}, ErrParentNotFound
		}
		return sql.NullInt64{}, persistenceError("get parent message", err)
	}
	if parent.RoomId != roomId {
		return sql.NullInt64{}, ErrParentNotFound
	}

	if parent.ParentId.Valid {
		return parent.ParentId, nil
	}
	return sql.NullInt64{Int64: int64(parent.Id), Valid: true}, nil
}

func (m *MessageManager) getMessage(ctx context.Context, messageId int) (database.Message, error) {
	msg, err := m.db.GetMessage(ctx, messageId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Message{}, ErrMessageNotFound
		}
		return database.Message{}, persistenceError("get message", err)
	}
	return msg, nil
}

func (m *MessageManager) updateError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrMessageNotFound
	}
	return persistenceError(op, err)
}

// recordModeration emits an audit event when actor changed a message
// written by someone else.
func (m *MessageManager) recordModeration(ctx context.Context, action string, actor types.User, msg database.Message) {
	if msg.UserId == actor.Id {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()

	err := m.audit.Publish(ctx, audit.Event{
		Action:    action,
		ActorId:   actor.Id,
		ActorName: actor.Username,
		ActorRole: actor.Role.String(),
		AuthorId:  msg.UserId,
		MessageId: msg.Id,
		RoomId:    msg.RoomId,
		At:        Now(),
	})
	if err != nil {
		m.log.Printf("audit %s on message %d: %s", action, msg.Id, err)
	}
}

func toMessage(m database.Message) types.Message {
	msg := types.Message{
		Id:          m.Id,
		Content:     m.Content,
		MessageType: types.MessageType(m.MessageType),
		UserId:      m.UserId,
		Username:    types.DeletedAuthorName,
		Avatar:      types.DefaultAvatar,
		RoomId:      m.RoomId,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		IsEdited:    m.IsEdited,
		IsDeleted:   m.IsDeleted,
	}
	if m.AuthorUsername.Valid {
		msg.Username = m.AuthorUsername.String
	}
	if m.AuthorAvatar.Valid && m.AuthorAvatar.String != "" {
		msg.Avatar = m.AuthorAvatar.String
	}
	if m.ParentId.Valid {
		parentId := int(m.ParentId.Int64)
		msg.ParentId = &parentId
	}

	return msg
}
