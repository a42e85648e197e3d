package database

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountById(ctx context.Context, accountId int) (User, error) {
	args := m.Called(ctx, accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) SetOnline(ctx context.Context, accountId int, online bool, lastSeen time.Time) error {
	args := m.Called(ctx, accountId, online, lastSeen)
	return args.Error(0)
}
func (m *MockChatRepository) GetRoom(ctx context.Context, roomId int) (Room, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) ListRooms(ctx context.Context, accountId int) ([]Room, error) {
	args := m.Called(ctx, accountId)
	if rooms, ok := args.Get(0).([]Room); ok {
		return rooms, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) EnsureDefaultRooms(ctx context.Context, names []string) error {
	args := m.Called(ctx, names)
	return args.Error(0)
}
func (m *MockChatRepository) IsMember(ctx context.Context, roomId, accountId int) (bool, error) {
	args := m.Called(ctx, roomId, accountId)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) AddMember(ctx context.Context, roomId, accountId int) error {
	args := m.Called(ctx, roomId, accountId)
	return args.Error(0)
}
func (m *MockChatRepository) RemoveMember(ctx context.Context, roomId, accountId int) error {
	args := m.Called(ctx, roomId, accountId)
	return args.Error(0)
}
func (m *MockChatRepository) ListRoomMembers(ctx context.Context, roomId int) ([]User, error) {
	args := m.Called(ctx, roomId)
	if members, ok := args.Get(0).([]User); ok {
		return members, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) GetMessage(ctx context.Context, messageId int) (Message, error) {
	args := m.Called(ctx, messageId)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) UpdateMessage(ctx context.Context, msg Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}
func (m *MockChatRepository) GetRecentMessages(ctx context.Context, roomId, limit int) ([]Message, error) {
	args := m.Called(ctx, roomId, limit)
	if messages, ok := args.Get(0).([]Message); ok {
		return messages, args.Error(1)
	}
	return nil, args.Error(1)
}
