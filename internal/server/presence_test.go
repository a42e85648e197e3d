package server

import (
	"context"
	"errors"
	"testing"

	"github.com/jacario/jacario/internal/database"
	"github.com/jacario/jacario/internal/testutil"
	"github.com/jacario/jacario/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestPresenceSnapshot(t *testing.T) {
	env := newTestChatServer(t)
	env.db.On("SetOnline", mock.Anything, mock.Anything, true, mock.Anything).Return(nil)
	env.db.On("ListRoomMembers", mock.Anything, 1).Return([]database.User{
		{Id: 1, Username: "alice", Avatar: "a.png"},
		{Id: 2, Username: "bob"},
		{Id: 3, Username: "carol", Role: int(types.RoleModerator)},
	}, nil)

	for _, u := range []types.User{
		testutil.NewUser(1, "alice", types.RoleUser),
		testutil.NewUser(3, "carol", types.RoleModerator),
		testutil.NewUser(4, "dave", types.RoleUser),
	} {
		require.NoError(t, env.cs.Connect(context.Background(), newTestClient(t, env.cs, u)))
	}

	users, err := env.cs.presence.Snapshot(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []types.User{
		{Id: 1, Username: "alice", Avatar: "a.png", IsOnline: true},
		{Id: 3, Username: "carol", Role: types.RoleModerator, IsOnline: true},
	}, users)
	assert.Equal(t, []int{1, 3, 4}, env.cs.presence.OnlineUserIds())
}

func TestPresenceSnapshotStoreFailure(t *testing.T) {
	env := newTestChatServer(t)
	env.db.On("ListRoomMembers", mock.Anything, 1).Return(nil, errors.New("db down"))

	_, err := env.cs.presence.Snapshot(context.Background(), 1)
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestPresenceWriteFailureKeepsMemoryState(t *testing.T) {
	env := newTestChatServer(t)
	env.db.On("SetOnline", mock.Anything, 1, mock.Anything, mock.Anything).Return(errors.New("db down"))

	c := newTestClient(t, env.cs, testutil.NewUser(1, "alice", types.RoleUser))
	env.cs.presence.MarkOnline(context.Background(), c)
	assert.True(t, env.cs.presence.IsOnline(1))

	env.cs.presence.MarkOffline(context.Background(), c)
	assert.False(t, env.cs.presence.IsOnline(1))
}

func TestPresenceMarkOfflineUnknown(t *testing.T) {
	env := newTestChatServer(t)
	c := newTestClient(t, env.cs, testutil.NewUser(1, "alice", types.RoleUser))

	env.cs.presence.MarkOffline(context.Background(), c)

	env.db.AssertNotCalled(t, "SetOnline", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, env.cs.presence.OnlineUserIds())
}

func TestPresenceClear(t *testing.T) {
	env := newTestChatServer(t)
	env.db.On("SetOnline", mock.Anything, 1, true, mock.Anything).Return(nil)

	c := newTestClient(t, env.cs, testutil.NewUser(1, "alice", types.RoleUser))
	env.cs.presence.MarkOnline(context.Background(), c)
	env.cs.presence.Clear()

	assert.False(t, env.cs.presence.IsOnline(1))
}
