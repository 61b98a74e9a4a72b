package rooms

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acton-service/acton-service/config"
)

func newTestManager(t *testing.T, maxMembers, maxRoomsPerConn int) (*Manager, context.Context) {
	t.Helper()
	m := New(config.RoomConfig{MaxMembersPerRoom: maxMembers, MaxRoomsPerConnection: maxRoomsPerConn}, nil)
	ctx := context.Background()
	m.Start(ctx)
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Stop(stopCtx)
	})
	return m, ctx
}

func testMember(connID string) *Member {
	return &Member{ConnectionID: connID, JoinedAt: time.Now(), outboundCh: make(chan []byte, 4)}
}

func TestJoinRoomCreatesRoomLazily(t *testing.T) {
	m, ctx := newTestManager(t, 10, 10)
	require.NoError(t, m.JoinRoom(ctx, "room-1", testMember("c1")))

	info, err := m.GetRoomInfo(ctx, "room-1")
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.Equal(t, 1, info.MemberCount)
}

func TestJoinRoomRejectsOverRoomCapacity(t *testing.T) {
	m, ctx := newTestManager(t, 1, 10)
	require.NoError(t, m.JoinRoom(ctx, "room-1", testMember("c1")))
	require.NoError(t, m.JoinRoom(ctx, "room-1", testMember("c2")))

	info, err := m.GetRoomInfo(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, 1, info.MemberCount)
}

func TestJoinRoomRejectsOverConnectionLimit(t *testing.T) {
	m, ctx := newTestManager(t, 10, 1)
	require.NoError(t, m.JoinRoom(ctx, "room-1", testMember("c1")))
	require.NoError(t, m.JoinRoom(ctx, "room-2", testMember("c1")))

	info1, _ := m.GetRoomInfo(ctx, "room-1")
	info2, _ := m.GetRoomInfo(ctx, "room-2")
	assert.True(t, info1.Exists)
	assert.False(t, info2.Exists)
}

func TestLeaveRoomDropsEmptyRoom(t *testing.T) {
	m, ctx := newTestManager(t, 10, 10)
	require.NoError(t, m.JoinRoom(ctx, "room-1", testMember("c1")))
	require.NoError(t, m.LeaveRoom(ctx, "room-1", "c1"))

	info, err := m.GetRoomInfo(ctx, "room-1")
	require.NoError(t, err)
	assert.False(t, info.Exists)
}

func TestConnectionDisconnectedRemovesFromAllRooms(t *testing.T) {
	m, ctx := newTestManager(t, 10, 10)
	require.NoError(t, m.JoinRoom(ctx, "room-1", testMember("c1")))
	require.NoError(t, m.JoinRoom(ctx, "room-2", testMember("c1")))
	require.NoError(t, m.ConnectionDisconnected(ctx, "c1"))

	info1, _ := m.GetRoomInfo(ctx, "room-1")
	info2, _ := m.GetRoomInfo(ctx, "room-2")
	assert.False(t, info1.Exists)
	assert.False(t, info2.Exists)
}

func TestBroadcastExcludesSenderAndDeliversToOthers(t *testing.T) {
	m, ctx := newTestManager(t, 10, 10)
	sender := testMember("sender")
	receiver := testMember("receiver")
	require.NoError(t, m.JoinRoom(ctx, "room-1", sender))
	require.NoError(t, m.JoinRoom(ctx, "room-1", receiver))

	require.NoError(t, m.Broadcast(ctx, "room-1", []byte("hello"), "sender"))

	select {
	case msg := <-receiver.outboundCh:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(time.Second):
		t.Fatal("receiver did not get broadcast message")
	}

	select {
	case <-sender.outboundCh:
		t.Fatal("excluded sender should not receive broadcast")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestGetRoomInfoForUnknownRoom(t *testing.T) {
	m, ctx := newTestManager(t, 10, 10)
	info, err := m.GetRoomInfo(ctx, "ghost-room")
	require.NoError(t, err)
	assert.False(t, info.Exists)
	assert.Equal(t, 0, info.MemberCount)
}
