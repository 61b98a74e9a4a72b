// Package rooms implements the room-based broadcast manager from spec.md
// §4.9: a single agent owning room membership, with join/leave/broadcast
// handled as typed messages dispatched one at a time so room mutation needs
// no explicit locking. Grounded on
// _examples/original_source/acton-service/src/websocket/rooms.rs, adapted
// from the original's acton-reactive actor + mpsc sender to this repo's
// agent.Agent + gorilla/websocket connection.
package rooms

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/acton-service/acton-service/agent"
	"github.com/acton-service/acton-service/config"
	"github.com/acton-service/acton-service/infrastructure/logging"
)

// Member is one connection's membership in a room. For a member built by
// NewMember, sendPump drains outboundCh into its WebSocket connection;
// broadcasts use non-blocking sends, so a slow client never blocks the
// manager.
type Member struct {
	ConnectionID string
	OwnerID      string
	JoinedAt     time.Time

	outboundCh chan []byte
}

// Room groups members under an ID.
type Room struct {
	ID           string
	Members      map[string]*Member
	CreatedAt    time.Time
	LastActivity time.Time
	Metadata     map[string]string
}

func newRoom(id string) *Room {
	now := time.Now()
	return &Room{ID: id, Members: make(map[string]*Member), CreatedAt: now, LastActivity: now}
}

func (r *Room) touch() { r.LastActivity = time.Now() }

// RoomInfo is the read-only projection returned by GetRoomInfo.
type RoomInfo struct {
	RoomID      string
	MemberCount int
	Exists      bool
}

// Manager is the single agent owning all room state, per spec.md §4.9.
type Manager struct {
	agent  *agent.Agent
	logger *logging.Logger

	maxMembersPerRoom     int
	maxRoomsPerConnection int

	rooms           map[string]*Room
	connectionRooms map[string]map[string]struct{}
}

type joinMsg struct {
	RoomID string
	Member *Member
}
type leaveMsg struct {
	RoomID       string
	ConnectionID string
}
type broadcastMsg struct {
	RoomID        string
	Message       []byte
	ExcludeSender string
}
type disconnectMsg struct {
	ConnectionID string
}
type roomInfoMsg struct {
	RoomID string
}

// New constructs a Manager bounded by cfg's per-room and per-connection
// limits.
func New(cfg config.RoomConfig, logger *logging.Logger) *Manager {
	m := &Manager{
		agent:                 agent.New("room-manager", 64),
		logger:                logger,
		maxMembersPerRoom:     cfg.MaxMembersPerRoom,
		maxRoomsPerConnection: cfg.MaxRoomsPerConnection,
		rooms:                 make(map[string]*Room),
		connectionRooms:       make(map[string]map[string]struct{}),
	}
	m.agent.On("joinMsg", m.handleJoin)
	m.agent.On("leaveMsg", m.handleLeave)
	m.agent.On("broadcastMsg", m.handleBroadcast)
	m.agent.On("disconnectMsg", m.handleDisconnect)
	m.agent.On("roomInfoMsg", m.handleRoomInfo)
	return m
}

// Start begins processing room messages.
func (m *Manager) Start(ctx context.Context) { m.agent.Start(ctx) }

// Stop halts the manager.
func (m *Manager) Stop(ctx context.Context) error { return m.agent.Stop(ctx) }

// NewMember wraps a WebSocket connection as a room member and starts its
// send pump, which drains outboundCh into the connection outside of any
// room-mutating step.
func NewMember(connectionID, ownerID string, conn *websocket.Conn) *Member {
	m := &Member{ConnectionID: connectionID, OwnerID: ownerID, JoinedAt: time.Now(), outboundCh: make(chan []byte, 32)}
	go m.sendPump(conn)
	return m
}

func (m *Member) sendPump(conn *websocket.Conn) {
	for msg := range m.outboundCh {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// JoinRoom requests roomID admit member, creating the room if it does not
// exist yet.
func (m *Manager) JoinRoom(ctx context.Context, roomID string, member *Member) error {
	return m.agent.Tell(ctx, joinMsg{RoomID: roomID, Member: member})
}

// LeaveRoom removes connectionID from roomID, dropping the room if it
// becomes empty.
func (m *Manager) LeaveRoom(ctx context.Context, roomID, connectionID string) error {
	return m.agent.Tell(ctx, leaveMsg{RoomID: roomID, ConnectionID: connectionID})
}

// Broadcast delivers message to every member of roomID except
// excludeSender (pass "" to exclude no one). Delivery happens outside the
// manager's mutating step.
func (m *Manager) Broadcast(ctx context.Context, roomID string, message []byte, excludeSender string) error {
	return m.agent.Tell(ctx, broadcastMsg{RoomID: roomID, Message: message, ExcludeSender: excludeSender})
}

// ConnectionDisconnected removes connectionID from every room it was a
// member of, dropping now-empty rooms.
func (m *Manager) ConnectionDisconnected(ctx context.Context, connectionID string) error {
	return m.agent.Tell(ctx, disconnectMsg{ConnectionID: connectionID})
}

// GetRoomInfo returns roomID's member count and existence.
func (m *Manager) GetRoomInfo(ctx context.Context, roomID string) (RoomInfo, error) {
	v, err := m.agent.Ask(ctx, roomInfoMsg{RoomID: roomID})
	if err != nil {
		return RoomInfo{}, err
	}
	return v.(RoomInfo), nil
}

func (m *Manager) handleJoin(ctx context.Context, env agent.Envelope) {
	msg := env.Message.(joinMsg)
	connectionID := msg.Member.ConnectionID

	connRooms, ok := m.connectionRooms[connectionID]
	if !ok {
		connRooms = make(map[string]struct{})
		m.connectionRooms[connectionID] = connRooms
	}
	if len(connRooms) >= m.maxRoomsPerConnection {
		if m.logger != nil {
			m.logger.Warn(ctx, "connection at max room limit", map[string]interface{}{
				"connection_id": connectionID, "limit": m.maxRoomsPerConnection,
			})
		}
		return
	}

	room, ok := m.rooms[msg.RoomID]
	if !ok {
		room = newRoom(msg.RoomID)
		m.rooms[msg.RoomID] = room
	}
	if len(room.Members) >= m.maxMembersPerRoom {
		if m.logger != nil {
			m.logger.Warn(ctx, "room at max capacity", map[string]interface{}{
				"room_id": msg.RoomID, "limit": m.maxMembersPerRoom,
			})
		}
		return
	}

	room.Members[connectionID] = msg.Member
	room.touch()
	connRooms[msg.RoomID] = struct{}{}

	if m.logger != nil {
		m.logger.Info(ctx, "member joined room", map[string]interface{}{
			"room_id": msg.RoomID, "connection_id": connectionID, "member_count": len(room.Members),
		})
	}
}

func (m *Manager) handleLeave(ctx context.Context, env agent.Envelope) {
	msg := env.Message.(leaveMsg)
	m.removeMember(ctx, msg.RoomID, msg.ConnectionID)
}

func (m *Manager) removeMember(ctx context.Context, roomID, connectionID string) {
	if room, ok := m.rooms[roomID]; ok {
		delete(room.Members, connectionID)
		room.touch()
		if m.logger != nil {
			m.logger.Info(ctx, "member left room", map[string]interface{}{
				"room_id": roomID, "connection_id": connectionID, "member_count": len(room.Members),
			})
		}
		if len(room.Members) == 0 {
			delete(m.rooms, roomID)
		}
	}
	if rooms, ok := m.connectionRooms[connectionID]; ok {
		delete(rooms, roomID)
	}
}

func (m *Manager) handleBroadcast(ctx context.Context, env agent.Envelope) {
	msg := env.Message.(broadcastMsg)
	room, ok := m.rooms[msg.RoomID]
	if !ok {
		return
	}

	members := make([]*Member, 0, len(room.Members))
	for _, mem := range room.Members {
		if msg.ExcludeSender != "" && mem.ConnectionID == msg.ExcludeSender {
			continue
		}
		members = append(members, mem)
	}

	go func() {
		failed := 0
		for _, mem := range members {
			select {
			case mem.outboundCh <- msg.Message:
			default:
				failed++
			}
		}
		if failed > 0 && m.logger != nil {
			m.logger.Warn(ctx, "some room broadcast sends failed", map[string]interface{}{
				"room_id": msg.RoomID, "failed": failed, "total": len(members),
			})
		}
	}()
}

func (m *Manager) handleDisconnect(ctx context.Context, env agent.Envelope) {
	msg := env.Message.(disconnectMsg)
	roomIDs, ok := m.connectionRooms[msg.ConnectionID]
	if !ok {
		return
	}
	ids := make([]string, 0, len(roomIDs))
	for id := range roomIDs {
		ids = append(ids, id)
	}
	for _, roomID := range ids {
		m.removeMember(ctx, roomID, msg.ConnectionID)
	}
	delete(m.connectionRooms, msg.ConnectionID)
}

func (m *Manager) handleRoomInfo(_ context.Context, env agent.Envelope) {
	msg := env.Message.(roomInfoMsg)
	room, ok := m.rooms[msg.RoomID]
	if !ok {
		env.Reply(RoomInfo{RoomID: msg.RoomID, Exists: false})
		return
	}
	env.Reply(RoomInfo{RoomID: msg.RoomID, MemberCount: len(room.Members), Exists: true})
}
