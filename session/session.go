package session

import (
	"codecollab-server/core"
	"codecollab-server/metrics"
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Session is the state of one client connection: Disconnected until Join,
// Joined to exactly one room afterwards, and Disconnected again after Leave
// or Disconnect. Its handlers run one at a time, in arrival order.
type Session struct {
	engine *Engine
	id     string

	mu     sync.Mutex
	roomID string
}

func (s *Session) ID() string {
	return s.id
}

// Room returns the joined room id, or "" when not joined.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Join makes the connection a participant of roomID under displayName and
// announces the updated member list to the whole room, joiner included.
// Joining another room first leaves the current one.
func (s *Session) Join(ctx context.Context, roomID, displayName string) ([]string, error) {
	if err := core.Require("roomId", roomID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{
		"conn_id": s.id,
		"room_id": roomID,
	})

	// Presence works without the durable record, so a store failure here
	// is logged and the join goes ahead.
	if err := s.engine.ensureRoom(ctx, roomID); err != nil {
		log.WithError(err).Error("Error ensuring room exists")
	}

	switch s.roomID {
	case roomID:
	case "":
		metrics.Participants.Inc()
	default:
		s.leaveLocked()
		metrics.Participants.Inc()
	}

	s.roomID = roomID
	s.engine.gateway.Join(s.id, roomID)
	names := s.engine.joinPresence(roomID, s.id, displayName)

	log.WithField("users", len(names)).Info("User joined room")
	return names, nil
}

// Leave is the explicit counterpart of Join. It is a no-op when the
// connection is not in a room.
func (s *Session) Leave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaveLocked()
}

// Disconnect cleans up after the transport lost the connection. Pending
// writes of files the connection edited are left to flush.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaveLocked()
	logrus.WithField("conn_id", s.id).Debug("User disconnected")
}

func (s *Session) leaveLocked() {
	if s.roomID == "" {
		return
	}
	roomID := s.roomID

	names := s.engine.leavePresence(roomID, s.id)
	s.engine.gateway.Leave(s.id, roomID)
	s.roomID = ""
	metrics.Participants.Dec()

	logrus.WithFields(logrus.Fields{
		"conn_id": s.id,
		"room_id": roomID,
		"users":   len(names),
	}).Info("User left room")
}

// Edit relays content to every other participant of roomID right away and,
// when fileID is set, schedules it as the file's next debounced write.
func (s *Session) Edit(roomID, fileID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	roomID = s.resolveRoom(roomID)
	if err := core.Require("roomId", roomID); err != nil {
		return err
	}

	s.engine.broadcastOthers(s.id, roomID, EventCodeUpdate, CodeUpdate{FileID: fileID, Code: content})

	if fileID != "" {
		s.engine.writes.Schedule(fileID, content, s.engine.writes.Window())
	}
	return nil
}

// Typing tells every other participant of roomID that displayName is typing.
func (s *Session) Typing(roomID, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	roomID = s.resolveRoom(roomID)
	if err := core.Require("roomId", roomID); err != nil {
		return err
	}

	s.engine.broadcastOthers(s.id, roomID, EventUserTyping, displayName)
	return nil
}

// ChangeLanguage announces language to the whole room, sender included.
func (s *Session) ChangeLanguage(roomID, language string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	roomID = s.resolveRoom(roomID)
	if err := core.Require("roomId", roomID); err != nil {
		return err
	}

	s.engine.broadcast(roomID, EventLanguageUpdate, language)
	return nil
}

// resolveRoom falls back to the joined room when an event names none.
func (s *Session) resolveRoom(roomID string) string {
	if roomID != "" {
		return roomID
	}
	return s.roomID
}
