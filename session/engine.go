// Package session implements the synchronization engine behind the editor:
// room membership and presence, real-time fan-out of edits, debounced
// persistence, and the file lifecycle rules.
package session

import (
	"codecollab-server/coalescer"
	"codecollab-server/core"
	"codecollab-server/metrics"
	"codecollab-server/presence"
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

type Engine struct {
	store    core.FileStore
	gateway  Broadcaster
	presence *presence.Registry
	writes   *coalescer.Coalescer

	// rooms collapses concurrent auto-creation of the same room id.
	rooms singleflight.Group

	// presenceMu keeps member-list broadcasts of a room in the order the
	// registry changed.
	presenceMu sync.Mutex

	// deleteMu makes the count-then-delete of the last-file rule atomic.
	deleteMu sync.Mutex
}

func NewEngine(store core.FileStore, gateway Broadcaster, writes *coalescer.Coalescer) *Engine {
	return &Engine{
		store:    store,
		gateway:  gateway,
		presence: presence.NewRegistry(),
		writes:   writes,
	}
}

// Connect starts the session of a newly connected client. The session is
// not in any room until it joins one.
func (e *Engine) Connect(connID string) *Session {
	logrus.WithField("conn_id", connID).Debug("User connected")
	return &Session{engine: e, id: connID}
}

// ActiveRooms returns the number of connected participants per room.
func (e *Engine) ActiveRooms() map[string]int {
	return e.presence.Rooms()
}

// Members returns the display names present in roomID in join order.
func (e *Engine) Members(roomID string) []string {
	return e.presence.MembersOf(roomID)
}

func (e *Engine) ListRooms(ctx context.Context) ([]core.Room, error) {
	return e.store.ListRooms(ctx)
}

// ListFiles returns the files of roomID oldest first, creating the room if
// it does not exist yet.
func (e *Engine) ListFiles(ctx context.Context, roomID string) ([]core.File, error) {
	if err := core.Require("roomId", roomID); err != nil {
		return nil, err
	}
	if err := e.ensureRoom(ctx, roomID); err != nil {
		return nil, err
	}
	return e.store.ListFiles(ctx, roomID)
}

// CreateFile adds filename to roomID and announces it to the room.
func (e *Engine) CreateFile(ctx context.Context, roomID, filename, content string) (*core.File, error) {
	if err := core.Require("roomId", roomID, "filename", filename); err != nil {
		return nil, err
	}
	if err := e.ensureRoom(ctx, roomID); err != nil {
		return nil, err
	}

	f, err := e.store.CreateFile(ctx, roomID, filename, content)
	if err != nil {
		return nil, err
	}

	e.broadcast(roomID, EventFileCreated, f)
	return f, nil
}

// UpdateFile overwrites the content of fileID. It is the out-of-band save
// path and does not notify the room. Overwriting an id that matches no file
// changes nothing and is not an error.
func (e *Engine) UpdateFile(ctx context.Context, fileID, content string) error {
	if err := core.Require("fileId", fileID); err != nil {
		return err
	}

	err := e.store.UpdateContent(ctx, fileID, content)
	if errors.Is(err, core.ErrFileNotFound) {
		logrus.WithField("file_id", fileID).Debug("Save matched no file")
		return nil
	}
	return err
}

func (e *Engine) RenameFile(ctx context.Context, fileID, newFilename string) error {
	if err := core.Require("fileId", fileID, "newFilename", newFilename); err != nil {
		return err
	}

	roomID, err := e.store.RoomOfFile(ctx, fileID)
	if err != nil {
		return err
	}
	if err := e.store.RenameFile(ctx, fileID, newFilename); err != nil {
		return err
	}

	e.broadcast(roomID, EventFileRenamed, FileRenamed{FileID: fileID, NewFilename: newFilename})
	return nil
}

// DeleteFile removes fileID unless it is the only file left in its room.
// A pending debounced write of the file is dropped.
func (e *Engine) DeleteFile(ctx context.Context, fileID string) error {
	if err := core.Require("fileId", fileID); err != nil {
		return err
	}

	roomID, err := e.deleteFile(ctx, fileID)
	if err != nil {
		return err
	}

	e.writes.Cancel(fileID)
	e.broadcast(roomID, EventFileDeleted, fileID)
	return nil
}

func (e *Engine) deleteFile(ctx context.Context, fileID string) (string, error) {
	e.deleteMu.Lock()
	defer e.deleteMu.Unlock()

	roomID, err := e.store.RoomOfFile(ctx, fileID)
	if err != nil {
		return "", err
	}

	count, err := e.store.CountFiles(ctx, roomID)
	if err != nil {
		return "", err
	}
	if count <= 1 {
		logrus.WithFields(logrus.Fields{
			"file_id": fileID,
			"room_id": roomID,
		}).Info("Refusing to delete the last file in the room")
		return "", core.ErrLastFile
	}

	if err := e.store.DeleteFile(ctx, fileID); err != nil {
		return "", err
	}
	return roomID, nil
}

func (e *Engine) ensureRoom(ctx context.Context, roomID string) error {
	_, err, _ := e.rooms.Do(roomID, func() (any, error) {
		return nil, e.store.EnsureRoom(ctx, roomID)
	})
	return err
}

func (e *Engine) joinPresence(roomID, connID, displayName string) []string {
	e.presenceMu.Lock()
	defer e.presenceMu.Unlock()

	names := e.presence.Join(roomID, connID, displayName)
	e.broadcast(roomID, EventUserJoined, names)
	return names
}

func (e *Engine) leavePresence(roomID, connID string) []string {
	e.presenceMu.Lock()
	defer e.presenceMu.Unlock()

	names := e.presence.Leave(roomID, connID)
	e.broadcast(roomID, EventUserJoined, names)
	return names
}

func (e *Engine) broadcast(roomID, event string, payload any) {
	metrics.Broadcasts.WithLabelValues(event).Inc()
	if err := e.gateway.EmitRoom(roomID, event, payload); err != nil {
		metrics.BroadcastFailures.WithLabelValues(event).Inc()
		logrus.WithFields(logrus.Fields{
			"room_id": roomID,
			"event":   event,
		}).WithError(err).Warn("Broadcast failed")
	}
}

func (e *Engine) broadcastOthers(connID, roomID, event string, payload any) {
	metrics.Broadcasts.WithLabelValues(event).Inc()
	if err := e.gateway.EmitOthers(connID, roomID, event, payload); err != nil {
		metrics.BroadcastFailures.WithLabelValues(event).Inc()
		logrus.WithFields(logrus.Fields{
			"room_id": roomID,
			"conn_id": connID,
			"event":   event,
		}).WithError(err).Warn("Broadcast failed")
	}
}
