package memory

import (
	"codecollab-server/core"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type fileStore struct {
	mu    sync.RWMutex
	rooms map[string]core.Room
	files map[string]core.File
}

func NewFileStore() *fileStore {
	return &fileStore{
		rooms: make(map[string]core.Room),
		files: make(map[string]core.File),
	}
}

func (s *fileStore) EnsureRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		s.rooms[roomID] = core.Room{ID: roomID, CreatedAt: time.Now()}
		logrus.WithField("room_id", roomID).Info("Room created")
	}
	return nil
}

func (s *fileStore) ListRooms(ctx context.Context) ([]core.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]core.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].ID < rooms[j].ID
	})
	return rooms, nil
}

func (s *fileStore) ListFiles(ctx context.Context, roomID string) ([]core.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files := make([]core.File, 0)
	for _, f := range s.files {
		if f.RoomID == roomID {
			files = append(files, f)
		}
	}
	// ULIDs carry the creation time, so they break ties within one millisecond.
	sort.Slice(files, func(i, j int) bool {
		if files[i].CreatedAt.Equal(files[j].CreatedAt) {
			return files[i].ID < files[j].ID
		}
		return files[i].CreatedAt.Before(files[j].CreatedAt)
	})
	return files, nil
}

func (s *fileStore) CreateFile(ctx context.Context, roomID, filename, content string) (*core.File, error) {
	log := logrus.WithFields(logrus.Fields{
		"room_id":  roomID,
		"filename": filename,
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; !ok {
		return nil, fmt.Errorf("room %s does not exist", roomID)
	}
	if s.filenameTaken(roomID, filename, "") {
		log.Warn("Filename already taken in room")
		return nil, core.ErrDuplicateFilename
	}

	now := time.Now()
	f := core.File{
		ID:        ulid.Make().String(),
		RoomID:    roomID,
		Filename:  filename,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.files[f.ID] = f

	log.WithField("file_id", f.ID).Info("File created successfully")
	return &f, nil
}

func (s *fileStore) GetFile(ctx context.Context, fileID string) (*core.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.files[fileID]
	if !ok {
		return nil, core.ErrFileNotFound
	}
	return &f, nil
}

func (s *fileStore) UpdateContent(ctx context.Context, fileID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[fileID]
	if !ok {
		return core.ErrFileNotFound
	}
	f.Content = content
	f.UpdatedAt = time.Now()
	s.files[fileID] = f
	return nil
}

func (s *fileStore) RenameFile(ctx context.Context, fileID, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[fileID]
	if !ok {
		return core.ErrFileNotFound
	}
	if s.filenameTaken(f.RoomID, filename, fileID) {
		return core.ErrDuplicateFilename
	}
	f.Filename = filename
	f.UpdatedAt = time.Now()
	s.files[fileID] = f
	return nil
}

func (s *fileStore) DeleteFile(ctx context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[fileID]; !ok {
		return core.ErrFileNotFound
	}
	delete(s.files, fileID)
	logrus.WithField("file_id", fileID).Info("File deleted successfully")
	return nil
}

func (s *fileStore) RoomOfFile(ctx context.Context, fileID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.files[fileID]
	if !ok {
		return "", core.ErrFileNotFound
	}
	return f.RoomID, nil
}

func (s *fileStore) CountFiles(ctx context.Context, roomID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, f := range s.files {
		if f.RoomID == roomID {
			count++
		}
	}
	return count, nil
}

// filenameTaken must be called with s.mu held.
func (s *fileStore) filenameTaken(roomID, filename, exceptID string) bool {
	for id, f := range s.files {
		if id != exceptID && f.RoomID == roomID && f.Filename == filename {
			return true
		}
	}
	return false
}
