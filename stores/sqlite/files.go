package sqlite

import (
	"codecollab-server/core"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	room_id TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
	file_id TEXT PRIMARY KEY,
	room_id TEXT NOT NULL REFERENCES rooms(room_id),
	filename TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	UNIQUE (room_id, filename)
);

CREATE INDEX IF NOT EXISTS idx_files_room_created ON files(room_id, created_at);
`

type fileStore struct {
	db *sql.DB
}

// NewFileStore opens the database at dataSourceName and creates the schema.
// maxConns bounds the connection pool; callers waiting on an exhausted pool
// give up when their context expires.
func NewFileStore(dataSourceName string, maxConns int) (*fileStore, error) {
	db, err := sql.Open(driverName, withPragmas(dataSourceName))
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"dataSourceName": dataSourceName,
		"driver":         driverName,
	}).Info("SQLite store initialized")
	return &fileStore{db}, nil
}

func (s *fileStore) Close() error {
	return s.db.Close()
}

func (s *fileStore) EnsureRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}
	log := logrus.WithField("room_id", roomID)

	result, err := s.db.ExecContext(ctx,
		"INSERT INTO rooms (room_id, created_at) VALUES (?, ?) ON CONFLICT(room_id) DO NOTHING",
		roomID, time.Now().UnixMilli())
	if err != nil {
		log.WithError(err).Error("Failed to ensure room")
		return err
	}
	if n, _ := result.RowsAffected(); n > 0 {
		log.Info("Room created")
	}
	return nil
}

func (s *fileStore) ListRooms(ctx context.Context) ([]core.Room, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT room_id, created_at FROM rooms ORDER BY room_id")
	if err != nil {
		logrus.WithError(err).Error("Failed to list rooms")
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("Failed to close room rows")
		}
	}()

	rooms := make([]core.Room, 0)
	for rows.Next() {
		var room core.Room
		var createdAt int64
		if err := rows.Scan(&room.ID, &createdAt); err != nil {
			return nil, err
		}
		room.CreatedAt = time.UnixMilli(createdAt)
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (s *fileStore) ListFiles(ctx context.Context, roomID string) ([]core.File, error) {
	log := logrus.WithField("room_id", roomID)
	log.Debug("Listing files for room")

	rows, err := s.db.QueryContext(ctx,
		"SELECT file_id, room_id, filename, content, created_at, updated_at FROM files WHERE room_id = ? ORDER BY created_at ASC, file_id ASC",
		roomID)
	if err != nil {
		log.WithError(err).Error("Failed to list files")
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			log.WithError(cerr).Warn("Failed to close file rows")
		}
	}()

	files := make([]core.File, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			log.WithError(err).Error("Failed to scan file")
			return nil, err
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

func (s *fileStore) CreateFile(ctx context.Context, roomID, filename, content string) (*core.File, error) {
	now := time.Now()
	f := &core.File{
		ID:        ulid.Make().String(),
		RoomID:    roomID,
		Filename:  filename,
		Content:   content,
		CreatedAt: time.UnixMilli(now.UnixMilli()),
		UpdatedAt: time.UnixMilli(now.UnixMilli()),
	}
	log := logrus.WithFields(logrus.Fields{
		"file_id":        f.ID,
		"room_id":        roomID,
		"filename":       filename,
		"content_length": len(content),
	})

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO files (file_id, room_id, filename, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		f.ID, f.RoomID, f.Filename, f.Content, f.CreatedAt.UnixMilli(), f.UpdatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			log.Warn("Filename already taken in room")
			return nil, core.ErrDuplicateFilename
		}
		log.WithError(err).Error("Failed to create file")
		return nil, err
	}

	log.Info("File created successfully")
	return f, nil
}

func (s *fileStore) GetFile(ctx context.Context, fileID string) (*core.File, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT file_id, room_id, filename, content, created_at, updated_at FROM files WHERE file_id = ?",
		fileID)
	f, err := scanFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrFileNotFound
		}
		logrus.WithField("file_id", fileID).WithError(err).Error("Failed to retrieve file")
		return nil, err
	}
	return f, nil
}

func (s *fileStore) UpdateContent(ctx context.Context, fileID, content string) error {
	log := logrus.WithFields(logrus.Fields{
		"file_id":        fileID,
		"content_length": len(content),
	})
	log.Debug("Updating file content")

	result, err := s.db.ExecContext(ctx,
		"UPDATE files SET content = ?, updated_at = ? WHERE file_id = ?",
		content, time.Now().UnixMilli(), fileID)
	if err != nil {
		log.WithError(err).Error("Failed to update file content")
		return err
	}
	return expectOneRow(result)
}

func (s *fileStore) RenameFile(ctx context.Context, fileID, filename string) error {
	log := logrus.WithFields(logrus.Fields{
		"file_id":  fileID,
		"filename": filename,
	})

	result, err := s.db.ExecContext(ctx,
		"UPDATE files SET filename = ?, updated_at = ? WHERE file_id = ?",
		filename, time.Now().UnixMilli(), fileID)
	if err != nil {
		if isUniqueViolation(err) {
			log.Warn("Filename already taken in room")
			return core.ErrDuplicateFilename
		}
		log.WithError(err).Error("Failed to rename file")
		return err
	}
	if err := expectOneRow(result); err != nil {
		return err
	}

	log.Info("File renamed successfully")
	return nil
}

func (s *fileStore) DeleteFile(ctx context.Context, fileID string) error {
	log := logrus.WithField("file_id", fileID)

	result, err := s.db.ExecContext(ctx, "DELETE FROM files WHERE file_id = ?", fileID)
	if err != nil {
		log.WithError(err).Error("Failed to delete file")
		return err
	}
	if err := expectOneRow(result); err != nil {
		return err
	}

	log.Info("File deleted successfully")
	return nil
}

func (s *fileStore) RoomOfFile(ctx context.Context, fileID string) (string, error) {
	var roomID string
	err := s.db.QueryRowContext(ctx, "SELECT room_id FROM files WHERE file_id = ?", fileID).Scan(&roomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			logrus.WithField("file_id", fileID).Warn("File with specified ID not found")
			return "", core.ErrFileNotFound
		}
		return "", err
	}
	return roomID, nil
}

func (s *fileStore) CountFiles(ctx context.Context, roomID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM files WHERE room_id = ?", roomID).Scan(&count)
	if err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to count files")
		return 0, err
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(row scanner) (*core.File, error) {
	var f core.File
	var createdAt, updatedAt int64
	if err := row.Scan(&f.ID, &f.RoomID, &f.Filename, &f.Content, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	f.CreatedAt = time.UnixMilli(createdAt)
	f.UpdatedAt = time.UnixMilli(updatedAt)
	return &f, nil
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrFileNotFound
	}
	return nil
}
