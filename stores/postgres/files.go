package postgres

import (
	"codecollab-server/core"
	"context"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

type fileStore struct {
	pool *pgxpool.Pool
}

// NewFileStore connects a pool of at most maxConns connections and applies
// the embedded migrations. An exhausted pool makes callers wait until their
// context is done rather than block forever.
func NewFileStore(ctx context.Context, url string, maxConns int) (*fileStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &fileStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *fileStore) migrate(ctx context.Context) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		b, err := migrations.ReadFile("migrations/" + e.Name())
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		logrus.WithField("file", e.Name()).Info("Migration applied")
	}
	return nil
}

func (s *fileStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *fileStore) EnsureRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}

	ct, err := s.pool.Exec(ctx,
		`INSERT INTO rooms (room_id) VALUES ($1) ON CONFLICT (room_id) DO NOTHING`, roomID)
	if err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to ensure room")
		return err
	}
	if ct.RowsAffected() > 0 {
		logrus.WithField("room_id", roomID).Info("Room created")
	}
	return nil
}

func (s *fileStore) ListRooms(ctx context.Context) ([]core.Room, error) {
	rows, err := s.pool.Query(ctx, `SELECT room_id, created_at FROM rooms ORDER BY room_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := make([]core.Room, 0)
	for rows.Next() {
		var room core.Room
		if err := rows.Scan(&room.ID, &room.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (s *fileStore) ListFiles(ctx context.Context, roomID string) ([]core.File, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT file_id, room_id, filename, content, created_at, updated_at
		FROM files
		WHERE room_id = $1
		ORDER BY created_at ASC, file_id ASC
	`, roomID)
	if err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to list files")
		return nil, err
	}
	defer rows.Close()

	files := make([]core.File, 0)
	for rows.Next() {
		var f core.File
		if err := rows.Scan(&f.ID, &f.RoomID, &f.Filename, &f.Content, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *fileStore) CreateFile(ctx context.Context, roomID, filename, content string) (*core.File, error) {
	log := logrus.WithFields(logrus.Fields{
		"room_id":  roomID,
		"filename": filename,
	})

	row := s.pool.QueryRow(ctx, `
		INSERT INTO files (file_id, room_id, filename, content)
		VALUES ($1, $2, $3, $4)
		RETURNING file_id, room_id, filename, content, created_at, updated_at
	`, ulid.Make().String(), roomID, filename, content)

	var f core.File
	if err := row.Scan(&f.ID, &f.RoomID, &f.Filename, &f.Content, &f.CreatedAt, &f.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			log.Warn("Filename already taken in room")
			return nil, core.ErrDuplicateFilename
		}
		log.WithError(err).Error("Failed to create file")
		return nil, err
	}

	log.WithField("file_id", f.ID).Info("File created successfully")
	return &f, nil
}

func (s *fileStore) GetFile(ctx context.Context, fileID string) (*core.File, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT file_id, room_id, filename, content, created_at, updated_at
		FROM files
		WHERE file_id = $1
	`, fileID)

	var f core.File
	if err := row.Scan(&f.ID, &f.RoomID, &f.Filename, &f.Content, &f.CreatedAt, &f.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrFileNotFound
		}
		return nil, err
	}
	return &f, nil
}

func (s *fileStore) UpdateContent(ctx context.Context, fileID, content string) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE files SET content = $2, updated_at = NOW() WHERE file_id = $1`, fileID, content)
	if err != nil {
		logrus.WithField("file_id", fileID).WithError(err).Error("Failed to update file content")
		return err
	}
	if ct.RowsAffected() == 0 {
		return core.ErrFileNotFound
	}
	return nil
}

func (s *fileStore) RenameFile(ctx context.Context, fileID, filename string) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE files SET filename = $2, updated_at = NOW() WHERE file_id = $1`, fileID, filename)
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrDuplicateFilename
		}
		logrus.WithField("file_id", fileID).WithError(err).Error("Failed to rename file")
		return err
	}
	if ct.RowsAffected() == 0 {
		return core.ErrFileNotFound
	}
	return nil
}

func (s *fileStore) DeleteFile(ctx context.Context, fileID string) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM files WHERE file_id = $1`, fileID)
	if err != nil {
		logrus.WithField("file_id", fileID).WithError(err).Error("Failed to delete file")
		return err
	}
	if ct.RowsAffected() == 0 {
		return core.ErrFileNotFound
	}
	return nil
}

func (s *fileStore) RoomOfFile(ctx context.Context, fileID string) (string, error) {
	var roomID string
	err := s.pool.QueryRow(ctx, `SELECT room_id FROM files WHERE file_id = $1`, fileID).Scan(&roomID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", core.ErrFileNotFound
		}
		return "", err
	}
	return roomID, nil
}

func (s *fileStore) CountFiles(ctx context.Context, roomID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM files WHERE room_id = $1`, roomID).Scan(&count)
	return count, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
