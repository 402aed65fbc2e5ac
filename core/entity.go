package core

import (
	"context"
	"time"
)

type (
	Room struct {
		ID        string    `json:"id"`
		CreatedAt time.Time `json:"createdAt"`
	}

	// File is a named text buffer that belongs to exactly one room.
	File struct {
		ID        string    `json:"id"`
		RoomID    string    `json:"roomId"`
		Filename  string    `json:"filename"`
		Content   string    `json:"content"`
		CreatedAt time.Time `json:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// FileStore is the durable home of rooms and their files.
	//
	// Implementations must make EnsureRoom idempotent under concurrent callers
	// and enforce that a filename is unique within its room, reporting
	// ErrDuplicateFilename when it is not.
	FileStore interface {
		EnsureRoom(ctx context.Context, roomID string) error
		ListRooms(ctx context.Context) ([]Room, error)

		// ListFiles returns the files of a room ordered by creation time, oldest first.
		ListFiles(ctx context.Context, roomID string) ([]File, error)
		CreateFile(ctx context.Context, roomID, filename, content string) (*File, error)
		GetFile(ctx context.Context, fileID string) (*File, error)
		UpdateContent(ctx context.Context, fileID, content string) error
		RenameFile(ctx context.Context, fileID, filename string) error
		DeleteFile(ctx context.Context, fileID string) error

		RoomOfFile(ctx context.Context, fileID string) (string, error)
		CountFiles(ctx context.Context, roomID string) (int, error)
	}
)
