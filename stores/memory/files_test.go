package memory

import (
	"codecollab-server/core"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func newStoreWithRoom(t *testing.T, roomID string) *fileStore {
	t.Helper()
	store := NewFileStore()
	if err := store.EnsureRoom(context.Background(), roomID); err != nil {
		t.Fatalf("EnsureRoom() failed: %v", err)
	}
	return store
}

func TestEnsureRoom_Idempotent(t *testing.T) {
	store := NewFileStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.EnsureRoom(ctx, "room-1"); err != nil {
			t.Fatalf("EnsureRoom() failed: %v", err)
		}
	}

	rooms, err := store.ListRooms(ctx)
	if err != nil {
		t.Fatalf("ListRooms() failed: %v", err)
	}
	if len(rooms) != 1 {
		t.Errorf("Expected 1 room, got %d", len(rooms))
	}
}

func TestEnsureRoom_EmptyID(t *testing.T) {
	store := NewFileStore()
	if err := store.EnsureRoom(context.Background(), ""); err == nil {
		t.Error("EnsureRoom() should reject an empty room id")
	}
}

func TestEnsureRoom_ConcurrentCallers(t *testing.T) {
	store := NewFileStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.EnsureRoom(ctx, "racy-room")
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("EnsureRoom() failed under concurrency: %v", err)
		}
	}

	rooms, _ := store.ListRooms(ctx)
	if len(rooms) != 1 {
		t.Errorf("Expected exactly 1 room record, got %d", len(rooms))
	}
}

func TestCreateFile_Success(t *testing.T) {
	store := newStoreWithRoom(t, "room-1")
	ctx := context.Background()

	f, err := store.CreateFile(ctx, "room-1", "main.go", "package main")
	if err != nil {
		t.Fatalf("CreateFile() failed: %v", err)
	}

	if len(f.ID) != 26 {
		t.Errorf("CreateFile() returned invalid ID length: got %d, want 26", len(f.ID))
	}
	if f.RoomID != "room-1" || f.Filename != "main.go" || f.Content != "package main" {
		t.Errorf("CreateFile() returned unexpected record: %+v", f)
	}
	if f.CreatedAt.IsZero() || f.UpdatedAt.IsZero() {
		t.Error("CreateFile() did not set timestamps")
	}
}

func TestCreateFile_UnknownRoom(t *testing.T) {
	store := NewFileStore()
	if _, err := store.CreateFile(context.Background(), "nope", "a.txt", ""); err == nil {
		t.Error("CreateFile() should fail for a room that was never ensured")
	}
}

func TestCreateFile_DuplicateFilename(t *testing.T) {
	store := newStoreWithRoom(t, "room-1")
	ctx := context.Background()

	if _, err := store.CreateFile(ctx, "room-1", "main.go", ""); err != nil {
		t.Fatalf("CreateFile() failed: %v", err)
	}
	_, err := store.CreateFile(ctx, "room-1", "main.go", "")
	if !errors.Is(err, core.ErrDuplicateFilename) {
		t.Errorf("Expected ErrDuplicateFilename, got %v", err)
	}

	// Same name in a different room is fine.
	if err := store.EnsureRoom(ctx, "room-2"); err != nil {
		t.Fatalf("EnsureRoom() failed: %v", err)
	}
	if _, err := store.CreateFile(ctx, "room-2", "main.go", ""); err != nil {
		t.Errorf("CreateFile() in another room failed: %v", err)
	}
}

func TestListFiles_OrderedByCreation(t *testing.T) {
	store := newStoreWithRoom(t, "room-1")
	ctx := context.Background()

	var want []string
	for i := 0; i < 5; i++ {
		f, err := store.CreateFile(ctx, "room-1", fmt.Sprintf("file-%d.txt", i), "")
		if err != nil {
			t.Fatalf("CreateFile() failed: %v", err)
		}
		want = append(want, f.ID)
	}

	files, err := store.ListFiles(ctx, "room-1")
	if err != nil {
		t.Fatalf("ListFiles() failed: %v", err)
	}
	if len(files) != len(want) {
		t.Fatalf("Expected %d files, got %d", len(want), len(files))
	}
	for i, f := range files {
		if f.ID != want[i] {
			t.Errorf("ListFiles()[%d] = %s, want %s", i, f.ID, want[i])
		}
	}
}

func TestListFiles_EmptyRoom(t *testing.T) {
	store := NewFileStore()
	files, err := store.ListFiles(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("ListFiles() failed: %v", err)
	}
	if files == nil || len(files) != 0 {
		t.Errorf("Expected empty non-nil slice, got %#v", files)
	}
}

func TestUpdateContent(t *testing.T) {
	store := newStoreWithRoom(t, "room-1")
	ctx := context.Background()

	f, _ := store.CreateFile(ctx, "room-1", "a.txt", "old")
	if err := store.UpdateContent(ctx, f.ID, "new"); err != nil {
		t.Fatalf("UpdateContent() failed: %v", err)
	}

	got, err := store.GetFile(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetFile() failed: %v", err)
	}
	if got.Content != "new" {
		t.Errorf("Content mismatch: got %q, want %q", got.Content, "new")
	}

	if err := store.UpdateContent(ctx, "missing", "x"); !errors.Is(err, core.ErrFileNotFound) {
		t.Errorf("Expected ErrFileNotFound, got %v", err)
	}
}

func TestRenameFile(t *testing.T) {
	store := newStoreWithRoom(t, "room-1")
	ctx := context.Background()

	a, _ := store.CreateFile(ctx, "room-1", "a.txt", "")
	_, _ = store.CreateFile(ctx, "room-1", "b.txt", "")

	if err := store.RenameFile(ctx, a.ID, "c.txt"); err != nil {
		t.Fatalf("RenameFile() failed: %v", err)
	}
	if err := store.RenameFile(ctx, a.ID, "b.txt"); !errors.Is(err, core.ErrDuplicateFilename) {
		t.Errorf("Expected ErrDuplicateFilename, got %v", err)
	}
	// Renaming onto its own name is not a conflict.
	if err := store.RenameFile(ctx, a.ID, "c.txt"); err != nil {
		t.Errorf("RenameFile() onto own name failed: %v", err)
	}
	if err := store.RenameFile(ctx, "missing", "x"); !errors.Is(err, core.ErrFileNotFound) {
		t.Errorf("Expected ErrFileNotFound, got %v", err)
	}
}

func TestDeleteFileAndCount(t *testing.T) {
	store := newStoreWithRoom(t, "room-1")
	ctx := context.Background()

	a, _ := store.CreateFile(ctx, "room-1", "a.txt", "")
	_, _ = store.CreateFile(ctx, "room-1", "b.txt", "")

	count, err := store.CountFiles(ctx, "room-1")
	if err != nil || count != 2 {
		t.Fatalf("CountFiles() = %d, %v; want 2", count, err)
	}

	roomID, err := store.RoomOfFile(ctx, a.ID)
	if err != nil || roomID != "room-1" {
		t.Fatalf("RoomOfFile() = %q, %v; want room-1", roomID, err)
	}

	if err := store.DeleteFile(ctx, a.ID); err != nil {
		t.Fatalf("DeleteFile() failed: %v", err)
	}
	if err := store.DeleteFile(ctx, a.ID); !errors.Is(err, core.ErrFileNotFound) {
		t.Errorf("Expected ErrFileNotFound on second delete, got %v", err)
	}
	if _, err := store.RoomOfFile(ctx, a.ID); !errors.Is(err, core.ErrFileNotFound) {
		t.Errorf("Expected ErrFileNotFound from RoomOfFile, got %v", err)
	}

	count, _ = store.CountFiles(ctx, "room-1")
	if count != 1 {
		t.Errorf("Expected 1 file after delete, got %d", count)
	}
}
