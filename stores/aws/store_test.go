package aws

import (
	"bytes"
	"codecollab-server/core"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeObjects is an in-memory stand-in for the S3 API.
type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte)}
}

func (f *fakeObjects) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeObjects) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[aws.ToString(params.Key)] = data
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	delete(f.objects, aws.ToString(params.Key))
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeObjects) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(params.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func TestS3Store_EnsureRoomAndList(t *testing.T) {
	objects := newFakeObjects()
	store := newStore(objects, "bucket")
	ctx := context.Background()

	for _, id := range []string{"room/with/slashes", "room-1", "room-1"} {
		if err := store.EnsureRoom(ctx, id); err != nil {
			t.Fatalf("EnsureRoom(%q) failed: %v", id, err)
		}
	}

	rooms, err := store.ListRooms(ctx)
	if err != nil {
		t.Fatalf("ListRooms() failed: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("Expected 2 rooms, got %d", len(rooms))
	}

	ids := map[string]bool{}
	for _, r := range rooms {
		ids[r.ID] = true
	}
	if !ids["room/with/slashes"] || !ids["room-1"] {
		t.Errorf("Unexpected rooms: %+v", rooms)
	}
}

func TestS3Store_FileLifecycle(t *testing.T) {
	store := newStore(newFakeObjects(), "bucket")
	ctx := context.Background()

	if err := store.EnsureRoom(ctx, "room-1"); err != nil {
		t.Fatalf("EnsureRoom() failed: %v", err)
	}

	a, err := store.CreateFile(ctx, "room-1", "a.py", "print(1)")
	if err != nil {
		t.Fatalf("CreateFile() failed: %v", err)
	}
	b, err := store.CreateFile(ctx, "room-1", "b.py", "")
	if err != nil {
		t.Fatalf("CreateFile() failed: %v", err)
	}
	if _, err := store.CreateFile(ctx, "room-1", "a.py", ""); !errors.Is(err, core.ErrDuplicateFilename) {
		t.Errorf("Expected ErrDuplicateFilename, got %v", err)
	}

	files, err := store.ListFiles(ctx, "room-1")
	if err != nil {
		t.Fatalf("ListFiles() failed: %v", err)
	}
	if len(files) != 2 || files[0].ID != a.ID || files[1].ID != b.ID {
		t.Errorf("ListFiles() order mismatch: %+v", files)
	}

	if err := store.UpdateContent(ctx, a.ID, "print(2)"); err != nil {
		t.Fatalf("UpdateContent() failed: %v", err)
	}
	if err := store.RenameFile(ctx, a.ID, "b.py"); !errors.Is(err, core.ErrDuplicateFilename) {
		t.Errorf("Expected ErrDuplicateFilename, got %v", err)
	}
	if err := store.RenameFile(ctx, a.ID, "main.py"); err != nil {
		t.Fatalf("RenameFile() failed: %v", err)
	}

	got, err := store.GetFile(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetFile() failed: %v", err)
	}
	if got.Content != "print(2)" || got.Filename != "main.py" {
		t.Errorf("GetFile() mismatch: %+v", got)
	}

	roomID, err := store.RoomOfFile(ctx, b.ID)
	if err != nil || roomID != "room-1" {
		t.Errorf("RoomOfFile() = %q, %v", roomID, err)
	}

	if err := store.DeleteFile(ctx, b.ID); err != nil {
		t.Fatalf("DeleteFile() failed: %v", err)
	}
	if _, err := store.RoomOfFile(ctx, b.ID); !errors.Is(err, core.ErrFileNotFound) {
		t.Errorf("Expected ErrFileNotFound after delete, got %v", err)
	}
	count, err := store.CountFiles(ctx, "room-1")
	if err != nil || count != 1 {
		t.Errorf("CountFiles() = %d, %v; want 1", count, err)
	}
}

func TestS3Store_UnknownFile(t *testing.T) {
	store := newStore(newFakeObjects(), "bucket")
	ctx := context.Background()

	if err := store.UpdateContent(ctx, "missing", "x"); !errors.Is(err, core.ErrFileNotFound) {
		t.Errorf("UpdateContent: expected ErrFileNotFound, got %v", err)
	}
	if err := store.DeleteFile(ctx, "missing"); !errors.Is(err, core.ErrFileNotFound) {
		t.Errorf("DeleteFile: expected ErrFileNotFound, got %v", err)
	}
	if _, err := store.GetFile(ctx, "missing"); !errors.Is(err, core.ErrFileNotFound) {
		t.Errorf("GetFile: expected ErrFileNotFound, got %v", err)
	}
}

func TestS3Store_CreateInUnknownRoom(t *testing.T) {
	store := newStore(newFakeObjects(), "bucket")
	if _, err := store.CreateFile(context.Background(), "ghost", "a.txt", ""); err == nil {
		t.Error("CreateFile() should fail for a room without a manifest")
	}
}

func TestS3Store_PutFailure(t *testing.T) {
	objects := newFakeObjects()
	objects.putErr = errors.New("throttled")
	store := newStore(objects, "bucket")

	if err := store.EnsureRoom(context.Background(), "room-1"); err == nil {
		t.Error("EnsureRoom() should surface a put failure")
	}
}

func TestS3Store_ConcurrentCreates(t *testing.T) {
	store := newStore(newFakeObjects(), "bucket")
	ctx := context.Background()
	if err := store.EnsureRoom(ctx, "room-1"); err != nil {
		t.Fatalf("EnsureRoom() failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = store.CreateFile(ctx, "room-1", string(rune('a'+i))+".txt", "")
		}(i)
	}
	wg.Wait()

	count, _ := store.CountFiles(ctx, "room-1")
	if count != 10 {
		t.Errorf("Expected 10 files after concurrent creates, got %d", count)
	}
}
