package aws

import (
	"bytes"
	"codecollab-server/core"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const (
	roomPrefix = "rooms/"
	filePrefix = "files/"
)

type objectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// manifest is the object stored per room. Files keep their creation order.
type manifest struct {
	ID        string      `json:"id"`
	CreatedAt time.Time   `json:"createdAt"`
	Files     []core.File `json:"files"`
}

// s3Store keeps one manifest object per room plus a small pointer object per
// file naming its room. Read-modify-write of a manifest is serialized per room
// inside this process.
type s3Store struct {
	client objectAPI
	bucket string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a new S3-based store using the default AWS config chain.
func NewStore(ctx context.Context, bucketName string) (*s3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return newStore(s3.NewFromConfig(cfg), bucketName), nil
}

func newStore(client objectAPI, bucket string) *s3Store {
	return &s3Store{
		client: client,
		bucket: bucket,
		locks:  make(map[string]*sync.Mutex),
	}
}

func roomKey(roomID string) string {
	return roomPrefix + url.PathEscape(roomID) + ".json"
}

func fileKey(fileID string) string {
	return filePrefix + url.PathEscape(fileID)
}

func (s *s3Store) lockRoom(roomID string) func() {
	s.mu.Lock()
	l, ok := s.locks[roomID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[roomID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (s *s3Store) getObject(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (s *s3Store) putObject(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

func isNoSuchKey(err error) bool {
	var nsk *s3types.NoSuchKey
	return errors.As(err, &nsk)
}

// loadManifest returns (nil, nil) when the room has no manifest yet.
func (s *s3Store) loadManifest(ctx context.Context, roomID string) (*manifest, error) {
	data, err := s.getObject(ctx, roomKey(roomID))
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get room %s: %w", roomID, err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room %s: %w", roomID, err)
	}
	return &m, nil
}

func (s *s3Store) saveManifest(ctx context.Context, m *manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal room %s: %w", m.ID, err)
	}
	if err := s.putObject(ctx, roomKey(m.ID), data); err != nil {
		return fmt.Errorf("failed to save room %s: %w", m.ID, err)
	}
	return nil
}

func (s *s3Store) EnsureRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}
	defer s.lockRoom(roomID)()

	m, err := s.loadManifest(ctx, roomID)
	if err != nil {
		return err
	}
	if m != nil {
		return nil
	}

	m = &manifest{ID: roomID, CreatedAt: time.Now().UTC(), Files: []core.File{}}
	if err := s.saveManifest(ctx, m); err != nil {
		return err
	}
	logrus.WithField("room_id", roomID).Info("Room created")
	return nil
}

func (s *s3Store) ListRooms(ctx context.Context) ([]core.Room, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(roomPrefix),
	})

	rooms := make([]core.Room, 0)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list rooms: %w", err)
		}
		for _, object := range page.Contents {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(object.Key), roomPrefix), ".json")
			roomID, err := url.PathUnescape(name)
			if err != nil {
				logrus.WithField("key", aws.ToString(object.Key)).Warn("Skipping malformed room key")
				continue
			}
			m, err := s.loadManifest(ctx, roomID)
			if err != nil || m == nil {
				logrus.WithField("room_id", roomID).WithError(err).Warn("Failed to load room manifest")
				continue
			}
			rooms = append(rooms, core.Room{ID: m.ID, CreatedAt: m.CreatedAt})
		}
	}
	return rooms, nil
}

func (s *s3Store) ListFiles(ctx context.Context, roomID string) ([]core.File, error) {
	m, err := s.loadManifest(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return []core.File{}, nil
	}
	return m.Files, nil
}

func (s *s3Store) CreateFile(ctx context.Context, roomID, filename, content string) (*core.File, error) {
	defer s.lockRoom(roomID)()

	m, err := s.loadManifest(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("room %s does not exist", roomID)
	}
	for _, f := range m.Files {
		if f.Filename == filename {
			return nil, core.ErrDuplicateFilename
		}
	}

	now := time.Now().UTC()
	f := core.File{
		ID:        ulid.Make().String(),
		RoomID:    roomID,
		Filename:  filename,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.putObject(ctx, fileKey(f.ID), []byte(roomID)); err != nil {
		return nil, fmt.Errorf("failed to index file %s: %w", f.ID, err)
	}
	m.Files = append(m.Files, f)
	if err := s.saveManifest(ctx, m); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"file_id": f.ID,
		"room_id": roomID,
	}).Info("File created successfully")
	return &f, nil
}

func (s *s3Store) RoomOfFile(ctx context.Context, fileID string) (string, error) {
	data, err := s.getObject(ctx, fileKey(fileID))
	if err != nil {
		if isNoSuchKey(err) {
			return "", core.ErrFileNotFound
		}
		return "", fmt.Errorf("failed to get file %s: %w", fileID, err)
	}
	return string(data), nil
}

// mutateFile applies fn to the file inside its room's manifest and saves the
// manifest. fn returns false to drop the file from the room.
func (s *s3Store) mutateFile(ctx context.Context, fileID string, fn func(m *manifest, f *core.File) (bool, error)) error {
	roomID, err := s.RoomOfFile(ctx, fileID)
	if err != nil {
		return err
	}
	defer s.lockRoom(roomID)()

	m, err := s.loadManifest(ctx, roomID)
	if err != nil {
		return err
	}
	if m == nil {
		return core.ErrFileNotFound
	}

	for i := range m.Files {
		if m.Files[i].ID != fileID {
			continue
		}
		keep, err := fn(m, &m.Files[i])
		if err != nil {
			return err
		}
		if !keep {
			m.Files = append(m.Files[:i], m.Files[i+1:]...)
		}
		return s.saveManifest(ctx, m)
	}
	return core.ErrFileNotFound
}

func (s *s3Store) GetFile(ctx context.Context, fileID string) (*core.File, error) {
	roomID, err := s.RoomOfFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	m, err := s.loadManifest(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if m != nil {
		for _, f := range m.Files {
			if f.ID == fileID {
				return &f, nil
			}
		}
	}
	return nil, core.ErrFileNotFound
}

func (s *s3Store) UpdateContent(ctx context.Context, fileID, content string) error {
	return s.mutateFile(ctx, fileID, func(_ *manifest, f *core.File) (bool, error) {
		f.Content = content
		f.UpdatedAt = time.Now().UTC()
		return true, nil
	})
}

func (s *s3Store) RenameFile(ctx context.Context, fileID, filename string) error {
	return s.mutateFile(ctx, fileID, func(m *manifest, f *core.File) (bool, error) {
		for _, other := range m.Files {
			if other.ID != fileID && other.Filename == filename {
				return true, core.ErrDuplicateFilename
			}
		}
		f.Filename = filename
		f.UpdatedAt = time.Now().UTC()
		return true, nil
	})
}

func (s *s3Store) DeleteFile(ctx context.Context, fileID string) error {
	err := s.mutateFile(ctx, fileID, func(*manifest, *core.File) (bool, error) {
		return false, nil
	})
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fileKey(fileID)),
	})
	if err != nil {
		// The manifest no longer lists the file; a stale pointer only costs a lookup.
		logrus.WithField("file_id", fileID).WithError(err).Warn("Failed to delete file pointer")
	}
	return nil
}

func (s *s3Store) CountFiles(ctx context.Context, roomID string) (int, error) {
	m, err := s.loadManifest(ctx, roomID)
	if err != nil {
		return 0, err
	}
	if m == nil {
		return 0, nil
	}
	return len(m.Files), nil
}
