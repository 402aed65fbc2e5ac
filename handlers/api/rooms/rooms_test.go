package rooms

import (
	"codecollab-server/core"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type mockDirectory struct {
	active  map[string]int
	stored  []core.Room
	listErr error
}

func (m *mockDirectory) ActiveRooms() map[string]int {
	return m.active
}

func (m *mockDirectory) ListRooms(ctx context.Context) ([]core.Room, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.stored, nil
}

func listRooms(t *testing.T, dir Directory) []RoomResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	w := httptest.NewRecorder()
	HandleList(dir)(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var rooms []RoomResponse
	if err := json.NewDecoder(w.Body).Decode(&rooms); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return rooms
}

func TestHandleList_MergesAndSorts(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	dir := &mockDirectory{
		active: map[string]int{"busy": 3, "quiet": 1, "also-quiet": 1},
		stored: []core.Room{
			{ID: "busy", CreatedAt: created},
			{ID: "empty", CreatedAt: created},
		},
	}

	rooms := listRooms(t, dir)

	wantOrder := []string{"busy", "also-quiet", "quiet", "empty"}
	if len(rooms) != len(wantOrder) {
		t.Fatalf("Expected %d rooms, got %d: %+v", len(wantOrder), len(rooms), rooms)
	}
	for i, id := range wantOrder {
		if rooms[i].ID != id {
			t.Errorf("rooms[%d] = %s, want %s", i, rooms[i].ID, id)
		}
	}

	if rooms[0].Users != 3 || rooms[0].CreatedAt == nil || !rooms[0].CreatedAt.Equal(created) {
		t.Errorf("busy room = %+v", rooms[0])
	}
	if rooms[1].CreatedAt != nil {
		t.Errorf("live-only room should have no createdAt: %+v", rooms[1])
	}
	if rooms[3].Users != 0 {
		t.Errorf("stored-only room should have 0 users: %+v", rooms[3])
	}
}

func TestHandleList_StoreFailureKeepsLiveRooms(t *testing.T) {
	dir := &mockDirectory{
		active:  map[string]int{"live": 2},
		listErr: errors.New("db down"),
	}

	rooms := listRooms(t, dir)
	if len(rooms) != 1 || rooms[0].ID != "live" || rooms[0].Users != 2 {
		t.Errorf("unexpected rooms: %+v", rooms)
	}
}

func TestHandleList_Empty(t *testing.T) {
	rooms := listRooms(t, &mockDirectory{})
	if rooms == nil || len(rooms) != 0 {
		t.Errorf("Expected empty list, got %+v", rooms)
	}
}
