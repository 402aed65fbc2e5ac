package rooms

import (
	"codecollab-server/core"
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	RoomResponse struct {
		ID        string     `json:"id"`
		Users     int        `json:"users"`
		CreatedAt *time.Time `json:"createdAt,omitempty"`
	}

	// Directory knows which rooms are occupied right now and which exist durably.
	Directory interface {
		ActiveRooms() map[string]int
		ListRooms(ctx context.Context) ([]core.Room, error)
	}
)

// HandleList returns live rooms merged with durable ones, busiest first.
// A store failure degrades the listing to live rooms only.
func HandleList(dir Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		byID := make(map[string]*RoomResponse)
		for id, users := range dir.ActiveRooms() {
			byID[id] = &RoomResponse{ID: id, Users: users}
		}

		stored, err := dir.ListRooms(r.Context())
		if err != nil {
			logrus.WithError(err).Warn("Failed to list rooms from store")
		}
		for _, room := range stored {
			entry, ok := byID[room.ID]
			if !ok {
				entry = &RoomResponse{ID: room.ID}
				byID[room.ID] = entry
			}
			createdAt := room.CreatedAt
			entry.CreatedAt = &createdAt
		}

		list := make([]RoomResponse, 0, len(byID))
		for _, entry := range byID {
			list = append(list, *entry)
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].Users == list[j].Users {
				return list[i].ID < list[j].ID
			}
			return list[i].Users > list[j].Users
		})

		render.JSON(w, r, list)
	}
}
