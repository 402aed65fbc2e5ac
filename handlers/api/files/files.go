package files

import (
	"codecollab-server/core"
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	CreateFileRequest struct {
		RoomID   string `json:"roomId"`
		Filename string `json:"filename"`
		Content  string `json:"content"`
	}

	UpdateFileRequest struct {
		Content string `json:"content"`
	}

	RenameFileRequest struct {
		NewFilename string `json:"newFilename"`
	}

	SuccessResponse struct {
		Success bool   `json:"success"`
		Message string `json:"message,omitempty"`
	}

	ErrorResponse struct {
		Error string `json:"error"`
	}

	// FileService is the file lifecycle of the session engine.
	FileService interface {
		ListFiles(ctx context.Context, roomID string) ([]core.File, error)
		CreateFile(ctx context.Context, roomID, filename, content string) (*core.File, error)
		UpdateFile(ctx context.Context, fileID, content string) error
		RenameFile(ctx context.Context, fileID, newFilename string) error
		DeleteFile(ctx context.Context, fileID string) error
	}
)

// HandleList lists the files of the room in URL param "roomId", oldest first.
func HandleList(svc FileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")

		files, err := svc.ListFiles(r.Context(), roomID)
		if err != nil {
			renderError(w, r, err, "Failed to list files")
			return
		}
		if files == nil {
			files = []core.File{}
		}

		render.JSON(w, r, files)
	}
}

func HandleCreate(svc FileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateFileRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			logrus.WithError(err).Warn("Failed to decode request")
			renderStatus(w, r, http.StatusBadRequest, "invalid request body")
			return
		}

		file, err := svc.CreateFile(r.Context(), req.RoomID, req.Filename, req.Content)
		if err != nil {
			renderError(w, r, err, "Failed to create file")
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, file)
	}
}

// HandleUpdate saves content to the file in URL param "fileId" without
// notifying the room.
func HandleUpdate(svc FileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fileID := chi.URLParam(r, "fileId")

		var req UpdateFileRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			logrus.WithError(err).Warn("Failed to decode request")
			renderStatus(w, r, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := svc.UpdateFile(r.Context(), fileID, req.Content); err != nil {
			renderError(w, r, err, "Failed to update file")
			return
		}

		render.JSON(w, r, SuccessResponse{Success: true, Message: "File updated successfully"})
	}
}

func HandleRename(svc FileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fileID := chi.URLParam(r, "fileId")

		var req RenameFileRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			logrus.WithError(err).Warn("Failed to decode request")
			renderStatus(w, r, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := svc.RenameFile(r.Context(), fileID, req.NewFilename); err != nil {
			renderError(w, r, err, "Failed to rename file")
			return
		}

		render.JSON(w, r, SuccessResponse{Success: true, Message: "File renamed successfully"})
	}
}

func HandleDelete(svc FileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fileID := chi.URLParam(r, "fileId")

		if err := svc.DeleteFile(r.Context(), fileID); err != nil {
			renderError(w, r, err, "Failed to delete file")
			return
		}

		render.JSON(w, r, SuccessResponse{Success: true, Message: "File deleted successfully"})
	}
}

// renderError maps err onto an HTTP status. Server errors are logged and
// reported with a generic message.
func renderError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		renderStatus(w, r, http.StatusBadRequest, verr.Error())
	case errors.Is(err, core.ErrDuplicateFilename):
		renderStatus(w, r, http.StatusConflict, "a file with this name already exists in the room")
	case errors.Is(err, core.ErrFileNotFound):
		renderStatus(w, r, http.StatusNotFound, "file not found")
	case errors.Is(err, core.ErrLastFile):
		renderStatus(w, r, http.StatusBadRequest, "cannot delete the last file in the room")
	case errors.Is(err, context.DeadlineExceeded):
		logrus.WithError(err).Error(msg)
		renderStatus(w, r, http.StatusServiceUnavailable, "store busy, try again")
	default:
		logrus.WithError(err).Error(msg)
		renderStatus(w, r, http.StatusInternalServerError, msg)
	}
}

func renderStatus(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: msg})
}
