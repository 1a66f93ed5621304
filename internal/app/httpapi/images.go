package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/R3E-Network/petition_service/internal/app/content"
	"github.com/R3E-Network/petition_service/internal/app/metrics"
	apperrors "github.com/R3E-Network/petition_service/internal/errors"
	"github.com/R3E-Network/petition_service/internal/middleware"
)

// readImage checks the Content-Type and reads the raw image body.
func (h *handler) readImage(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	contentType := r.Header.Get("Content-Type")
	if _, ok := content.ExtensionFor(contentType); !ok {
		return "", nil, apperrors.Validation("unsupported content type %q, expected image/png, image/jpeg or image/gif", contentType)
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUpload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, apperrors.Validation("image exceeds %d bytes", tooLarge.Limit)
		}
		return "", nil, apperrors.Validation("could not read request body")
	}
	if len(data) == 0 {
		return "", nil, apperrors.Validation("no image data in request body")
	}
	return contentType, data, nil
}

func writeImage(w http.ResponseWriter, mimeType string, data []byte) {
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func imageStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}

func (h *handler) petitionImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	data, mimeType, err := h.app.Petitions.Image(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeImage(w, mimeType, data)
}

func (h *handler) setPetitionImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	contentType, data, err := h.readImage(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	callerID, err := middleware.RequireCaller(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	created, err := h.app.Petitions.SetImage(r.Context(), id, callerID, contentType, data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	metrics.RecordImageUpload("petition", len(data))
	w.WriteHeader(imageStatus(created))
}

func (h *handler) userImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	data, mimeType, err := h.app.Users.Image(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeImage(w, mimeType, data)
}

func (h *handler) setUserImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	contentType, data, err := h.readImage(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	callerID, err := middleware.RequireCaller(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	created, err := h.app.Users.SetImage(r.Context(), id, callerID, contentType, data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	metrics.RecordImageUpload("user", len(data))
	w.WriteHeader(imageStatus(created))
}

func (h *handler) deleteUserImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	callerID, err := middleware.RequireCaller(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.app.Users.DeleteImage(r.Context(), id, callerID); err != nil {
		h.writeError(w, r, err)
		return
	}
	metrics.RecordMutation("user_image", "delete")
	ok(w)
}
