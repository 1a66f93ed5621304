package httpapi

import (
	"net/http"

	"github.com/R3E-Network/petition_service/internal/app/domain/user"
	"github.com/R3E-Network/petition_service/internal/app/metrics"
	"github.com/R3E-Network/petition_service/internal/app/services/users"
	apperrors "github.com/R3E-Network/petition_service/internal/errors"
	"github.com/R3E-Network/petition_service/internal/httputil"
	"github.com/R3E-Network/petition_service/internal/middleware"
)

type registerPayload struct {
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName" validate:"required"`
	Email     string `json:"email" validate:"required"`
	Password  string `json:"password" validate:"required"`
}

type loginPayload struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var payload registerPayload
	if err := decodeBody(w, r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := h.app.Users.Register(r.Context(), user.Registration{
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		Email:     payload.Email,
		Password:  payload.Password,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	metrics.RecordMutation("user", "create")
	httputil.WriteJSON(w, http.StatusCreated, map[string]int64{"userId": id})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload loginPayload
	if err := decodeBody(w, r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	session, err := h.app.Users.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		if apperrors.IsUnauthenticated(err) {
			metrics.RecordLogin(false)
		}
		h.writeError(w, r, err)
		return
	}
	metrics.RecordLogin(true)
	httputil.WriteJSON(w, http.StatusOK, session)
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	callerID, err := middleware.RequireCaller(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.app.Users.Logout(r.Context(), callerID); err != nil {
		h.writeError(w, r, err)
		return
	}
	ok(w)
}

// profile is readable anonymously; the email is shown only to the user.
func (h *handler) profile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.app.Users.Profile(r.Context(), id, middleware.CallerID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	body, err := readPatch(w, r, "email", "firstName", "lastName", "password", "currentPassword")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	changes := user.Changes{
		Email:           body.String("email"),
		FirstName:       body.String("firstName"),
		LastName:        body.String("lastName"),
		Password:        body.String("password"),
		CurrentPassword: body.String("currentPassword"),
	}
	if err := body.Err(); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := users.ValidateChanges(changes); err != nil {
		h.writeError(w, r, err)
		return
	}
	callerID, err := middleware.RequireCaller(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.app.Users.Update(r.Context(), id, callerID, changes); err != nil {
		h.writeError(w, r, err)
		return
	}
	metrics.RecordMutation("user", "update")
	ok(w)
}
