package httpapi

import (
	"net/http"

	"github.com/R3E-Network/petition_service/internal/app/domain/petition"
	"github.com/R3E-Network/petition_service/internal/app/metrics"
	"github.com/R3E-Network/petition_service/internal/app/services/petitions"
	"github.com/R3E-Network/petition_service/internal/app/services/tiers"
	"github.com/R3E-Network/petition_service/internal/httputil"
	"github.com/R3E-Network/petition_service/internal/middleware"
)

type tierPayload struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description" validate:"required"`
	Cost        *int64 `json:"cost" validate:"required,min=0"`
}

func (t tierPayload) draft() petition.TierDraft {
	return petition.TierDraft{Title: t.Title, Description: t.Description, Cost: t.Cost}
}

type createPetitionPayload struct {
	Title        string        `json:"title" validate:"required"`
	Description  string        `json:"description" validate:"required"`
	CategoryID   *int64        `json:"categoryId" validate:"required"`
	SupportTiers []tierPayload `json:"supportTiers" validate:"required,min=1,max=3,dive"`
}

type pledgePayload struct {
	SupportTierID *int64  `json:"supportTierId" validate:"required"`
	Message       *string `json:"message"`
}

func (h *handler) searchPetitions(w http.ResponseWriter, r *http.Request) {
	query, err := petition.ParseSearchQuery(r.URL.Query())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	page, err := h.app.Petitions.Search(r.Context(), query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

func (h *handler) categories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.app.Petitions.Categories(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cats)
}

func (h *handler) getPetition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	detail, err := h.app.Petitions.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, detail)
}

func (h *handler) createPetition(w http.ResponseWriter, r *http.Request) {
	var payload createPetitionPayload
	if err := decodeBody(w, r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	draft := petition.Draft{
		Title:       payload.Title,
		Description: payload.Description,
		CategoryID:  *payload.CategoryID,
		Tiers:       make([]petition.TierDraft, 0, len(payload.SupportTiers)),
	}
	for _, t := range payload.SupportTiers {
		draft.Tiers = append(draft.Tiers, t.draft())
	}
	if err := petitions.ValidateDraft(draft); err != nil {
		h.writeError(w, r, err)
		return
	}
	callerID, err := middleware.RequireCaller(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	id, err := h.app.Petitions.Create(r.Context(), callerID, draft)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	metrics.RecordMutation("petition", "create")
	httputil.WriteJSON(w, http.StatusCreated, map[string]int64{"petitionId": id})
}

func (h *handler) updatePetition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	body, err := readPatch(w, r, "title", "description", "categoryId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	changes := petition.Changes{
		Title:       body.String("title"),
		Description: body.String("description"),
		CategoryID:  body.Int("categoryId"),
	}
	if err := body.Err(); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := petitions.ValidateChanges(changes); err != nil {
		h.writeError(w, r, err)
		return
	}
	callerID, err := middleware.RequireCaller(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.app.Petitions.Update(r.Context(), id, callerID, changes); err != nil {
		h.writeError(w, r, err)
		return
	}
	metrics.RecordMutation("petition", "update")
	ok(w)
}

func (h *handler) deletePetition(w http.ResponseWriter, r *http.Request) {
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
	if err := h.app.Petitions.Delete(r.Context(), id, callerID); err != nil {
		h.writeError(w, r, err)
		return
	}
	metrics.RecordMutation("petition", "delete")
	ok(w)
}

func (h *handler) createTier(w http.ResponseWriter, r *http.Request) {
	petitionID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var payload tierPayload
	if err := decodeBody(w, r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	draft := payload.draft()
	if err := tiers.ValidateDraft(draft); err != nil {
		h.writeError(w, r, err)
		return
	}
	callerID, err := middleware.RequireCaller(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	id, err := h.app.Tiers.Create(r.Context(), petitionID, callerID, draft)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	metrics.RecordMutation("support_tier", "create")
	httputil.WriteJSON(w, http.StatusCreated, map[string]int64{"supportTierId": id})
}

func (h *handler) updateTier(w http.ResponseWriter, r *http.Request) {
	petitionID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	tierID, err := pathID(r, "tierId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	body, err := readPatch(w, r, "title", "description", "cost")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	changes := petition.TierChanges{
		Title:       body.String("title"),
		Description: body.String("description"),
		Cost:        body.Int("cost"),
	}
	if err := body.Err(); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := tiers.ValidateChanges(changes); err != nil {
		h.writeError(w, r, err)
		return
	}
	callerID, err := middleware.RequireCaller(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.app.Tiers.Update(r.Context(), petitionID, tierID, callerID, changes); err != nil {
		h.writeError(w, r, err)
		return
	}
	metrics.RecordMutation("support_tier", "update")
	ok(w)
}

func (h *handler) deleteTier(w http.ResponseWriter, r *http.Request) {
	petitionID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	tierID, err := pathID(r, "tierId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	callerID, err := middleware.RequireCaller(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.app.Tiers.Delete(r.Context(), petitionID, tierID, callerID); err != nil {
		h.writeError(w, r, err)
		return
	}
	metrics.RecordMutation("support_tier", "delete")
	ok(w)
}

func (h *handler) listSupporters(w http.ResponseWriter, r *http.Request) {
	petitionID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.app.Supporters.List(r.Context(), petitionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) pledge(w http.ResponseWriter, r *http.Request) {
	petitionID, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var payload pledgePayload
	if err := decodeBody(w, r, &payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	callerID, err := middleware.RequireCaller(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	id, err := h.app.Supporters.Pledge(r.Context(), callerID, petitionID, petition.PledgeDraft{
		SupportTierID: *payload.SupportTierID,
		Message:       payload.Message,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	metrics.RecordMutation("supporter", "create")
	httputil.WriteJSON(w, http.StatusCreated, map[string]int64{"supportId": id})
}
