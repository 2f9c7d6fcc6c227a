package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/codeguides/internal/auth"
	"github.com/sakif/codeguides/internal/model"
	"github.com/sakif/codeguides/internal/respond"
)

// GuideService is the part of service.GuideService the guide handler uses.
type GuideService interface {
	List(ctx context.Context, filter model.GuideFilter) ([]model.GuideAggregate, error)
	GetByID(ctx context.Context, id string) (*model.GuideAggregate, error)
	GetByAuthorID(ctx context.Context, authorID string) ([]model.GuideAggregate, error)
	Create(ctx context.Context, authorID string, in model.GuideInput) (*model.GuideAggregate, error)
	Update(ctx context.Context, callerID, id string, patch model.GuidePatch) (*model.GuideAggregate, error)
	Delete(ctx context.Context, callerID, id string) error
	StepsForGuide(ctx context.Context, guideID string) ([]model.Step, error)
	CreateStep(ctx context.Context, callerID string, in model.NewStep) (*model.Step, error)
	UpdateStep(ctx context.Context, callerID, id string, patch model.StepPatch) (*model.Step, error)
	DeleteStep(ctx context.Context, callerID, id string) error
}

// GuideHandler serves /api/code-guides.
//
// Reads are public. Writes sit behind RequireAuth, and the caller's account
// id is passed down so the service can check ownership. The handler itself
// never decides who may edit what.
type GuideHandler struct {
	errorWriter
	guides GuideService
}

func NewGuideHandler(guides GuideService, dev bool, logger *slog.Logger) *GuideHandler {
	return &GuideHandler{
		errorWriter: errorWriter{logger: logger, dev: dev},
		guides:      guides,
	}
}

// HandleList returns guides, newest first by default.
//
// HTTP: GET /api/code-guides/guides?search=&category=&code_language=&order=asc|desc
func (h *GuideHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	guides, err := h.guides.List(r.Context(), model.GuideFilter{
		Search:       q.Get("search"),
		Category:     q.Get("category"),
		CodeLanguage: q.Get("code_language"),
		Order:        model.ParseSortOrder(q.Get("order")),
	})
	if err != nil {
		h.writeError(w, r, err, "Failed to fetch guides")
		return
	}
	respond.OK(w, http.StatusOK, "", guides)
}

// HandleGetByID returns one guide with its author and steps.
//
// HTTP: GET /api/code-guides/guides/{id}
func (h *GuideHandler) HandleGetByID(w http.ResponseWriter, r *http.Request) {
	guide, err := h.guides.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err, "Guide not found")
		return
	}
	respond.OK(w, http.StatusOK, "", guide)
}

// HandleListByAuthor returns one author's guides.
//
// HTTP: GET /api/code-guides/guides/author/{id}
func (h *GuideHandler) HandleListByAuthor(w http.ResponseWriter, r *http.Request) {
	guides, err := h.guides.GetByAuthorID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err, "Failed to fetch guides")
		return
	}
	respond.OK(w, http.StatusOK, "", guides)
}

// HandleCreate stores a guide and its steps in one go.
//
// HTTP: POST /api/code-guides/guides
// Auth: Required
func (h *GuideHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in model.GuideInput
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, r, err, "Failed to create guide")
		return
	}

	guide, err := h.guides.Create(r.Context(), callerID(r), in)
	if err != nil {
		h.writeError(w, r, err, "Failed to create guide")
		return
	}
	respond.OK(w, http.StatusCreated, "Guide created successfully", guide)
}

// HandleUpdate applies a partial update.
//
// HTTP: PUT /api/code-guides/guides/{id}
// Auth: Required, author only
//
// Fields missing from the body keep their value. A "steps" array replaces
// every step; leaving "steps" out keeps them.
func (h *GuideHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch model.GuidePatch
	if err := decodeJSON(r, &patch); err != nil {
		h.writeError(w, r, err, "Failed to update guide")
		return
	}

	guide, err := h.guides.Update(r.Context(), callerID(r), r.PathValue("id"), patch)
	if err != nil {
		h.writeError(w, r, err, "Failed to update guide")
		return
	}
	respond.OK(w, http.StatusOK, "Guide updated successfully", guide)
}

// HandleDelete removes a guide and its steps.
//
// HTTP: DELETE /api/code-guides/guides/{id}
// Auth: Required, author only
func (h *GuideHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.guides.Delete(r.Context(), callerID(r), r.PathValue("id")); err != nil {
		h.writeError(w, r, err, "Failed to delete guide")
		return
	}
	respond.OK(w, http.StatusOK, "Guide deleted successfully", nil)
}

// HandleListSteps returns a guide's steps ordered by step_number.
//
// HTTP: GET /api/code-guides/guides/{guideId}/steps
func (h *GuideHandler) HandleListSteps(w http.ResponseWriter, r *http.Request) {
	steps, err := h.guides.StepsForGuide(r.Context(), r.PathValue("guideId"))
	if err != nil {
		h.writeError(w, r, err, "Failed to fetch steps")
		return
	}
	respond.OK(w, http.StatusOK, "", steps)
}

// HandleCreateStep adds one step to an existing guide.
//
// HTTP: POST /api/code-guides/steps
// REQUEST BODY: {"guide_id","step_number","title","description","start_line","end_line"}
// Auth: Required, author of the guide only
func (h *GuideHandler) HandleCreateStep(w http.ResponseWriter, r *http.Request) {
	var in model.NewStep
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, r, err, "Failed to create step")
		return
	}

	step, err := h.guides.CreateStep(r.Context(), callerID(r), in)
	if err != nil {
		h.writeError(w, r, err, "Failed to create step")
		return
	}
	respond.OK(w, http.StatusCreated, "Step created successfully", step)
}

// HTTP: PUT /api/code-guides/steps/{id}
func (h *GuideHandler) HandleUpdateStep(w http.ResponseWriter, r *http.Request) {
	var patch model.StepPatch
	if err := decodeJSON(r, &patch); err != nil {
		h.writeError(w, r, err, "Failed to update step")
		return
	}

	step, err := h.guides.UpdateStep(r.Context(), callerID(r), r.PathValue("id"), patch)
	if err != nil {
		h.writeError(w, r, err, "Failed to update step")
		return
	}
	respond.OK(w, http.StatusOK, "Step updated successfully", step)
}

// HTTP: DELETE /api/code-guides/steps/{id}
func (h *GuideHandler) HandleDeleteStep(w http.ResponseWriter, r *http.Request) {
	if err := h.guides.DeleteStep(r.Context(), callerID(r), r.PathValue("id")); err != nil {
		h.writeError(w, r, err, "Failed to delete step")
		return
	}
	respond.OK(w, http.StatusOK, "Step deleted successfully", nil)
}

// callerID is the authenticated account id, or "" on a public route.
func callerID(r *http.Request) string {
	if a, ok := auth.AccountFromContext(r.Context()); ok {
		return a.ID
	}
	return ""
}
