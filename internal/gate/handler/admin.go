package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"votegate/internal/gate/models"
	dErrors "votegate/pkg/domain-errors"
	"votegate/pkg/platform/httputil"
	"votegate/pkg/platform/middleware/admin"
	"votegate/pkg/requestcontext"
)

// ColorList is the color list service behind the admin API.
type ColorList interface {
	List(ctx context.Context, f models.ColorListFilter) ([]*models.ColorListEntry, error)
	AddEntry(ctx context.Context, req models.ColorListRequest) error
	RemoveEntry(ctx context.Context, req models.ColorListRequest) (int64, error)
}

// AdminHandler serves /admin/colorlist.
type AdminHandler struct {
	colors   ColorList
	verifier admin.TokenVerifier
	logger   *slog.Logger
}

func NewAdmin(colors ColorList, verifier admin.TokenVerifier, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		colors:   colors,
		verifier: verifier,
		logger:   logger,
	}
}

type colorListResponse struct {
	Entries []*models.ColorListEntry `json:"entries"`
}

type removeResponse struct {
	Removed int64 `json:"removed"`
}

// Register mounts the admin routes on r behind the bearer token check.
func (h *AdminHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(admin.RequireAdmin(h.verifier, h.logger))
		r.Get("/admin/colorlist", h.handleList)
		r.Post("/admin/colorlist", h.handleAdd)
		r.Delete("/admin/colorlist", h.handleRemove)
	})
}

// handleList filters by the optional dimension, action and value query
// parameters.
func (h *AdminHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var f models.ColorListFilter
	if v := q.Get("dimension"); v != "" {
		dim, err := models.ParseDimension(v)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		f.Dimension = dim
	}
	if v := q.Get("action"); v != "" {
		action, err := models.ParseAction(v)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		f.Action = action
	}
	f.Value = q.Get("value")

	entries, err := h.colors.List(ctx, f)
	if err != nil {
		h.fail(ctx, w, "list color list", err)
		return
	}
	if entries == nil {
		entries = []*models.ColorListEntry{}
	}
	httputil.WriteJSON(w, http.StatusOK, colorListResponse{Entries: entries})
}

func (h *AdminHandler) handleAdd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decodeColorListRequest(w, r)
	if !ok {
		return
	}
	if err := h.colors.AddEntry(ctx, req); err != nil {
		h.fail(ctx, w, "add color list entry", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *AdminHandler) handleRemove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decodeColorListRequest(w, r)
	if !ok {
		return
	}
	n, err := h.colors.RemoveEntry(ctx, req)
	if err != nil {
		h.fail(ctx, w, "remove color list entry", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, removeResponse{Removed: n})
}

func decodeColorListRequest(w http.ResponseWriter, r *http.Request) (models.ColorListRequest, bool) {
	var req models.ColorListRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return req, false
	}
	return req, true
}

func (h *AdminHandler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	if de, ok := dErrors.As(err); !ok || de.Code == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "failed to "+op,
			"request_id", requestcontext.RequestID(ctx),
			"admin", requestcontext.AdminSubject(ctx),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}
