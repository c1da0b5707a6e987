// Package handler exposes the gate over HTTP: the three public JSON
// operations and the color list admin API.
package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"votegate/internal/gate/models"
	"votegate/internal/gate/validation"
	dErrors "votegate/pkg/domain-errors"
	"votegate/pkg/platform/httputil"
	"votegate/pkg/requestcontext"
)

const maxBodyBytes = 64 << 10

// Gate is the facade the public endpoints call.
type Gate interface {
	Register(ctx context.Context, req models.RegisterRequest) error
	Authenticate(ctx context.Context, req models.AuthRequest) (*models.AuthAssertion, error)
	NotifyVote(ctx context.Context, req models.NotifyRequest) error
}

// Handler serves POST /register, /sms_auth and /notify_vote.
type Handler struct {
	gate      Gate
	validator *validation.Validator
	logger    *slog.Logger
}

func New(gate Gate, validator *validation.Validator, logger *slog.Logger) *Handler {
	return &Handler{
		gate:      gate,
		validator: validator,
		logger:    logger,
	}
}

// Register mounts the public routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/register", h.handleRegister)
	r.Post("/sms_auth", h.handleSMSAuth)
	r.Post("/notify_vote", h.handleNotifyVote)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	identity, err := h.validator.Register(body)
	if err != nil {
		h.writeError(ctx, w, "register", err)
		return
	}

	err = h.gate.Register(ctx, models.RegisterRequest{
		Identity: identity,
		IP:       requestcontext.ClientIP(ctx),
	})
	if err != nil {
		h.writeError(ctx, w, "register", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleSMSAuth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	tlf, nationalID, token, err := h.validator.SMSAuth(body)
	if err != nil {
		h.writeError(ctx, w, "sms_auth", err)
		return
	}

	assertion, err := h.gate.Authenticate(ctx, models.AuthRequest{
		Tlf:        tlf,
		NationalID: nationalID,
		Token:      token,
		IP:         requestcontext.ClientIP(ctx),
	})
	if err != nil {
		h.writeError(ctx, w, "sms_auth", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, assertion)
}

func (h *Handler) handleNotifyVote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	identifier, proof, err := h.validator.Notify(body)
	if err != nil {
		h.writeError(ctx, w, "notify_vote", err)
		return
	}

	err = h.gate.NotifyVote(ctx, models.NotifyRequest{
		Identifier: identifier,
		Proof:      proof,
		IP:         requestcontext.ClientIP(ctx),
	})
	if err != nil {
		h.writeError(ctx, w, "notify_vote", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeNotJSON, "request body is not a JSON object"))
		return nil, false
	}
	return body, true
}

// writeError logs faults at error level and client errors at debug, then
// writes the public envelope.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	if de, ok := dErrors.As(err); ok && de.Code != dErrors.CodeInternal {
		h.logger.DebugContext(ctx, "request rejected",
			"op", op,
			"error_codename", string(de.Code),
			"request_id", requestcontext.RequestID(ctx),
		)
	} else {
		h.logger.ErrorContext(ctx, "request failed",
			"op", op,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}
