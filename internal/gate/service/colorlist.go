package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"votegate/internal/gate/models"
	"votegate/internal/gate/observability"
	"votegate/internal/gate/ports"
	dErrors "votegate/pkg/domain-errors"
	"votegate/pkg/platform/audit"
	"votegate/pkg/platform/sentinel"
	"votegate/pkg/platform/tx"
	"votegate/pkg/requestcontext"
)

// ColorListStore is the persistence ColorListService needs. Blacklisting
// also touches messages and voters for the retroactive cleanup.
type ColorListStore interface {
	ports.ColorListStore
	ports.MessageStore
	GetVoterByMessage(ctx context.Context, messageID int64) (*models.Voter, error)
	UpdateVoter(ctx context.Context, v *models.Voter) error
}

// ColorListService owns whitelist and blacklist entries. Lookup and Add join
// the caller's transaction when there is one; AddEntry and RemoveEntry are the
// operator entry points and run in their own serializable transaction.
type ColorListService struct {
	store          ColorListStore
	serializer     *tx.Serializer
	logger         *slog.Logger
	auditPublisher observability.AuditPublisher
}

type ColorListOption func(*ColorListService)

func WithColorListLogger(logger *slog.Logger) ColorListOption {
	return func(s *ColorListService) {
		s.logger = logger
	}
}

func WithColorListAuditPublisher(publisher observability.AuditPublisher) ColorListOption {
	return func(s *ColorListService) {
		s.auditPublisher = publisher
	}
}

func NewColorListService(store ColorListStore, serializer *tx.Serializer, opts ...ColorListOption) (*ColorListService, error) {
	if store == nil {
		return nil, errors.New("color list store is required")
	}
	if serializer == nil {
		return nil, errors.New("serializer is required")
	}
	s := &ColorListService{
		store:      store,
		serializer: serializer,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Lookup returns every entry for a dimension and value.
func (s *ColorListService) Lookup(ctx context.Context, dim models.Dimension, value string) ([]*models.ColorListEntry, error) {
	entries, err := s.store.FindColorList(ctx, models.ColorListFilter{Dimension: dim, Value: value})
	if err != nil {
		return nil, fmt.Errorf("lookup color list: %w", err)
	}
	return entries, nil
}

func (s *ColorListService) IsWhitelisted(ctx context.Context, dim models.Dimension, value string) (bool, error) {
	return s.has(ctx, dim, models.ActionWhitelist, value)
}

func (s *ColorListService) IsBlacklisted(ctx context.Context, dim models.Dimension, value string) (bool, error) {
	return s.has(ctx, dim, models.ActionBlacklist, value)
}

func (s *ColorListService) has(ctx context.Context, dim models.Dimension, action models.Action, value string) (bool, error) {
	entries, err := s.store.FindColorList(ctx, models.ColorListFilter{Dimension: dim, Action: action, Value: value})
	if err != nil {
		return false, fmt.Errorf("lookup color list: %w", err)
	}
	return len(entries) > 0, nil
}

// Add inserts an entry unless the same triple already exists, in which case
// it only logs a warning. Adding a blacklist entry also ignores queued
// messages for the value and deactivates their unsent voters.
func (s *ColorListService) Add(ctx context.Context, dim models.Dimension, action models.Action, value string) error {
	_, _, err := s.add(ctx, dim, action, value)
	return err
}

// add reports whether the entry was new and how many queued messages the
// blacklist cleanup ignored.
func (s *ColorListService) add(ctx context.Context, dim models.Dimension, action models.Action, value string) (bool, int, error) {
	existing, err := s.store.FindColorList(ctx, models.ColorListFilter{Dimension: dim, Action: action, Value: value})
	if err != nil {
		return false, 0, fmt.Errorf("lookup color list: %w", err)
	}
	if len(existing) > 0 {
		s.logger.WarnContext(ctx, "color list entry already exists",
			"dimension", dim,
			"action", action,
			"value", value,
		)
		return false, 0, nil
	}

	now := requestcontext.Now(ctx)
	entry := &models.ColorListEntry{
		Dimension: dim,
		Action:    action,
		Value:     value,
		Created:   now,
		Modified:  now,
	}
	if err := s.store.AddColorList(ctx, entry); err != nil {
		return false, 0, fmt.Errorf("add color list entry: %w", err)
	}
	if action != models.ActionBlacklist {
		return true, 0, nil
	}
	ignored, err := s.ignoreQueued(ctx, dim, value)
	return true, ignored, err
}

// ignoreQueued stops pending deliveries to a newly blacklisted phone or IP.
func (s *ColorListService) ignoreQueued(ctx context.Context, dim models.Dimension, value string) (int, error) {
	q := ports.MessageQuery{Status: models.MessageQueued}
	if dim == models.DimensionPhone {
		q.Tlf = value
	} else {
		q.IP = value
	}
	queued, err := s.store.ListMessages(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("list queued messages: %w", err)
	}

	now := requestcontext.Now(ctx)
	for _, m := range queued {
		m.Status = models.MessageIgnore
		m.Modified = now
		if err := s.store.UpdateMessage(ctx, m); err != nil {
			return 0, fmt.Errorf("ignore message %d: %w", m.ID, err)
		}

		v, err := s.store.GetVoterByMessage(ctx, m.ID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				continue
			}
			return 0, fmt.Errorf("load voter of message %d: %w", m.ID, err)
		}
		if v.IsActive && v.Status == models.StatusCreated {
			v.Deactivate(now)
			if err := s.store.UpdateVoter(ctx, v); err != nil {
				return 0, fmt.Errorf("deactivate voter %d: %w", v.ID, err)
			}
		}
	}
	return len(queued), nil
}

// Remove deletes matching entries and reports how many were removed.
func (s *ColorListService) Remove(ctx context.Context, dim models.Dimension, action models.Action, value string) (int64, error) {
	n, err := s.store.RemoveColorList(ctx, models.ColorListFilter{Dimension: dim, Action: action, Value: value})
	if err != nil {
		return 0, fmt.Errorf("remove color list entry: %w", err)
	}
	return n, nil
}

// List returns entries matching f; a zero filter lists everything.
func (s *ColorListService) List(ctx context.Context, f models.ColorListFilter) ([]*models.ColorListEntry, error) {
	entries, err := s.store.FindColorList(ctx, f)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list color list")
	}
	return entries, nil
}

// AddEntry validates an operator request and adds the entry in its own
// transaction.
func (s *ColorListService) AddEntry(ctx context.Context, req models.ColorListRequest) error {
	dim, action, value, err := parseColorListRequest(req)
	if err != nil {
		return err
	}

	var (
		added   bool
		ignored int
	)
	err = s.serializer.Run(ctx, func(ctx context.Context) error {
		var err error
		added, ignored, err = s.add(ctx, dim, action, value)
		return err
	})
	if err != nil {
		return wrapFault(err, "failed to add color list entry")
	}
	if !added {
		return nil
	}

	observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventColorListAdded,
		"dimension", string(dim),
		"action", string(action),
		"value", value,
	)
	if ignored > 0 {
		observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventQueuedIgnored,
			"dimension", string(dim),
			"value", value,
			"count", ignored,
		)
	}
	return nil
}

// RemoveEntry validates an operator request and removes matching entries.
func (s *ColorListService) RemoveEntry(ctx context.Context, req models.ColorListRequest) (int64, error) {
	dim, action, value, err := parseColorListRequest(req)
	if err != nil {
		return 0, err
	}

	var removed int64
	err = s.serializer.Run(ctx, func(ctx context.Context) error {
		n, err := s.Remove(ctx, dim, action, value)
		removed = n
		return err
	})
	if err != nil {
		return 0, wrapFault(err, "failed to remove color list entry")
	}

	if removed > 0 {
		observability.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventColorListRemoved,
			"dimension", string(dim),
			"action", string(action),
			"value", value,
		)
	}
	return removed, nil
}

func parseColorListRequest(req models.ColorListRequest) (models.Dimension, models.Action, string, error) {
	dim, err := models.ParseDimension(req.Dimension)
	if err != nil {
		return "", "", "", err
	}
	action, err := models.ParseAction(req.Action)
	if err != nil {
		return "", "", "", err
	}
	value := strings.TrimSpace(req.Value)
	if value == "" {
		return "", "", "", dErrors.NewField(dErrors.CodeInvalidInput, "value", "value is required")
	}
	return dim, action, value, nil
}
