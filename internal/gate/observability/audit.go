// Package observability provides audit logging helpers for the gate.
package observability

import (
	"context"
	"log/slog"

	"votegate/pkg/attrs"
	"votegate/pkg/platform/audit"
	"votegate/pkg/requestcontext"
)

// AuditPublisher accepts audit events. A nil publisher only logs.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// LogAudit logs an audit event to the structured logger and the publisher.
// Subject, IP and reason are lifted from attrList.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher AuditPublisher, event audit.AuditEvent, attrList ...any) {
	requestID := requestcontext.RequestID(ctx)
	if requestID != "" {
		attrList = append(attrList, "request_id", requestID)
	}

	if logger != nil {
		args := append(attrList, "event", string(event), "log_type", "audit")
		logger.InfoContext(ctx, string(event), args...)
	}

	if publisher == nil {
		return
	}

	err := publisher.Emit(ctx, audit.Event{
		Action:    string(event),
		Category:  event.Category(),
		Subject:   attrs.FirstString(attrList, "tlf", "voter_id", "identifier", "value"),
		IP:        attrs.FirstString(attrList, "ip"),
		Reason:    attrs.FirstString(attrList, "reason", "error_codename"),
		RequestID: requestID,
		ActorID:   requestcontext.AdminSubject(ctx),
	})
	if err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to publish audit event", "event", string(event), "error", err)
	}
}
