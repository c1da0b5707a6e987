package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventCategory classifies audit events by their primary purpose so sinks
// can route and retain them differently.
type EventCategory string

const (
	// CategoryCompliance covers the voter lifecycle: registrations,
	// authentications and recorded votes.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers rejections, blacklisting and color list
	// administration.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers SMS dispatch. These can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from gate logic to capture key actions. It stays
// transport-agnostic so sinks can fan out.
type Event struct {
	ID        uuid.UUID     `json:"id"`
	Category  EventCategory `json:"category"`
	Timestamp time.Time     `json:"timestamp"`
	Action    string        `json:"action"`
	// Subject is what the event is about: a phone number, a voter ID or a
	// color list value.
	Subject   string `json:"subject,omitempty"`
	IP        string `json:"ip,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	// ActorID is the admin subject for operator actions.
	ActorID string `json:"actor_id,omitempty"`
}

type AuditEvent string

const (
	// Voter lifecycle
	EventVoterRegistered    AuditEvent = "voter_registered"
	EventVoterAuthenticated AuditEvent = "voter_authenticated"
	EventVoteRecorded       AuditEvent = "vote_recorded"

	// Rejections
	EventRegistrationRejected AuditEvent = "registration_rejected"
	EventTokenRejected        AuditEvent = "token_rejected"
	EventVoteRejected         AuditEvent = "vote_rejected"

	// Color list
	EventColorListAdded   AuditEvent = "colorlist_added"
	EventColorListRemoved AuditEvent = "colorlist_removed"
	EventAutoBlacklisted  AuditEvent = "auto_blacklisted"
	EventQueuedIgnored    AuditEvent = "queued_messages_ignored"

	// SMS dispatch
	EventSMSSent    AuditEvent = "sms_sent"
	EventSMSSkipped AuditEvent = "sms_skipped"
	EventSMSFailed  AuditEvent = "sms_failed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventVoterRegistered:    CategoryCompliance,
	EventVoterAuthenticated: CategoryCompliance,
	EventVoteRecorded:       CategoryCompliance,

	EventRegistrationRejected: CategorySecurity,
	EventTokenRejected:        CategorySecurity,
	EventVoteRejected:         CategorySecurity,
	EventColorListAdded:       CategorySecurity,
	EventColorListRemoved:     CategorySecurity,
	EventAutoBlacklisted:      CategorySecurity,
	EventQueuedIgnored:        CategorySecurity,

	EventSMSSent:    CategoryOperations,
	EventSMSSkipped: CategoryOperations,
	EventSMSFailed:  CategoryOperations,
}

// Category returns the category of a known event. Unknown events are
// treated as operations.
func (e AuditEvent) Category() EventCategory {
	if c, ok := eventCategories[e]; ok {
		return c
	}
	return CategoryOperations
}

// Sink persists batches of events. Implementations must be safe for
// concurrent use.
type Sink interface {
	Write(ctx context.Context, events []Event) error
}
