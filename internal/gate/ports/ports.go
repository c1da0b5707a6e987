// Package ports defines the storage and collaborator interfaces of the gate.
// Stores read the transaction bound to the context, so every call made inside
// a Serializer.Run callback joins the serializable transaction.
package ports

import (
	"context"

	"votegate/internal/gate/models"
	"votegate/pkg/platform/tx"
)

// VoterQuery selects active voters for one election. A voter matches when it
// shares the phone, or the national ID when one is given. Empty Statuses
// matches any status. Results are newest first.
type VoterQuery struct {
	ElectionID int64
	Tlf        string
	NationalID string
	Statuses   []models.VoterStatus
}

// MessageQuery selects messages by phone or IP and status.
type MessageQuery struct {
	Tlf    string
	IP     string
	Status models.MessageStatus
}

// VoterStore persists voters.
type VoterStore interface {
	// CreateVoter inserts v and assigns its ID.
	CreateVoter(ctx context.Context, v *models.Voter) error

	// UpdateVoter saves status, guesses, activity and the message reference.
	UpdateVoter(ctx context.Context, v *models.Voter) error

	// GetVoter returns sentinel.ErrNotFound when missing.
	GetVoter(ctx context.Context, id int64) (*models.Voter, error)

	// GetVoterByMessage returns the voter that owns a message.
	GetVoterByMessage(ctx context.Context, messageID int64) (*models.Voter, error)

	// FindActiveVoters lists active voters sharing an identity key.
	FindActiveVoters(ctx context.Context, q VoterQuery) ([]*models.Voter, error)
}

// MessageStore persists token messages and backs the rate counters.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *models.Message) error
	UpdateMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	ListMessages(ctx context.Context, q MessageQuery) ([]*models.Message, error)

	// CountMessages counts messages matching the filter.
	CountMessages(ctx context.Context, f models.CountFilter) (int, error)
}

// ColorListStore persists whitelist and blacklist entries. Uniqueness is
// enforced by the caller, not the store.
type ColorListStore interface {
	FindColorList(ctx context.Context, f models.ColorListFilter) ([]*models.ColorListEntry, error)
	AddColorList(ctx context.Context, e *models.ColorListEntry) error
	RemoveColorList(ctx context.Context, f models.ColorListFilter) (int64, error)
}

// Store is the full persistence surface of the gate.
type Store interface {
	VoterStore
	MessageStore
	ColorListStore
	tx.Beginner
}

// SMSQueue hands committed registrations to the SMS dispatcher. Enqueue is
// called after the registration transaction commits.
type SMSQueue interface {
	Enqueue(ctx context.Context, job models.SMSJob) error
}
