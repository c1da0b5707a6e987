package models

import (
	"fmt"
	"time"

	"votegate/pkg/platform/sentinel"
)

// VoterStatus is the lifecycle position of one registration attempt.
type VoterStatus string

const (
	StatusRequested       VoterStatus = "requested"
	StatusRequestedIgnore VoterStatus = "requested_ignore"
	StatusCreated         VoterStatus = "created"
	StatusSent            VoterStatus = "sent"
	StatusAuthenticated   VoterStatus = "authenticated"
	StatusVoted           VoterStatus = "voted"
)

var voterTransitions = map[VoterStatus][]VoterStatus{
	StatusRequested:     {StatusCreated, StatusRequestedIgnore},
	StatusCreated:       {StatusSent},
	StatusSent:          {StatusAuthenticated},
	StatusAuthenticated: {StatusVoted},
}

// CanTransition reports whether from -> to is part of the lifecycle.
func CanTransition(from, to VoterStatus) bool {
	for _, next := range voterTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Voter is one registration attempt for one election. Activity is orthogonal
// to status: a superseded attempt keeps its status and loses IsActive.
type Voter struct {
	ID                 int64       `json:"id"`
	ElectionID         int64       `json:"election_id"`
	FirstName          string      `json:"first_name"`
	LastName           string      `json:"last_name"`
	Email              string      `json:"email"`
	PostalCode         int         `json:"postal_code"`
	Tlf                string      `json:"tlf"`
	NationalID         string      `json:"national_id,omitempty"`
	IP                 string      `json:"ip"`
	LangCode           string      `json:"lang_code"`
	ReceiveMailUpdates bool        `json:"receive_mail_updates"`
	Status             VoterStatus `json:"status"`
	TokenGuesses       int         `json:"token_guesses"`
	IsActive           bool        `json:"is_active"`
	MessageID          *int64      `json:"message_id,omitempty"`
	Created            time.Time   `json:"created"`
	Modified           time.Time   `json:"modified"`
}

// NewRequestedVoter builds an unsaved voter in the initial state.
func NewRequestedVoter(electionID int64, identity Identity, ip, langCode string, now time.Time) *Voter {
	return &Voter{
		ElectionID:         electionID,
		FirstName:          identity.FirstName,
		LastName:           identity.LastName,
		Email:              identity.Email,
		PostalCode:         identity.PostalCode,
		Tlf:                identity.Tlf,
		NationalID:         identity.NationalID,
		IP:                 ip,
		LangCode:           langCode,
		ReceiveMailUpdates: identity.ReceiveUpdates,
		Status:             StatusRequested,
		IsActive:           true,
		Created:            now,
		Modified:           now,
	}
}

// TransitionTo moves the voter along the lifecycle.
func (v *Voter) TransitionTo(to VoterStatus, now time.Time) error {
	if !CanTransition(v.Status, to) {
		return fmt.Errorf("voter %d: %s -> %s: %w", v.ID, v.Status, to, sentinel.ErrInvalidState)
	}
	v.Status = to
	v.Modified = now
	return nil
}

// Deactivate marks the voter as superseded.
func (v *Voter) Deactivate(now time.Time) {
	v.IsActive = false
	v.Modified = now
}

// RecordFailedGuess counts one wrong token submission.
func (v *Voter) RecordFailedGuess(now time.Time) {
	v.TokenGuesses++
	v.Modified = now
}

// TokenExhausted reports whether the voter's token can no longer be redeemed,
// either because of too many guesses or because it is older than ttl.
func (v *Voter) TokenExhausted(maxGuesses int, tokenCreated time.Time, ttl time.Duration, now time.Time) bool {
	if v.TokenGuesses >= maxGuesses {
		return true
	}
	return !tokenCreated.After(now.Add(-ttl))
}

// HasIdentity reports whether other shares this voter's identity key.
func (v *Voter) HasIdentity(electionID int64, tlf, nationalID string) bool {
	if v.ElectionID != electionID {
		return false
	}
	if v.Tlf == tlf {
		return true
	}
	return nationalID != "" && v.NationalID == nationalID
}
