package models

import (
	"time"

	dErrors "votegate/pkg/domain-errors"
)

// MessageStatus tracks an outbound token SMS.
type MessageStatus string

const (
	MessageQueued MessageStatus = "queued"
	MessageSent   MessageStatus = "sent"
	MessageIgnore MessageStatus = "ignore"
)

// Dimension is the color list key kind.
type Dimension string

const (
	DimensionIP    Dimension = "ip"
	DimensionPhone Dimension = "phone"
)

// ParseDimension validates a dimension name.
func ParseDimension(s string) (Dimension, error) {
	d := Dimension(s)
	if d != DimensionIP && d != DimensionPhone {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid dimension: must be 'ip' or 'phone'")
	}
	return d, nil
}

// Action is what a color list entry does to matching requests.
type Action string

const (
	ActionWhitelist Action = "whitelist"
	ActionBlacklist Action = "blacklist"
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if a != ActionWhitelist && a != ActionBlacklist {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid action: must be 'whitelist' or 'blacklist'")
	}
	return a, nil
}

// Identity is the validated registration payload.
type Identity struct {
	FirstName      string
	LastName       string
	Email          string
	PostalCode     int
	Tlf            string
	NationalID     string
	ReceiveUpdates bool
}

// Message is one outbound one-time-token SMS. Only the token digest is kept.
type Message struct {
	ID            int64         `json:"id"`
	Tlf           string        `json:"tlf"`
	IP            string        `json:"ip"`
	LangCode      string        `json:"lang_code"`
	TokenHash     string        `json:"-"`
	Authenticated bool          `json:"authenticated"`
	Status        MessageStatus `json:"status"`
	Content       string        `json:"-"`
	Created       time.Time     `json:"created"`
	Modified      time.Time     `json:"modified"`
}

// ColorListEntry is a whitelist or blacklist rule.
type ColorListEntry struct {
	ID        int64     `json:"id"`
	Dimension Dimension `json:"dimension"`
	Action    Action    `json:"action"`
	Value     string    `json:"value"`
	Created   time.Time `json:"created"`
	Modified  time.Time `json:"modified"`
}

// ColorListFilter narrows List; zero fields match everything.
type ColorListFilter struct {
	Dimension Dimension
	Action    Action
	Value     string
}

// CountFilter selects messages for the rate counters. Exactly one of Phone or
// IP is set. Statuses defaults to sent only.
type CountFilter struct {
	Phone                string
	IP                   string
	Since                *time.Time
	ExcludeAuthenticated bool
	Statuses             []MessageStatus
}

// EffectiveStatuses returns the statuses counted by f.
func (f CountFilter) EffectiveStatuses() []MessageStatus {
	if len(f.Statuses) == 0 {
		return []MessageStatus{MessageSent}
	}
	return f.Statuses
}

// Matches reports whether m is counted by f.
func (f CountFilter) Matches(m *Message) bool {
	if f.Phone != "" && m.Tlf != f.Phone {
		return false
	}
	if f.IP != "" && m.IP != f.IP {
		return false
	}
	if f.Since != nil && m.Created.Before(*f.Since) {
		return false
	}
	if f.ExcludeAuthenticated && m.Authenticated {
		return false
	}
	for _, s := range f.EffectiveStatuses() {
		if m.Status == s {
			return true
		}
	}
	return false
}
