package models

import "time"

// SMSJob asks the dispatcher to deliver one token message. The plaintext
// token lives only in the job, never in the message row.
type SMSJob struct {
	ID        string    `json:"id"`
	MessageID int64     `json:"message_id"`
	Token     string    `json:"token"`
	NotBefore time.Time `json:"not_before"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Due reports whether the job may be sent at now.
func (j SMSJob) Due(now time.Time) bool {
	return !now.Before(j.NotBefore)
}

// Expired reports whether the job's delivery window has passed.
func (j SMSJob) Expired(now time.Time) bool {
	return !now.Before(j.ExpiresAt)
}
