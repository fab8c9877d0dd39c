package models

import "time"

// OTPChallenge is a short-lived code proving ownership of a contact
// (email address or phone number). At most one lives per key.
type OTPChallenge struct {
	Key       string    `json:"key"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the challenge has passed its deadline at now.
func (c OTPChallenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
