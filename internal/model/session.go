package model

import "time"

type Session struct {
	ID        int64     `json:"id"`
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// OTPChallenge is a pending phone verification. Handle is the opaque
// confirmation reference returned to the client; Code is what the SMS carries.
type OTPChallenge struct {
	ID        int64      `json:"id"`
	Handle    string     `json:"handle"`
	Phone     string     `json:"phone"`
	Code      string     `json:"-"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at"`
	Attempts  int        `json:"attempts"`
	CreatedAt time.Time  `json:"created_at"`
}
