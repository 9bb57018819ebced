package store

import "time"

type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

type RefreshToken struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}
