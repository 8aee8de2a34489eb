package model

import "time"

// User is a row of `users`.  A row is created the first time an identifier
// completes code verification; there are no passwords.
type User struct {
	ID         uint64    // users.id
	Identifier string    // users.identifier, unique email or phone
	CreatedAt  time.Time // users.created_at
}

// Profile is a row of `profiles`.  Operators maintain it and the
// application only reads it.  A NULL is_admin means no decision was made
// and is read as not admin.
type Profile struct {
	UserID  uint64 // profiles.user_id
	IsAdmin *bool  // profiles.is_admin
}

// RefreshToken is a row of `refresh_tokens`.  TokenHash is the SHA-256 hex
// digest of the token handed to the client.
type RefreshToken struct {
	ID        uint64
	UserID    uint64
	TokenHash string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// Active reports whether the token can still be spent at now.
func (t RefreshToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}
