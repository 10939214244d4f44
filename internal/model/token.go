package model

// RefreshToken is a durable session credential owned by a user.
// A user may hold several at once (one per signed-in session).
type RefreshToken struct {
	Token  string `db:"token"`
	UserID string `db:"user_id"`
}
