// Package model defines the data structures used throughout the application.
package model

// SystemUserID is the reserved account that owns every user's system chat
// and authors invitation notices.
const SystemUserID = "admin"

// User represents a registered user account.
//
// WHY A CHOSEN ID?
// Unlike chats and members (whose ids we generate), the user ID is picked by
// the registrant and never changes. It is what people type to invite each
// other, so it doubles as the public handle.
//
// WHY json:"-" ON PasswordHash?
// The hash must never leave the server. Tagging it "-" means encoding/json
// skips it entirely, so no handler can leak it by accident when it writes a
// User (or a []User from a name search) straight to the response.
type User struct {
	ID           string `json:"userId"      db:"id"`
	DisplayName  string `json:"displayName" db:"display_name"`
	PasswordHash string `json:"-"           db:"password_hash"`
}

// IsSystem reports whether u is the reserved system user.
func (u *User) IsSystem() bool {
	return u != nil && u.ID == SystemUserID
}
