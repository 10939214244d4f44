package model

import "time"

// Message is a chat message authored by a Member.
//
// IDs are a dense, increasing sequence assigned by the store, and CreatedOn is
// strictly increasing with them, so "after message N" is a total order that
// pagination can rely on.
type Message struct {
	ID        int64     `json:"messageId" db:"id"`
	MemberID  string    `json:"memberId"  db:"member_id"`
	Text      string    `json:"text"      db:"text"`
	CreatedOn time.Time `json:"createdOn" db:"created_on"`
}
