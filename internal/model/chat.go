package model

// Chat is a conversation. Chats are created once and never mutated or
// deleted; leaving a chat removes a Member, not the Chat.
type Chat struct {
	ID          string `json:"chatId"      db:"id"`
	DefaultName string `json:"defaultName" db:"default_name"`
}

// Member binds a user to a chat.
//
// A user's identity inside a chat is the Member, not the User: messages are
// authored by a MemberID, and each member carries its own name for the chat
// (ChatDisplayName) and its own name inside the chat (MemberDisplayName).
// At most one Member exists per (ChatID, UserID).
type Member struct {
	ID                string `json:"memberId"          db:"id"`
	ChatID            string `json:"chatId"            db:"chat_id"`
	UserID            string `json:"userId"            db:"user_id"`
	ChatDisplayName   string `json:"chatDisplayName"   db:"chat_display_name"`
	MemberDisplayName string `json:"memberDisplayName" db:"member_display_name"`
}

// ChatSecret is the join password of a chat. Exactly one exists per chat,
// created together with the chat. It has no JSON tags on purpose: secrets are
// only ever disclosed through an invitation message.
type ChatSecret struct {
	ChatID string
	Secret string
}
