package models

import "time"

type User struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"display_name"`
	Email        string    `json:"email,omitempty"`
	Role         string    `json:"role,omitempty"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	Unread       bool      `json:"unread,omitempty"`
	LastPreview  string    `json:"last_preview,omitempty"`
	PasswordHash string    `json:"-"`
	MFAEnabled   bool      `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

type Message struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	SenderID      string    `json:"sender_id"`
	RecipientID   string    `json:"recipient_id,omitempty"`
	GroupID       string    `json:"group_id,omitempty"`
	Text          string    `json:"text,omitempty"`
	ImageURL      string    `json:"image_url,omitempty"`
	AudioURL      string    `json:"audio_url,omitempty"`
	DocumentURL   string    `json:"document_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type GroupMember struct {
	User
	MemberRole string `json:"member_role"`
}

type Group struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	AvatarURL string        `json:"avatar_url,omitempty"`
	CreatorID string        `json:"creator_id"`
	Members   []GroupMember `json:"members,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

type Tip struct {
	TransactionID string    `json:"transaction_id"`
	Amount        float64   `json:"amount"`
	TipperID      string    `json:"tipper_id"`
	ReceiverID    string    `json:"receiver_id"`
	MessageID     string    `json:"message_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// Request payloads

type RegisterRequest struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type CreateGroupRequest struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids"`
}

type MarkSeenRequest struct {
	SenderID string `json:"sender_id"`
}

// Presence channel events

type RosterEvent struct {
	Type    string   `json:"type"` // "online_users"
	UserIDs []string `json:"user_ids"`
}

type NewMessageEvent struct {
	Type    string  `json:"type"` // "new_message"
	Message Message `json:"message"`
}
