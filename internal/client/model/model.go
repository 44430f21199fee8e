package model

import "time"

type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Unread      bool      `json:"unread,omitempty"`
	LastPreview string    `json:"last_preview,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

type GroupMember struct {
	User
	MemberRole string `json:"member_role,omitempty"` // "admin" or "member"
}

type Group struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	AvatarURL string        `json:"avatar_url,omitempty"`
	CreatorID string        `json:"creator_id,omitempty"`
	Members   []GroupMember `json:"members,omitempty"`
	CreatedAt time.Time     `json:"created_at,omitempty"`
}

// DeliveryState tracks a message's progress from optimistic local append
// to server confirmation.
type DeliveryState int

const (
	Pending DeliveryState = iota
	Confirmed
	Failed
)

func (s DeliveryState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Message is a single chat message, direct or group. Exactly one of Text,
// ImageURL, AudioURL, DocumentURL is set. While unconfirmed the server ID is
// empty and CorrelationID identifies the local placeholder.
type Message struct {
	ID            string    `json:"id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	SenderID      string    `json:"sender_id"`
	RecipientID   string    `json:"recipient_id,omitempty"`
	GroupID       string    `json:"group_id,omitempty"`
	Text          string    `json:"text,omitempty"`
	ImageURL      string    `json:"image_url,omitempty"`
	AudioURL      string    `json:"audio_url,omitempty"`
	DocumentURL   string    `json:"document_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`

	State      DeliveryState `json:"-"`
	FailReason string        `json:"-"`

	// Seq is a client-local monotonic tiebreaker for messages sharing a
	// timestamp. Assigned by the store, never sent over the wire.
	Seq uint64 `json:"-"`
}

// Draft is the user-supplied content of a message before the store stamps
// identity, timestamps and a correlation id onto it.
type Draft struct {
	Text        string `json:"text,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	AudioURL    string `json:"audio_url,omitempty"`
	DocumentURL string `json:"document_url,omitempty"`
}

func (d Draft) Empty() bool {
	return d.Text == "" && d.ImageURL == "" && d.AudioURL == "" && d.DocumentURL == ""
}

type Tip struct {
	Amount        float64   `json:"amount"`
	TipperID      string    `json:"tipper_id"`
	ReceiverID    string    `json:"receiver_id"`
	MessageID     string    `json:"message_id"`
	TransactionID string    `json:"transaction_id"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
}

// SelectionKind says what, if anything, the active conversation is.
type SelectionKind int

const (
	SelectNone SelectionKind = iota
	SelectDirect
	SelectGroup
)

// Selection is the active conversation. Modeling it as a single tagged value
// makes direct/group exclusivity structural rather than a convention.
type Selection struct {
	Kind SelectionKind
	ID   string
}

func (s Selection) None() bool { return s.Kind == SelectNone }
