package model

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the type of content carried by a source post.
type Kind string

const (
	KindDocument Kind = "document"
	KindPhoto    Kind = "photo"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindText     Kind = "text"
)

// ContentRecord represents one piece of deliverable content tied to a post
// in the source channel. Records are never physically removed: deactivation
// flips Active to false exactly once and the record stays for bookkeeping.
type ContentRecord struct {
	Key            string     `json:"key"`              // short opaque access key, unique and immutable
	SourcePostID   int64      `json:"source_post_id"`   // message id of the originating source-channel post
	Kind           Kind       `json:"kind"`             // document, photo, video, audio or text
	PayloadRef     string     `json:"payload_ref"`      // transport file handle used to re-deliver the content
	DisplayName    string     `json:"display_name"`     // descriptive, non-authoritative
	SizeBytes      int64      `json:"size_bytes"`       // descriptive, non-authoritative
	Downloads      int64      `json:"downloads"`        // successful deliveries, never decreases
	LastAccessedAt *time.Time `json:"last_accessed_at"` // most recent successful delivery
	Active         bool       `json:"active"`           // false means logically deleted, never delivered again
	CreatedAt      time.Time  `json:"created_at"`
}

// PendingRequest remembers the single outstanding content request of a user
// who failed the membership gate, to be replayed once the gate passes.
type PendingRequest struct {
	UserID      int64     `json:"user_id"`
	Key         string    `json:"key"`
	RequestedAt time.Time `json:"requested_at"`
}

// DeliveryTicket is a durable obligation to delete delivered messages at
// DeleteAt. A ticket covers every message produced by one delivery, content
// copies and notice alike.
type DeliveryTicket struct {
	ID         uuid.UUID `json:"id"`
	ChatID     int64     `json:"chat_id"`
	MessageIDs []int64   `json:"message_ids"`
	DeleteAt   time.Time `json:"delete_at"`
	CreatedAt  time.Time `json:"created_at"`
}
