// Package queue defines message payloads exchanged over the message broker
// and the consumer that records them.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// Queue names.  Each event type has its own durable queue on the default
// exchange.
const (
	OTPRequestedQueue = "otp.requested"
	MediaChangedQueue = "media.changed"
)

// OTPRequestedEvent is published when a one-time code has been issued.  The
// consumer is the delivery agent, so the event carries the plaintext code;
// nothing else stores it.
type OTPRequestedEvent struct {
	EventID    string `json:"event_id"`
	Identifier string `json:"identifier"`
	Channel    string `json:"channel"` // "email" or "phone"
	Code       string `json:"code"`
	ExpiresAt  string `json:"expires_at"`
	IssuedAt   string `json:"issued_at"`
}

// Media change actions.
const (
	MediaCreated = "created"
	MediaDeleted = "deleted"
)

// MediaChangedEvent is published after a media row was inserted or deleted.
type MediaChangedEvent struct {
	EventID    string `json:"event_id"`
	Action     string `json:"action"`
	MediaID    string `json:"media_id"`
	Title      string `json:"title"`
	Actor      string `json:"actor"`
	OccurredAt string `json:"occurred_at"`
}

// NewOTPRequested fills the event id and timestamps.
func NewOTPRequested(identifier, channel, code string, issued time.Time, ttl time.Duration) OTPRequestedEvent {
	return OTPRequestedEvent{
		EventID:    uuid.NewString(),
		Identifier: identifier,
		Channel:    channel,
		Code:       code,
		IssuedAt:   issued.UTC().Format(time.RFC3339),
		ExpiresAt:  issued.Add(ttl).UTC().Format(time.RFC3339),
	}
}

// NewMediaChanged fills the event id and timestamp.
func NewMediaChanged(action, mediaID, title, actor string) MediaChangedEvent {
	return MediaChangedEvent{
		EventID:    uuid.NewString(),
		Action:     action,
		MediaID:    mediaID,
		Title:      title,
		Actor:      actor,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	}
}
