package bus

import (
	"time"
)

// EventKind identifies the payload type of an inbound webhook message.
type EventKind string

const (
	KindText        EventKind = "text"
	KindInteractive EventKind = "interactive"
	KindImage       EventKind = "image"
	KindDocument    EventKind = "document"
	KindVideo       EventKind = "video"
	KindAudio       EventKind = "audio"
)

// IsMedia reports whether the kind carries an attachment that must be relayed.
func (k EventKind) IsMedia() bool {
	switch k {
	case KindImage, KindDocument, KindVideo, KindAudio:
		return true
	}
	return false
}

// InboundEvent represents one message delivered by the platform webhook.
// It is parsed once at the channel boundary and never mutated afterwards.
type InboundEvent struct {
	Channel   string    `json:"channel"`
	SenderID  string    `json:"sender_id"`
	MessageID string    `json:"message_id"`
	Kind      EventKind `json:"kind"`
	Text      string    `json:"text,omitempty"`
	Selection string    `json:"selection,omitempty"`
	MediaID   string    `json:"media_id,omitempty"`
	MimeType  string    `json:"mime_type,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ListOption is one selectable row of an interactive menu.
type ListOption struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ListPrompt is an interactive list message. Channels that cannot render
// lists fall back to the plain Content of the enclosing message.
type ListPrompt struct {
	Header     string       `json:"header,omitempty"`
	Body       string       `json:"body"`
	ButtonText string       `json:"button_text"`
	Options    []ListOption `json:"options"`
}

// OutboundMessage represents a message to deliver through a channel.
type OutboundMessage struct {
	Channel string      `json:"channel"`
	To      string      `json:"to"`
	Content string      `json:"content"`
	List    *ListPrompt `json:"list,omitempty"`
}
