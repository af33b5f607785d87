package session

import (
	"time"
)

// Stage is the funnel position of a conversation.
type Stage string

const (
	StageNew              Stage = "NEW"
	StageMenuRoot         Stage = "MENU_ROOT"
	StageSubmenu          Stage = "MENU_SUBMENU"
	StageAwaitingFreeText Stage = "AWAITING_FREE_TEXT"
	StageEscalated        Stage = "ESCALATED"
)

// Session is the conversation state for one sender. Stage only moves
// through funnel decisions; the store enforces that on commit.
type Session struct {
	SenderID     string    `json:"sender_id"`
	Stage        Stage     `json:"stage"`
	Topic        string    `json:"topic,omitempty"` // submenu topic when Stage == StageSubmenu
	LastActiveAt time.Time `json:"last_active_at"`
	EscalatedAt  time.Time `json:"escalated_at,omitempty"`
	PendingRelay string    `json:"pending_relay,omitempty"`

	// seen is the dedup ring, oldest first. Owned by the store; sessions
	// handed out by GetOrCreate carry a copy.
	seen []string
}

// NewSession creates a fresh session for a sender.
func NewSession(senderID string) *Session {
	return &Session{
		SenderID: senderID,
		Stage:    StageNew,
	}
}

// HasSeen reports whether messageID is inside the dedup window.
func (s *Session) HasSeen(messageID string) bool {
	for _, id := range s.seen {
		if id == messageID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to mutate outside the store.
func (s *Session) Clone() *Session {
	cp := *s
	cp.seen = append([]string(nil), s.seen...)
	return &cp
}
