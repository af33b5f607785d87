package channels

import (
	"github.com/vickylabs/vickybot/pkg/bus"
)

// Channel is the interface for chat channels.
type Channel interface {
	Start() error
	Stop() error
	Send(msg bus.OutboundMessage) error
	Name() string
}

// OperatorOps exposes session operations to operator consoles.
type OperatorOps interface {
	ResetSession(phone string) error
	SessionStatus(phone string) (string, error)
}

// BaseChannel provides common functionality for channels.
type BaseChannel struct {
	Bus       *bus.MessageBus
	AllowFrom []string
}

// IsAllowed checks if a sender may talk to the bot.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.AllowFrom) == 0 {
		return true
	}
	for _, allowed := range c.AllowFrom {
		if allowed == senderID {
			return true
		}
	}
	return false
}
