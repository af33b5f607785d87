package funnel

import (
	"github.com/vickylabs/vickybot/pkg/bus"
)

// Action is one side effect the dispatcher must execute after a decision.
type Action interface {
	isAction()
}

// SendText replies with plain text on the user's channel.
type SendText struct {
	To   string
	Body string
}

// SendMenu sends the root menu to the user.
type SendMenu struct {
	To string
}

// NotifyOperator pushes a message to the operator channels.
type NotifyOperator struct {
	Text string
}

// StartRelay detaches a media relay for the event's attachment.
type StartRelay struct {
	Event bus.InboundEvent
}

// CompleteText delegates free text to the text-completion collaborator and
// sends its reply verbatim (or the static fallback on failure).
type CompleteText struct {
	To     string
	Prompt string
	Topic  string
}

func (SendText) isAction()       {}
func (SendMenu) isAction()       {}
func (NotifyOperator) isAction() {}
func (StartRelay) isAction()     {}
func (CompleteText) isAction()   {}
