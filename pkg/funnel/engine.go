package funnel

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/vickylabs/vickybot/pkg/bus"
	"github.com/vickylabs/vickybot/pkg/session"
)

var numericText = regexp.MustCompile(`^\d+$`)

// Engine is the funnel decision function. It is pure: Decide never touches
// the clock, the store or the network, so identical inputs always yield
// identical outputs.
type Engine struct {
	Catalog *Catalog
}

// NewEngine creates an Engine over a menu catalog.
func NewEngine(catalog *Catalog) *Engine {
	return &Engine{Catalog: catalog}
}

// Decide computes the next session state and the actions to execute for
// one inbound event. The caller owns executing the actions and committing
// the returned session.
func (e *Engine) Decide(sess *session.Session, ev bus.InboundEvent) (*session.Session, []Action) {
	next := sess.Clone()
	next.LastActiveAt = ev.Timestamp

	// Attachments outrank every stage rule: they are always relayed and
	// never move the funnel.
	if ev.Kind.IsMedia() {
		return next, []Action{
			StartRelay{Event: ev},
			SendText{To: ev.SenderID, Body: e.Catalog.RelayAck},
		}
	}

	switch ev.Kind {
	case bus.KindInteractive:
		return e.decideSelection(next, ev, strings.TrimSpace(ev.Selection))
	case bus.KindText:
		return e.decideText(next, ev)
	}

	// Unknown kinds are filtered at the decode boundary; nothing to do.
	return next, nil
}

func (e *Engine) decideText(next *session.Session, ev bus.InboundEvent) (*session.Session, []Action) {
	text := strings.TrimSpace(ev.Text)

	if text == "" {
		return next, []Action{SendText{To: ev.SenderID, Body: e.Catalog.EmptyMessage}}
	}

	// An explicit menu request resets the funnel from any stage.
	if e.Catalog.IsMenuKeyword(text) {
		next.Stage = session.StageMenuRoot
		next.Topic = ""
		return next, []Action{SendMenu{To: ev.SenderID}}
	}

	// Bare numbers behave like menu selections, as typed replies to the
	// numbered menu always have.
	if numericText.MatchString(text) {
		return e.decideSelection(next, ev, text)
	}

	if e.Catalog.IsGreeting(text) && (next.Stage == session.StageNew || next.Stage == session.StageMenuRoot) {
		next.Stage = session.StageMenuRoot
		next.Topic = ""
		return next, []Action{SendMenu{To: ev.SenderID}}
	}

	// While escalated, free text is forwarded to the advisor instead of
	// being answered by the bot.
	if next.Stage == session.StageEscalated {
		return next, []Action{
			NotifyOperator{Text: fmt.Sprintf("💬 Mensaje de +%s: %s", ev.SenderID, text)},
		}
	}

	next.Stage = session.StageAwaitingFreeText
	return next, []Action{CompleteText{To: ev.SenderID, Prompt: text, Topic: next.Topic}}
}

func (e *Engine) decideSelection(next *session.Session, ev bus.InboundEvent, sel string) (*session.Session, []Action) {
	if sel == e.Catalog.EscalateID {
		next.Stage = session.StageEscalated
		next.Topic = ""
		next.EscalatedAt = ev.Timestamp
		return next, []Action{
			NotifyOperator{Text: fmt.Sprintf("🔔 %s: +%s", e.Catalog.OperatorNotice, ev.SenderID)},
			SendText{To: ev.SenderID, Body: e.Catalog.EscalateConfirm},
		}
	}

	if topic, ok := e.Catalog.Topic(sel); ok {
		next.Stage = session.StageSubmenu
		next.Topic = topic.ID
		return next, []Action{SendText{To: ev.SenderID, Body: topic.Body}}
	}

	// Unrecognized selection: no transition, repeat the menu.
	return next, []Action{
		SendText{To: ev.SenderID, Body: e.Catalog.InvalidOption},
		SendMenu{To: ev.SenderID},
	}
}

// MenuPrompt builds the interactive list for the root menu.
func (e *Engine) MenuPrompt() *bus.ListPrompt {
	options := make([]bus.ListOption, 0, len(e.Catalog.Topics)+1)
	for _, t := range e.Catalog.Topics {
		options = append(options, bus.ListOption{ID: t.ID, Title: t.Title})
	}
	options = append(options, bus.ListOption{ID: e.Catalog.EscalateID, Title: "Contactar asesor"})
	return &bus.ListPrompt{
		Header:     e.Catalog.MenuHeader,
		Body:       e.Catalog.MenuBody,
		ButtonText: e.Catalog.MenuButton,
		Options:    options,
	}
}
