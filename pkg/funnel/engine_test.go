package funnel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vickylabs/vickybot/pkg/bus"
	"github.com/vickylabs/vickybot/pkg/session"
)

func textEvent(sender, text string) bus.InboundEvent {
	return bus.InboundEvent{
		Channel:   "whatsapp",
		SenderID:  sender,
		MessageID: "wamid.x",
		Kind:      bus.KindText,
		Text:      text,
		Timestamp: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func selectionEvent(sender, sel string) bus.InboundEvent {
	ev := textEvent(sender, "")
	ev.Kind = bus.KindInteractive
	ev.Selection = sel
	return ev
}

func TestGreetingFromNewShowsMenu(t *testing.T) {
	e := NewEngine(DefaultCatalog())
	sess := session.NewSession("521000")

	next, actions := e.Decide(sess, textEvent("521000", "hola"))
	require.Equal(t, session.StageMenuRoot, next.Stage)
	require.Len(t, actions, 1)
	require.IsType(t, SendMenu{}, actions[0])
	require.Equal(t, "521000", actions[0].(SendMenu).To)
}

func TestMenuSelectionEntersSubmenu(t *testing.T) {
	e := NewEngine(DefaultCatalog())
	sess := session.NewSession("521000")
	sess.Stage = session.StageMenuRoot

	next, actions := e.Decide(sess, selectionEvent("521000", "5"))
	require.Equal(t, session.StageSubmenu, next.Stage)
	require.Equal(t, "5", next.Topic)
	require.Len(t, actions, 1)
	send := actions[0].(SendText)
	require.Contains(t, send.Body, "Préstamos a pensionados IMSS")
}

func TestEscalateSelection(t *testing.T) {
	e := NewEngine(DefaultCatalog())
	sess := session.NewSession("521000")
	sess.Stage = session.StageMenuRoot

	ev := selectionEvent("521000", "8")
	next, actions := e.Decide(sess, ev)
	require.Equal(t, session.StageEscalated, next.Stage)
	require.Equal(t, ev.Timestamp, next.EscalatedAt)
	require.Len(t, actions, 2)
	require.IsType(t, NotifyOperator{}, actions[0])
	require.Contains(t, actions[0].(NotifyOperator).Text, "+521000")
	require.IsType(t, SendText{}, actions[1])
	require.Contains(t, actions[1].(SendText).Body, "asesor")
}

func TestNumericTextBehavesLikeSelection(t *testing.T) {
	e := NewEngine(DefaultCatalog())
	sess := session.NewSession("521000")
	sess.Stage = session.StageMenuRoot

	next, _ := e.Decide(sess, textEvent("521000", " 2 "))
	require.Equal(t, session.StageSubmenu, next.Stage)
	require.Equal(t, "2", next.Topic)
}

func TestUnrecognizedSelectionRepeatsMenu(t *testing.T) {
	e := NewEngine(DefaultCatalog())
	sess := session.NewSession("521000")
	sess.Stage = session.StageMenuRoot

	next, actions := e.Decide(sess, selectionEvent("521000", "42"))
	require.Equal(t, session.StageMenuRoot, next.Stage, "stage must not change")
	require.Len(t, actions, 2)
	require.Contains(t, actions[0].(SendText).Body, "Opción no válida")
	require.IsType(t, SendMenu{}, actions[1])
}

func TestFreeTextDelegatesToCompletion(t *testing.T) {
	e := NewEngine(DefaultCatalog())
	sess := session.NewSession("521000")
	sess.Stage = session.StageSubmenu
	sess.Topic = "1"

	next, actions := e.Decide(sess, textEvent("521000", "¿Cómo funciona la modalidad 40?"))
	require.Equal(t, session.StageAwaitingFreeText, next.Stage)
	require.Len(t, actions, 1)
	complete := actions[0].(CompleteText)
	require.Equal(t, "¿Cómo funciona la modalidad 40?", complete.Prompt)
	require.Equal(t, "1", complete.Topic)
}

func TestAttachmentOutranksStageRules(t *testing.T) {
	e := NewEngine(DefaultCatalog())

	for _, stage := range []session.Stage{session.StageNew, session.StageMenuRoot, session.StageEscalated} {
		sess := session.NewSession("521001")
		sess.Stage = stage

		ev := textEvent("521001", "")
		ev.Kind = bus.KindImage
		ev.MediaID = "media-1"

		next, actions := e.Decide(sess, ev)
		require.Equal(t, stage, next.Stage, "relay must not move the funnel")
		require.Len(t, actions, 2)
		require.IsType(t, StartRelay{}, actions[0])
		require.Contains(t, actions[1].(SendText).Body, "asesor")
	}
}

func TestMenuKeywordResetsFromAnyStage(t *testing.T) {
	e := NewEngine(DefaultCatalog())
	sess := session.NewSession("521000")
	sess.Stage = session.StageAwaitingFreeText

	next, actions := e.Decide(sess, textEvent("521000", "menú"))
	require.Equal(t, session.StageMenuRoot, next.Stage)
	require.IsType(t, SendMenu{}, actions[0])
}

func TestEscalatedTextForwardsToOperator(t *testing.T) {
	e := NewEngine(DefaultCatalog())
	sess := session.NewSession("521000")
	sess.Stage = session.StageEscalated

	next, actions := e.Decide(sess, textEvent("521000", "sigo esperando"))
	require.Equal(t, session.StageEscalated, next.Stage)
	require.Len(t, actions, 1)
	require.Contains(t, actions[0].(NotifyOperator).Text, "sigo esperando")
}

func TestEmptyTextWarnsUser(t *testing.T) {
	e := NewEngine(DefaultCatalog())
	sess := session.NewSession("521000")

	next, actions := e.Decide(sess, textEvent("521000", "   "))
	require.Equal(t, session.StageNew, next.Stage)
	require.Len(t, actions, 1)
	require.Contains(t, actions[0].(SendText).Body, "No recibí ningún mensaje")
}

func TestDecideIsDeterministic(t *testing.T) {
	e := NewEngine(DefaultCatalog())
	sess := session.NewSession("521000")
	sess.Stage = session.StageMenuRoot
	ev := selectionEvent("521000", "3")

	next1, actions1 := e.Decide(sess, ev)
	next2, actions2 := e.Decide(sess, ev)
	require.Equal(t, next1, next2)
	require.Equal(t, actions1, actions2)
}

func TestDecideDoesNotMutateInput(t *testing.T) {
	e := NewEngine(DefaultCatalog())
	sess := session.NewSession("521000")

	_, _ = e.Decide(sess, textEvent("521000", "hola"))
	require.Equal(t, session.StageNew, sess.Stage)
}

func TestMenuPromptListsEveryTopic(t *testing.T) {
	e := NewEngine(DefaultCatalog())
	prompt := e.MenuPrompt()
	require.Len(t, prompt.Options, len(e.Catalog.Topics)+1)
	require.Equal(t, "8", prompt.Options[len(prompt.Options)-1].ID)
}
