package dispatch

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vickylabs/vickybot/pkg/bus"
	"github.com/vickylabs/vickybot/pkg/funnel"
	"github.com/vickylabs/vickybot/pkg/providers"
	"github.com/vickylabs/vickybot/pkg/relay"
	"github.com/vickylabs/vickybot/pkg/session"
	"github.com/vickylabs/vickybot/pkg/sheets"
)

const systemPrompt = "Eres Vicky, la asistente virtual de Christian López, asesor en seguros, " +
	"pensiones IMSS y financiamiento en México. Responde en español, de forma breve, cordial y " +
	"profesional. Si la consulta requiere atención personal, sugiere escribir *menu* y elegir la " +
	"opción 8 para hablar con Christian."

// Relayer runs one media relay to completion.
type Relayer interface {
	Run(ctx context.Context, asset relay.Asset) relay.Result
}

// ProspectDirectory is the prospect sheet surface the dispatcher uses.
type ProspectDirectory interface {
	AppendInteraction(ctx context.Context, phone, inbound, outbound, stage string) error
	LookupByPhone(ctx context.Context, phone string) (*sheets.Prospect, error)
}

// Dispatcher consumes inbound events from the bus and drives the funnel.
// Events from distinct senders are processed concurrently; events from the
// same sender are strictly serialized, so dedup check, decision and commit
// never interleave for one sender.
type Dispatcher struct {
	Bus       *bus.MessageBus
	Store     *session.Store
	Engine    *funnel.Engine
	Completer providers.Completer // nil disables free-text completion
	Relay     Relayer
	Sheets    ProspectDirectory // nil disables prospect lookup and logging

	UserChannel       string   // channel replies to end users go through
	OperatorChannels  []string // channels escalation notices fan out to
	AdvisorNumber     string   // advisor's WhatsApp number, relay target
	CompletionTimeout time.Duration

	mu     sync.Mutex
	queues map[string]*senderQueue
	wg     sync.WaitGroup
}

type senderQueue struct {
	events  []bus.InboundEvent
	running bool
}

// NewDispatcher creates a Dispatcher with the WhatsApp channel as the user
// surface.
func NewDispatcher(b *bus.MessageBus, store *session.Store, engine *funnel.Engine) *Dispatcher {
	return &Dispatcher{
		Bus:               b,
		Store:             store,
		Engine:            engine,
		UserChannel:       "whatsapp",
		CompletionTimeout: 30 * time.Second,
		queues:            make(map[string]*senderQueue),
	}
}

// Run consumes the bus until ctx is cancelled. In-flight sender queues are
// drained before Run returns.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return
		case ev, ok := <-d.Bus.ConsumeInbound():
			if !ok {
				d.wg.Wait()
				return
			}
			d.enqueue(ctx, ev)
		}
	}
}

// enqueue appends the event to its sender's queue and starts a drain
// goroutine when none is running. One goroutine per active sender.
func (d *Dispatcher) enqueue(ctx context.Context, ev bus.InboundEvent) {
	d.mu.Lock()
	q, ok := d.queues[ev.SenderID]
	if !ok {
		q = &senderQueue{}
		d.queues[ev.SenderID] = q
	}
	q.events = append(q.events, ev)
	start := !q.running
	if start {
		q.running = true
		d.wg.Add(1)
	}
	d.mu.Unlock()

	if start {
		go d.drain(ctx, ev.SenderID)
	}
}

func (d *Dispatcher) drain(ctx context.Context, senderID string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		q := d.queues[senderID]
		if len(q.events) == 0 {
			q.running = false
			delete(d.queues, senderID)
			d.mu.Unlock()
			return
		}
		ev := q.events[0]
		q.events = q.events[1:]
		d.mu.Unlock()

		d.process(ctx, ev)
	}
}

func (d *Dispatcher) process(ctx context.Context, ev bus.InboundEvent) {
	if d.Store.HasSeen(ev.SenderID, ev.MessageID) {
		log.Printf("dispatch: duplicate message %s from %s dropped", ev.MessageID, ev.SenderID)
		return
	}

	sess := d.Store.GetOrCreate(ev.SenderID)
	firstContact := sess.Stage == session.StageNew

	next, actions := d.Engine.Decide(sess, ev)
	asset := d.prepareRelay(next, actions, ev)

	if err := d.Store.Commit(ev.SenderID, sess.Stage, next, ev.MessageID); err != nil {
		// An operator command moved the session between read and commit.
		// Re-read and decide once more against the fresh stage.
		sess = d.Store.GetOrCreate(ev.SenderID)
		next, actions = d.Engine.Decide(sess, ev)
		asset = d.prepareRelay(next, actions, ev)
		if err := d.Store.Commit(ev.SenderID, sess.Stage, next, ev.MessageID); err != nil {
			log.Printf("dispatch: commit for %s failed twice, message %s dropped: %v", ev.SenderID, ev.MessageID, err)
			return
		}
	}

	if firstContact {
		d.greetProspect(ctx, ev, actions)
	}

	var outbound []string
	for _, action := range actions {
		outbound = append(outbound, d.execute(ctx, action))
	}
	if asset != nil {
		a := *asset
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.runRelay(a)
		}()
	}

	d.logInteraction(ev, next, outbound)
}

// prepareRelay assigns a relay id before commit so the pending handle is
// stored atomically with the session transition.
func (d *Dispatcher) prepareRelay(next *session.Session, actions []funnel.Action, ev bus.InboundEvent) *relay.Asset {
	for _, action := range actions {
		if _, ok := action.(funnel.StartRelay); !ok {
			continue
		}
		relayID := uuid.New().String()
		next.PendingRelay = relayID
		return &relay.Asset{
			RelayID:         relayID,
			SenderID:        ev.SenderID,
			SourceID:        ev.MediaID,
			Kind:            ev.Kind,
			MimeType:        ev.MimeType,
			Filename:        ev.Filename,
			TargetRecipient: d.AdvisorNumber,
		}
	}
	return nil
}

// execute performs one action and returns a short description for the
// interaction log.
func (d *Dispatcher) execute(ctx context.Context, action funnel.Action) string {
	switch a := action.(type) {
	case funnel.SendText:
		d.sendText(a.To, a.Body)
		return a.Body
	case funnel.SendMenu:
		d.sendMenu(a.To)
		return "[menu]"
	case funnel.NotifyOperator:
		d.notifyOperator(a.Text)
		return "[operador notificado]"
	case funnel.CompleteText:
		reply := d.complete(ctx, a)
		d.sendText(a.To, reply)
		return reply
	case funnel.StartRelay:
		return "[reenvio de archivo]"
	}
	return ""
}

func (d *Dispatcher) sendText(to, body string) {
	d.Bus.PublishOutbound(bus.OutboundMessage{
		Channel: d.UserChannel,
		To:      to,
		Content: body,
	})
}

func (d *Dispatcher) sendMenu(to string) {
	d.Bus.PublishOutbound(bus.OutboundMessage{
		Channel: d.UserChannel,
		To:      to,
		Content: d.Engine.Catalog.MenuText(),
		List:    d.Engine.MenuPrompt(),
	})
}

// notifyOperator fans the notice out to the advisor's WhatsApp and every
// operator console channel.
func (d *Dispatcher) notifyOperator(text string) {
	if d.AdvisorNumber != "" {
		d.sendText(d.AdvisorNumber, text)
	}
	for _, ch := range d.OperatorChannels {
		d.Bus.PublishOutbound(bus.OutboundMessage{
			Channel: ch,
			Content: text,
		})
	}
}

func (d *Dispatcher) complete(ctx context.Context, a funnel.CompleteText) string {
	if d.Completer == nil {
		return d.Engine.Catalog.CompletionFallback
	}

	timeout := d.CompletionTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := a.Prompt
	if a.Topic != "" {
		if topic, ok := d.Engine.Catalog.Topic(a.Topic); ok {
			prompt = fmt.Sprintf("(El cliente está consultando sobre: %s)\n%s", topic.Title, a.Prompt)
		}
	}

	reply, err := d.Completer.Complete(cctx, systemPrompt, nil, prompt)
	if err != nil || strings.TrimSpace(reply) == "" {
		log.Printf("dispatch: completion for %s failed: %v", a.To, err)
		return d.Engine.Catalog.CompletionFallback
	}
	return reply
}

func (d *Dispatcher) runRelay(asset relay.Asset) {
	defer d.Store.ClearPendingRelay(asset.SenderID, asset.RelayID)

	if d.Relay == nil {
		log.Printf("dispatch: relay %s dropped, no pipeline configured", asset.RelayID)
		d.sendText(asset.SenderID, d.Engine.Catalog.RelayApology)
		return
	}

	res := d.Relay.Run(context.Background(), asset)
	if res.Err != nil {
		log.Printf("dispatch: relay %s from %s failed after %s: %v", asset.RelayID, asset.SenderID, res.Elapsed, res.Err)
		d.sendText(asset.SenderID, d.Engine.Catalog.RelayApology)
		d.notifyOperator(fmt.Sprintf("⚠️ No se pudo reenviar un archivo de +%s: %v", asset.SenderID, res.Err))
		return
	}
	log.Printf("dispatch: relay %s from %s delivered in %s", asset.RelayID, asset.SenderID, res.Elapsed)
}

// greetProspect prepends a personal greeting when a known prospect shows
// up for the first time and the funnel is about to present the menu.
func (d *Dispatcher) greetProspect(ctx context.Context, ev bus.InboundEvent, actions []funnel.Action) {
	if d.Sheets == nil {
		return
	}
	sendsMenu := false
	for _, action := range actions {
		if _, ok := action.(funnel.SendMenu); ok {
			sendsMenu = true
			break
		}
	}
	if !sendsMenu {
		return
	}

	lctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	prospect, err := d.Sheets.LookupByPhone(lctx, ev.SenderID)
	if err != nil {
		log.Printf("dispatch: prospect lookup for %s failed: %v", ev.SenderID, err)
		return
	}
	if prospect == nil || prospect.Name == "" {
		return
	}

	first := strings.Fields(prospect.Name)[0]
	d.sendText(ev.SenderID, fmt.Sprintf("¡Hola %s! 👋 Qué gusto saludarte de nuevo.", first))
}

func (d *Dispatcher) logInteraction(ev bus.InboundEvent, next *session.Session, outbound []string) {
	if d.Sheets == nil {
		return
	}

	inbound := ev.Text
	if ev.Kind.IsMedia() {
		inbound = fmt.Sprintf("[%s]", ev.Kind)
	} else if ev.Kind == bus.KindInteractive {
		inbound = fmt.Sprintf("[opción %s]", ev.Selection)
	}

	var parts []string
	for _, o := range outbound {
		if o != "" {
			parts = append(parts, o)
		}
	}

	stage := string(next.Stage)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.Sheets.AppendInteraction(ctx, ev.SenderID, inbound, strings.Join(parts, " | "), stage); err != nil {
			log.Printf("dispatch: failed to log interaction for %s: %v", ev.SenderID, err)
		}
	}()
}

// ResetSession implements channels.OperatorOps. The phone may be the local
// 10-digit form or the full wa_id.
func (d *Dispatcher) ResetSession(phone string) error {
	senderID, ok := d.resolveSender(phone)
	if !ok {
		return fmt.Errorf("no session for %s", phone)
	}
	d.Store.Reset(senderID)
	d.sendText(senderID, "Un asesor reinició tu conversación. Este es el menú:")
	d.sendMenu(senderID)
	return nil
}

// SessionStatus implements channels.OperatorOps.
func (d *Dispatcher) SessionStatus(phone string) (string, error) {
	senderID, ok := d.resolveSender(phone)
	if !ok {
		return "", fmt.Errorf("no session for %s", phone)
	}
	sess, _ := d.Store.Snapshot(senderID)
	status := fmt.Sprintf("%s: %s", senderID, sess.Stage)
	if sess.Topic != "" {
		status += fmt.Sprintf(" (tema %s)", sess.Topic)
	}
	if !sess.EscalatedAt.IsZero() {
		status += fmt.Sprintf(", escalado %s", sess.EscalatedAt.Format("15:04"))
	}
	if sess.PendingRelay != "" {
		status += ", reenvio en curso"
	}
	return status, nil
}

// resolveSender maps an operator-typed phone to a stored sender id, trying
// the Mexican wa_id prefixes the Cloud API uses.
func (d *Dispatcher) resolveSender(phone string) (string, bool) {
	for _, candidate := range []string{phone, "521" + phone, "52" + phone} {
		if _, ok := d.Store.Snapshot(candidate); ok {
			return candidate, true
		}
	}
	return "", false
}

// ExpireEscalations reverts escalations older than timeout to the menu and
// tells the affected senders. Wired to the cron sweep.
func (d *Dispatcher) ExpireEscalations(timeout time.Duration) {
	expired := d.Store.ExpireEscalations(time.Now().Add(-timeout))
	for _, senderID := range expired {
		log.Printf("dispatch: escalation for %s expired after %s", senderID, timeout)
		d.sendText(senderID, d.Engine.Catalog.EscalationExpired)
		d.sendMenu(senderID)
	}
}
