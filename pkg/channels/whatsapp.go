package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vickylabs/vickybot/pkg/bus"
	"github.com/vickylabs/vickybot/pkg/config"
	"github.com/vickylabs/vickybot/pkg/signature"
	"github.com/vickylabs/vickybot/pkg/utils"
	"github.com/vickylabs/vickybot/pkg/wabapi"
)

// WhatsAppChannel receives WhatsApp Cloud API webhooks and sends replies
// through the Graph API.
type WhatsAppChannel struct {
	BaseChannel
	Config *config.WhatsAppConfig
	API    *wabapi.Client

	server *http.Server
}

// NewWhatsAppChannel creates a new WhatsAppChannel.
func NewWhatsAppChannel(cfg *config.WhatsAppConfig, messageBus *bus.MessageBus, api *wabapi.Client) *WhatsAppChannel {
	return &WhatsAppChannel{
		BaseChannel: BaseChannel{
			Bus:       messageBus,
			AllowFrom: cfg.AllowFrom,
		},
		Config: cfg,
		API:    api,
	}
}

func (c *WhatsAppChannel) Name() string {
	return "whatsapp"
}

func (c *WhatsAppChannel) Start() error {
	if !c.Config.Enabled {
		return nil
	}

	addr := c.Config.ListenAddr
	if addr == "" {
		addr = ":8080"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", c.handleWebhook)
	mux.HandleFunc("/ext/health", c.handleHealth)
	mux.HandleFunc("/ext/send-promo", c.handleSendPromo)

	c.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("WhatsApp webhook listening on %s", addr)
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("WhatsApp webhook server error: %v", err)
		}
	}()

	return nil
}

func (c *WhatsAppChannel) Stop() error {
	if c.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.server.Shutdown(ctx)
}

// Send delivers an outbound message, as an interactive list when one is
// attached and plain text otherwise.
func (c *WhatsAppChannel) Send(msg bus.OutboundMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if msg.List != nil {
		rows := make([]wabapi.ListRow, 0, len(msg.List.Options))
		for _, opt := range msg.List.Options {
			rows = append(rows, wabapi.ListRow{
				ID:          opt.ID,
				Title:       opt.Title,
				Description: opt.Description,
			})
		}
		return c.API.SendList(ctx, msg.To, msg.List.Header, msg.List.Body, msg.List.ButtonText, rows)
	}
	return c.API.SendText(ctx, msg.To, msg.Content)
}

func (c *WhatsAppChannel) handleWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		c.handleVerify(w, r)
	case http.MethodPost:
		c.handleEvent(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleVerify answers the Meta webhook subscription handshake.
func (c *WhatsAppChannel) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == c.Config.VerifyToken {
		w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	w.WriteHeader(http.StatusForbidden)
}

func (c *WhatsAppChannel) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !signature.Verify(body, r.Header.Get("X-Hub-Signature-256"), c.Config.AppSecret) {
		log.Printf("WhatsApp webhook: signature verification failed")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	// Always acknowledge after authentication so Meta does not retry;
	// malformed payloads are logged and dropped.
	w.WriteHeader(http.StatusOK)

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		log.Printf("WhatsApp webhook: failed to decode envelope: %v", err)
		return
	}

	for _, entry := range envelope.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				c.handleMessage(msg)
			}
			// change.Value.Statuses are delivery receipts, not events
		}
	}
}

func (c *WhatsAppChannel) handleMessage(msg webhookMessage) {
	if msg.From == "" || msg.ID == "" {
		log.Printf("WhatsApp webhook: message missing sender or id, dropped")
		return
	}
	if !c.IsAllowed(msg.From) {
		return
	}

	ev := bus.InboundEvent{
		Channel:   c.Name(),
		SenderID:  msg.From,
		MessageID: msg.ID,
		Timestamp: parseTimestamp(msg.Timestamp),
	}

	switch msg.Type {
	case "text":
		ev.Kind = bus.KindText
		ev.Text = msg.Text.Body
	case "interactive":
		ev.Kind = bus.KindInteractive
		switch {
		case msg.Interactive.ListReply != nil:
			ev.Selection = msg.Interactive.ListReply.ID
			ev.Text = msg.Interactive.ListReply.Title
		case msg.Interactive.ButtonReply != nil:
			ev.Selection = msg.Interactive.ButtonReply.ID
			ev.Text = msg.Interactive.ButtonReply.Title
		default:
			log.Printf("WhatsApp webhook: interactive message %s without reply payload", msg.ID)
			return
		}
	case "image":
		ev.Kind = bus.KindImage
		ev.MediaID = msg.Image.ID
		ev.MimeType = msg.Image.MimeType
	case "document":
		ev.Kind = bus.KindDocument
		ev.MediaID = msg.Document.ID
		ev.MimeType = msg.Document.MimeType
		ev.Filename = msg.Document.Filename
	case "video":
		ev.Kind = bus.KindVideo
		ev.MediaID = msg.Video.ID
		ev.MimeType = msg.Video.MimeType
	case "audio":
		ev.Kind = bus.KindAudio
		ev.MediaID = msg.Audio.ID
		ev.MimeType = msg.Audio.MimeType
	default:
		log.Printf("WhatsApp webhook: unsupported message type %q from %s", msg.Type, msg.From)
		return
	}

	c.Bus.PublishInbound(ev)
}

func (c *WhatsAppChannel) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "channel": c.Name()})
}

// handleSendPromo pushes a promotional message to one recipient. The body
// is {"to": "...", "text": "...", "image": "optional local path"}.
func (c *WhatsAppChannel) handleSendPromo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		To    string `json:"to"`
		Text  string `json:"text"`
		Image string `json:"image,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.To == "" || req.Text == "" {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"to and text are required"}`)
		return
	}

	go c.sendPromo(req.To, req.Text, req.Image)

	w.WriteHeader(http.StatusAccepted)
	fmt.Fprint(w, `{"status":"queued"}`)
}

func (c *WhatsAppChannel) sendPromo(to, text, image string) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if image != "" {
		reader, filename, err := utils.GetMediaReader(image)
		if err != nil {
			log.Printf("promo to %s: failed to open image %s: %v", to, image, err)
		} else {
			data, readErr := io.ReadAll(reader)
			reader.Close()
			if readErr != nil {
				log.Printf("promo to %s: failed to read image: %v", to, readErr)
			} else {
				mimeType := mime.TypeByExtension(filepath.Ext(filename))
				if mimeType == "" {
					mimeType = "image/jpeg"
				}
				mediaID, upErr := c.API.Upload(ctx, data, mimeType, filename)
				if upErr != nil {
					log.Printf("promo to %s: upload failed: %v", to, upErr)
				} else if err := c.API.SendMedia(ctx, to, mediaID, "image", text); err != nil {
					log.Printf("promo to %s: send failed: %v", to, err)
				} else {
					return
				}
			}
		}
	}

	if err := c.API.SendText(ctx, to, text); err != nil {
		log.Printf("promo to %s: send failed: %v", to, err)
	}
}

func parseTimestamp(ts string) time.Time {
	if secs, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0)
	}
	return time.Now()
}

// webhookEnvelope mirrors the Cloud API notification payload.
type webhookEnvelope struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Messages []webhookMessage  `json:"messages"`
				Statuses []json.RawMessage `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

type webhookMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive struct {
		Type      string `json:"type"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
	} `json:"interactive"`
	Image    webhookMedia `json:"image"`
	Document webhookMedia `json:"document"`
	Video    webhookMedia `json:"video"`
	Audio    webhookMedia `json:"audio"`
}
