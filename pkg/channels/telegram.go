package channels

import (
	"fmt"
	"log"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/vickylabs/vickybot/pkg/bus"
	"github.com/vickylabs/vickybot/pkg/config"
	"github.com/vickylabs/vickybot/pkg/utils"
)

// TelegramChannel is the operator console. Escalation notices are pushed
// to the configured operator chat, and the operator can run session
// commands from there.
type TelegramChannel struct {
	BaseChannel
	Config  *config.TelegramConfig
	Ops     OperatorOps
	bot     *tgbotapi.BotAPI
	running bool
}

// NewTelegramChannel creates a new TelegramChannel.
func NewTelegramChannel(cfg *config.TelegramConfig, messageBus *bus.MessageBus, ops OperatorOps) *TelegramChannel {
	return &TelegramChannel{
		BaseChannel: BaseChannel{
			Bus:       messageBus,
			AllowFrom: cfg.AllowFrom,
		},
		Config: cfg,
		Ops:    ops,
	}
}

func (c *TelegramChannel) Name() string {
	return "telegram"
}

func (c *TelegramChannel) Start() error {
	if !c.Config.Enabled || c.Config.Token == "" {
		return nil
	}

	var err error
	c.bot, err = tgbotapi.NewBotAPI(c.Config.Token)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	log.Printf("Telegram operator console authorized on account %s", c.bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := c.bot.GetUpdatesChan(u)
	c.running = true

	go func() {
		for update := range updates {
			if !c.running {
				break
			}
			if update.Message == nil {
				continue
			}
			c.handleUpdate(update)
		}
	}()

	return nil
}

func (c *TelegramChannel) Stop() error {
	c.running = false
	if c.bot != nil {
		c.bot.StopReceivingUpdates()
	}
	return nil
}

// Send pushes a notice to the operator chat. The To field is ignored:
// this channel has a single recipient.
func (c *TelegramChannel) Send(msg bus.OutboundMessage) error {
	if c.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}
	content := msg.Content
	if content == "" && msg.List != nil {
		content = msg.List.Body
	}
	if content == "" {
		return nil
	}
	reply := tgbotapi.NewMessage(c.Config.OperatorChatID, content)
	_, err := c.bot.Send(reply)
	return err
}

func (c *TelegramChannel) handleUpdate(update tgbotapi.Update) {
	msg := update.Message
	if msg.Chat.ID != c.Config.OperatorChatID {
		return
	}

	if !msg.IsCommand() {
		return
	}

	var reply string
	arg := utils.NormalizePhone(strings.TrimSpace(msg.CommandArguments()))

	switch msg.Command() {
	case "start", "help":
		reply = "Comandos:\n/reset <telefono> reinicia la sesion\n/status <telefono> muestra la etapa actual"
	case "reset":
		if arg == "" {
			reply = "Uso: /reset <telefono>"
		} else if err := c.Ops.ResetSession(arg); err != nil {
			reply = fmt.Sprintf("No se pudo reiniciar %s: %v", arg, err)
		} else {
			reply = fmt.Sprintf("Sesion de %s reiniciada al menu.", arg)
		}
	case "status":
		if arg == "" {
			reply = "Uso: /status <telefono>"
		} else if status, err := c.Ops.SessionStatus(arg); err != nil {
			reply = fmt.Sprintf("Sin sesion para %s: %v", arg, err)
		} else {
			reply = status
		}
	default:
		return
	}

	if _, err := c.bot.Send(tgbotapi.NewMessage(msg.Chat.ID, reply)); err != nil {
		log.Printf("Telegram: failed to reply to operator: %v", err)
	}
}
