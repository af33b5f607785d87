package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/vickylabs/vickybot/pkg/bus"
	"github.com/vickylabs/vickybot/pkg/config"
)

// FeishuChannel is a send-only notifier: escalation and relay failure
// notices are delivered to the operator's open id.
type FeishuChannel struct {
	BaseChannel
	Config *config.FeishuConfig
	client *lark.Client
}

// NewFeishuChannel creates a new FeishuChannel.
func NewFeishuChannel(cfg *config.FeishuConfig, messageBus *bus.MessageBus) *FeishuChannel {
	return &FeishuChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		Config:      cfg,
	}
}

func (c *FeishuChannel) Name() string {
	return "feishu"
}

func (c *FeishuChannel) Start() error {
	if !c.Config.Enabled || c.Config.AppID == "" || c.Config.AppSecret == "" {
		return nil
	}
	c.client = lark.NewClient(c.Config.AppID, c.Config.AppSecret)
	log.Println("Feishu notifier started")
	return nil
}

func (c *FeishuChannel) Stop() error {
	return nil
}

// Send pushes a text notice to the operator open id.
func (c *FeishuChannel) Send(msg bus.OutboundMessage) error {
	if c.client == nil {
		return fmt.Errorf("feishu client not initialized")
	}
	content := msg.Content
	if content == "" && msg.List != nil {
		content = msg.List.Body
	}
	if content == "" {
		return nil
	}

	textContent, err := json.Marshal(map[string]string{"text": content})
	if err != nil {
		return fmt.Errorf("failed to marshal message content: %w", err)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeOpenId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(c.Config.OperatorOpenID).
			MsgType(larkim.MsgTypeText).
			Content(string(textContent)).
			Build()).
		Build()

	resp, err := c.client.Im.Message.Create(context.Background(), req)
	if err != nil {
		return fmt.Errorf("failed to send Feishu message: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("feishu send failed: %d %s", resp.Code, resp.Msg)
	}
	return nil
}
