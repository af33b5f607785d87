package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	dingtalkoauth2 "github.com/alibabacloud-go/dingtalk/oauth2_1_0"
	dingtalkrobot "github.com/alibabacloud-go/dingtalk/robot_1_0"
	util "github.com/alibabacloud-go/tea-utils/v2/service"
	"github.com/alibabacloud-go/tea/tea"
	"github.com/open-dingtalk/dingtalk-stream-sdk-go/chatbot"
	"github.com/open-dingtalk/dingtalk-stream-sdk-go/client"
	"github.com/open-dingtalk/dingtalk-stream-sdk-go/logger"

	"github.com/vickylabs/vickybot/pkg/bus"
	"github.com/vickylabs/vickybot/pkg/config"
	"github.com/vickylabs/vickybot/pkg/utils"
)

// DingTalkChannel is an operator console over the DingTalk stream API.
// Notices are pushed to the configured operator user, and the operator
// can run session commands by messaging the robot.
type DingTalkChannel struct {
	BaseChannel
	Config       *config.DingTalkConfig
	Ops          OperatorOps
	streamClient *client.StreamClient
	robotClient  *dingtalkrobot.Client
	oauthClient  *dingtalkoauth2.Client

	tokenMu       sync.RWMutex
	accessToken   string
	tokenExpireAt time.Time
}

func NewDingTalkChannel(cfg *config.DingTalkConfig, messageBus *bus.MessageBus, ops OperatorOps) *DingTalkChannel {
	return &DingTalkChannel{
		BaseChannel: BaseChannel{
			Bus:       messageBus,
			AllowFrom: cfg.AllowFrom,
		},
		Config: cfg,
		Ops:    ops,
	}
}

func (c *DingTalkChannel) Name() string {
	return "dingtalk"
}

func (c *DingTalkChannel) Start() error {
	if !c.Config.Enabled || c.Config.ClientID == "" || c.Config.AppSecret == "" {
		return nil
	}

	apiConfig := &openapi.Config{
		Protocol: tea.String("https"),
		RegionId: tea.String("central"),
	}

	robotClient, err := dingtalkrobot.NewClient(apiConfig)
	if err != nil {
		return fmt.Errorf("failed to init dingtalk robot client: %v", err)
	}
	c.robotClient = robotClient

	oauthClient, err := dingtalkoauth2.NewClient(apiConfig)
	if err != nil {
		return fmt.Errorf("failed to init dingtalk oauth client: %v", err)
	}
	c.oauthClient = oauthClient

	logger.SetLogger(logger.NewStdTestLogger())
	c.streamClient = client.NewStreamClient(client.WithAppCredential(client.NewAppCredentialConfig(c.Config.ClientID, c.Config.AppSecret)))
	c.streamClient.RegisterChatBotCallbackRouter(c.onChatReceive)

	go func() {
		log.Println("Starting DingTalk Stream Client...")
		if err := c.streamClient.Start(context.Background()); err != nil {
			log.Printf("DingTalk Stream Client error: %v", err)
		}
	}()

	log.Println("DingTalk operator console started")
	return nil
}

func (c *DingTalkChannel) Stop() error {
	if c.streamClient != nil {
		c.streamClient.Close()
	}
	return nil
}

func (c *DingTalkChannel) getAccessToken() (string, error) {
	c.tokenMu.RLock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpireAt) {
		defer c.tokenMu.RUnlock()
		return c.accessToken, nil
	}
	c.tokenMu.RUnlock()

	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	// Double check
	if c.accessToken != "" && time.Now().Before(c.tokenExpireAt) {
		return c.accessToken, nil
	}

	req := &dingtalkoauth2.GetAccessTokenRequest{
		AppKey:    tea.String(c.Config.ClientID),
		AppSecret: tea.String(c.Config.AppSecret),
	}
	resp, err := c.oauthClient.GetAccessToken(req)
	if err != nil {
		return "", err
	}

	if resp.Body == nil || resp.Body.AccessToken == nil {
		return "", fmt.Errorf("failed to get access token, response body is empty")
	}

	c.accessToken = *resp.Body.AccessToken
	// ExpireIn is seconds. Buffer it by 60s
	expireIn := *resp.Body.ExpireIn
	c.tokenExpireAt = time.Now().Add(time.Duration(expireIn-60) * time.Second)

	return c.accessToken, nil
}

// onChatReceive handles operator commands sent to the robot.
func (c *DingTalkChannel) onChatReceive(ctx context.Context, data *chatbot.BotCallbackDataModel) ([]byte, error) {
	content := strings.TrimSpace(data.Text.Content)
	if content == "" {
		return nil, nil
	}

	senderStaffId := data.SenderStaffId
	if senderStaffId == "" {
		senderStaffId = data.SenderId
	}
	if senderStaffId == "" {
		log.Printf("[DingTalk] Message missing senderStaffId/senderId")
		return nil, nil
	}
	if !c.IsAllowed(senderStaffId) {
		log.Printf("[DingTalk] Message from unauthorized user: %s", senderStaffId)
		return nil, nil
	}

	reply := c.runCommand(content)
	if reply == "" {
		return nil, nil
	}

	token, err := c.getAccessToken()
	if err != nil {
		log.Printf("[DingTalk] Failed to get access token: %v", err)
		return nil, nil
	}
	if err := c.sendOTO(token, senderStaffId, reply); err != nil {
		log.Printf("[DingTalk] Failed to reply to operator: %v", err)
	}
	return nil, nil
}

func (c *DingTalkChannel) runCommand(content string) string {
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return ""
	}

	cmd := strings.ToLower(fields[0])
	var arg string
	if len(fields) > 1 {
		arg = utils.NormalizePhone(fields[1])
	}

	switch cmd {
	case "/help", "help":
		return "Comandos:\n/reset <telefono> reinicia la sesion\n/status <telefono> muestra la etapa actual"
	case "/reset":
		if arg == "" {
			return "Uso: /reset <telefono>"
		}
		if err := c.Ops.ResetSession(arg); err != nil {
			return fmt.Sprintf("No se pudo reiniciar %s: %v", arg, err)
		}
		return fmt.Sprintf("Sesion de %s reiniciada al menu.", arg)
	case "/status":
		if arg == "" {
			return "Uso: /status <telefono>"
		}
		status, err := c.Ops.SessionStatus(arg)
		if err != nil {
			return fmt.Sprintf("Sin sesion para %s: %v", arg, err)
		}
		return status
	}
	return ""
}

type dingTalkSampleTextParam struct {
	Content string `json:"content"`
}

// Send pushes a text notice to the operator user id. The To field is
// ignored: this channel has a single recipient.
func (c *DingTalkChannel) Send(msg bus.OutboundMessage) error {
	if c.robotClient == nil {
		return fmt.Errorf("dingtalk robot not initialized")
	}

	content := msg.Content
	if content == "" && msg.List != nil {
		content = msg.List.Body
	}
	if content == "" {
		return nil
	}

	token, err := c.getAccessToken()
	if err != nil {
		return fmt.Errorf("failed to get access token: %v", err)
	}
	return c.sendOTO(token, c.Config.OperatorUserID, content)
}

func (c *DingTalkChannel) sendOTO(token, userID, content string) error {
	headers := &dingtalkrobot.BatchSendOTOHeaders{
		XAcsDingtalkAccessToken: tea.String(token),
	}

	param := dingTalkSampleTextParam{Content: content}
	msgParamBytes, _ := json.Marshal(param)

	req := &dingtalkrobot.BatchSendOTORequest{
		RobotCode: tea.String(c.Config.RobotCode),
		UserIds:   []*string{tea.String(userID)},
		MsgKey:    tea.String("sampleText"),
		MsgParam:  tea.String(string(msgParamBytes)),
	}

	_, err := c.robotClient.BatchSendOTOWithOptions(req, headers, &util.RuntimeOptions{})
	return err
}
