package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

type WhatsAppConfig struct {
	Enabled       bool     `json:"enabled"`
	ListenAddr    string   `json:"listenAddr"`
	VerifyToken   string   `json:"verifyToken"`
	AccessToken   string   `json:"accessToken"`
	PhoneNumberID string   `json:"phoneNumberId"`
	AppSecret     string   `json:"appSecret"`
	APIVersion    string   `json:"apiVersion"`
	AdvisorNumber string   `json:"advisorNumber"`
	AllowFrom     []string `json:"allowFrom"`
}

type TelegramConfig struct {
	Enabled        bool     `json:"enabled"`
	Token          string   `json:"token"`
	OperatorChatID int64    `json:"operatorChatId"`
	AllowFrom      []string `json:"allowFrom"`
}

type FeishuConfig struct {
	Enabled        bool   `json:"enabled"`
	AppID          string `json:"appId"`
	AppSecret      string `json:"appSecret"`
	OperatorOpenID string `json:"operatorOpenId"`
}

type DingTalkConfig struct {
	Enabled        bool     `json:"enabled"`
	ClientID       string   `json:"clientId"`
	AppSecret      string   `json:"appSecret"`
	RobotCode      string   `json:"robotCode"`
	OperatorUserID string   `json:"operatorUserId"`
	AllowFrom      []string `json:"allowFrom"`
}

type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Telegram TelegramConfig `json:"telegram"`
	Feishu   FeishuConfig   `json:"feishu"`
	DingTalk DingTalkConfig `json:"dingtalk"`
}

type FunnelConfig struct {
	MenuPath                 string `json:"menuPath"`
	EscalationTimeoutMinutes int    `json:"escalationTimeoutMinutes"`
	DedupWindow              int    `json:"dedupWindow"`
}

type RelayConfig struct {
	MaxAttempts   int `json:"maxAttempts"`
	BackoffBaseMs int `json:"backoffBaseMs"`
	BudgetSeconds int `json:"budgetSeconds"`
	MaxBytes      int `json:"maxBytes"`
}

type ProviderConfig struct {
	APIKey  string `json:"apiKey"`
	APIBase string `json:"apiBase,omitempty"`
}

type ProvidersConfig struct {
	OpenAI   ProviderConfig `json:"openai"`
	DeepSeek ProviderConfig `json:"deepseek"`
	Groq     ProviderConfig `json:"groq"`
}

type CompletionConfig struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature"`
}

type SheetsConfig struct {
	Enabled         bool   `json:"enabled"`
	SpreadsheetID   string `json:"spreadsheetId"`
	SheetTitle      string `json:"sheetTitle"`
	CredentialsJSON string `json:"credentialsJson,omitempty"`
}

type PromoJob struct {
	Name string   `json:"name"`
	Cron string   `json:"cron"`
	To   []string `json:"to"`
	Text string   `json:"text"`
}

type Config struct {
	Workspace  string           `json:"workspace"`
	Channels   ChannelsConfig   `json:"channels"`
	Funnel     FunnelConfig     `json:"funnel"`
	Relay      RelayConfig      `json:"relay"`
	Providers  ProvidersConfig  `json:"providers"`
	Completion CompletionConfig `json:"completion"`
	Sheets     SheetsConfig     `json:"sheets"`
	Promos     []PromoJob       `json:"promos"`
}

// envOverrides mirrors the environment variables the bot historically reads.
// They always win over the config file so secrets can stay out of it.
type envOverrides struct {
	VerifyToken     string `env:"VERIFY_TOKEN"`
	AccessToken     string `env:"META_TOKEN"`
	PhoneNumberID   string `env:"PHONE_NUMBER_ID"`
	AppSecret       string `env:"META_APP_SECRET"`
	AdvisorNumber   string `env:"ADVISOR_NUMBER"`
	OpenAIKey       string `env:"OPENAI_API_KEY"`
	Model           string `env:"GPT_MODEL"`
	SpreadsheetID   string `env:"SHEET_ID_SECOM"`
	SheetTitle      string `env:"SHEET_TITLE_SECOM"`
	CredentialsJSON string `env:"GOOGLE_CREDENTIALS_JSON"`
	TelegramToken   string `env:"TELEGRAM_TOKEN"`
	ListenAddr      string `env:"LISTEN_ADDR"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Workspace: ".vickybot/workspace",
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				Enabled:    true,
				ListenAddr: "0.0.0.0:5000",
				APIVersion: "v20.0",
			},
		},
		Funnel: FunnelConfig{
			EscalationTimeoutMinutes: 30,
			DedupWindow:              32,
		},
		Relay: RelayConfig{
			MaxAttempts:   3,
			BackoffBaseMs: 500,
			BudgetSeconds: 90,
			MaxBytes:      16 * 1024 * 1024,
		},
		Completion: CompletionConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			MaxTokens:   400,
			Temperature: 0.7,
		},
		Sheets: SheetsConfig{
			SheetTitle: "Prospectos SECOM Auto",
		},
	}
}

// LoadConfig loads the configuration from the given path and applies
// environment overrides on top.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = filepath.Join(".vickybot", "config.json")
	}

	config := DefaultConfig()

	file, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else {
		defer file.Close()
		decoder := json.NewDecoder(file)
		if err := decoder.Decode(config); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}

	return config, nil
}

func applyEnvOverrides(cfg *Config) error {
	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return err
	}

	wa := &cfg.Channels.WhatsApp
	if ov.VerifyToken != "" {
		wa.VerifyToken = ov.VerifyToken
	}
	if ov.AccessToken != "" {
		wa.AccessToken = ov.AccessToken
	}
	if ov.PhoneNumberID != "" {
		wa.PhoneNumberID = ov.PhoneNumberID
	}
	if ov.AppSecret != "" {
		wa.AppSecret = ov.AppSecret
	}
	if ov.AdvisorNumber != "" {
		wa.AdvisorNumber = ov.AdvisorNumber
	}
	if ov.ListenAddr != "" {
		wa.ListenAddr = ov.ListenAddr
	}
	if ov.OpenAIKey != "" {
		cfg.Providers.OpenAI.APIKey = ov.OpenAIKey
	}
	if ov.Model != "" {
		cfg.Completion.Model = ov.Model
	}
	if ov.SpreadsheetID != "" {
		cfg.Sheets.SpreadsheetID = ov.SpreadsheetID
	}
	if ov.SheetTitle != "" {
		cfg.Sheets.SheetTitle = ov.SheetTitle
	}
	if ov.CredentialsJSON != "" {
		cfg.Sheets.CredentialsJSON = ov.CredentialsJSON
	}
	if ov.TelegramToken != "" {
		cfg.Channels.Telegram.Token = ov.TelegramToken
	}
	return nil
}
