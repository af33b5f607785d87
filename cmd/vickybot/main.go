package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/vickylabs/vickybot/pkg/bus"
	"github.com/vickylabs/vickybot/pkg/channels"
	"github.com/vickylabs/vickybot/pkg/config"
	"github.com/vickylabs/vickybot/pkg/cron"
	"github.com/vickylabs/vickybot/pkg/dispatch"
	"github.com/vickylabs/vickybot/pkg/funnel"
	"github.com/vickylabs/vickybot/pkg/providers"
	"github.com/vickylabs/vickybot/pkg/relay"
	"github.com/vickylabs/vickybot/pkg/session"
	"github.com/vickylabs/vickybot/pkg/sheets"
	"github.com/vickylabs/vickybot/pkg/signature"
	"github.com/vickylabs/vickybot/pkg/utils"
	"github.com/vickylabs/vickybot/pkg/wabapi"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: vickybot <command> [args]")
		fmt.Println("Commands: serve, onboard, probe")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "onboard":
		runOnboard()
	case "probe":
		runProbe(os.Args[2:])
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("c", "", "Path to config file")
	fs.Parse(args)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	workspace := expandPath(cfg.Workspace)
	utils.SetupLogger(filepath.Join(workspace, "logs"))

	messageBus := bus.NewMessageBus()
	store := session.NewStore(cfg.Funnel.DedupWindow, 4096)

	catalog, err := funnel.LoadCatalog(cfg.Funnel.MenuPath)
	if err != nil {
		fmt.Printf("Error loading menu catalog: %v\n", err)
		os.Exit(1)
	}
	engine := funnel.NewEngine(catalog)

	wa := &cfg.Channels.WhatsApp
	api := wabapi.NewClient(wa.AccessToken, wa.PhoneNumberID, wa.APIVersion)

	pipeline := relay.NewPipeline(api, relay.Options{
		MaxAttempts: cfg.Relay.MaxAttempts,
		BackoffBase: time.Duration(cfg.Relay.BackoffBaseMs) * time.Millisecond,
		Budget:      time.Duration(cfg.Relay.BudgetSeconds) * time.Second,
		MaxBytes:    int64(cfg.Relay.MaxBytes),
	})

	dispatcher := dispatch.NewDispatcher(messageBus, store, engine)
	dispatcher.Relay = pipeline
	dispatcher.AdvisorNumber = wa.AdvisorNumber

	// Completion provider is optional: without a key the funnel still
	// works, free text just gets the fallback reply.
	if completer, err := providers.NewProvider(cfg); err != nil {
		fmt.Printf("Completion disabled: %v\n", err)
	} else {
		dispatcher.Completer = completer
	}

	if cfg.Sheets.Enabled && cfg.Sheets.SpreadsheetID != "" {
		creds := []byte(cfg.Sheets.CredentialsJSON)
		if len(creds) == 0 {
			creds = []byte(os.Getenv("GOOGLE_CREDENTIALS_JSON"))
		}
		if client, err := sheets.NewClient(creds, cfg.Sheets.SpreadsheetID, cfg.Sheets.SheetTitle); err != nil {
			fmt.Printf("Sheets disabled: %v\n", err)
		} else {
			dispatcher.Sheets = client
		}
	}

	// WhatsApp is the user-facing channel.
	waChannel := channels.NewWhatsAppChannel(wa, messageBus, api)
	if err := waChannel.Start(); err != nil {
		fmt.Printf("Error starting WhatsApp channel: %v\n", err)
		os.Exit(1)
	}
	messageBus.SubscribeOutbound(waChannel.Name(), func(msg bus.OutboundMessage) {
		if err := waChannel.Send(msg); err != nil {
			fmt.Printf("Error sending to WhatsApp: %v\n", err)
		}
	})

	// Operator consoles.
	var operatorChannels []string
	if cfg.Channels.Telegram.Enabled {
		tgChannel := channels.NewTelegramChannel(&cfg.Channels.Telegram, messageBus, dispatcher)
		if err := tgChannel.Start(); err != nil {
			fmt.Printf("Error starting Telegram channel: %v\n", err)
		} else {
			operatorChannels = append(operatorChannels, tgChannel.Name())
			messageBus.SubscribeOutbound(tgChannel.Name(), func(msg bus.OutboundMessage) {
				if err := tgChannel.Send(msg); err != nil {
					fmt.Printf("Error sending to Telegram: %v\n", err)
				}
			})
		}
	}
	if cfg.Channels.Feishu.Enabled {
		feishuChannel := channels.NewFeishuChannel(&cfg.Channels.Feishu, messageBus)
		if err := feishuChannel.Start(); err != nil {
			fmt.Printf("Error starting Feishu channel: %v\n", err)
		} else {
			operatorChannels = append(operatorChannels, feishuChannel.Name())
			messageBus.SubscribeOutbound(feishuChannel.Name(), func(msg bus.OutboundMessage) {
				if err := feishuChannel.Send(msg); err != nil {
					fmt.Printf("Error sending to Feishu: %v\n", err)
				}
			})
		}
	}
	if cfg.Channels.DingTalk.Enabled {
		dingTalkChannel := channels.NewDingTalkChannel(&cfg.Channels.DingTalk, messageBus, dispatcher)
		if err := dingTalkChannel.Start(); err != nil {
			fmt.Printf("Error starting DingTalk channel: %v\n", err)
		} else {
			operatorChannels = append(operatorChannels, dingTalkChannel.Name())
			messageBus.SubscribeOutbound(dingTalkChannel.Name(), func(msg bus.OutboundMessage) {
				if err := dingTalkChannel.Send(msg); err != nil {
					fmt.Printf("Error sending to DingTalk: %v\n", err)
				}
			})
		}
	}
	dispatcher.OperatorChannels = operatorChannels

	// Cron: escalation sweep plus configured promos.
	escalationTimeout := time.Duration(cfg.Funnel.EscalationTimeoutMinutes) * time.Minute
	if escalationTimeout <= 0 {
		escalationTimeout = 30 * time.Minute
	}
	cronService := cron.NewService(filepath.Join(workspace, "cron.json"), func(job cron.Job) {
		switch job.Kind {
		case cron.KindSweep:
			dispatcher.ExpireEscalations(escalationTimeout)
		case cron.KindPromo:
			for _, to := range job.Promo.To {
				messageBus.PublishOutbound(bus.OutboundMessage{
					Channel: waChannel.Name(),
					To:      to,
					Content: job.Promo.Text,
				})
			}
		}
	})
	cronService.EnsureNamed("escalation-sweep", cron.KindSweep, cron.Schedule{EveryMs: 60_000}, cron.PromoPayload{})
	for _, promo := range cfg.Promos {
		cronService.EnsureNamed(promo.Name, cron.KindPromo, cron.Schedule{Expr: promo.Cron}, cron.PromoPayload{
			To:   promo.To,
			Text: promo.Text,
		})
	}
	cronService.Start()
	defer cronService.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	go messageBus.DispatchOutbound()
	go dispatcher.Run(ctx)

	fmt.Println("vickybot serving. Press Ctrl+C to stop.")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Println("Shutting down...")
	cancel()
	waChannel.Stop()
	messageBus.Stop()
}

func runOnboard() {
	configDir := ".vickybot"
	if err := os.MkdirAll(configDir, 0755); err != nil {
		fmt.Printf("Error creating config directory: %v\n", err)
		os.Exit(1)
	}

	configFile := filepath.Join(configDir, "config.json")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		if abs, err := filepath.Abs(filepath.Join(configDir, "workspace")); err == nil {
			cfg.Workspace = abs
		}

		file, err := os.Create(configFile)
		if err != nil {
			fmt.Printf("Warning: Could not create config file: %v\n", err)
		} else {
			defer file.Close()
			encoder := json.NewEncoder(file)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(cfg); err != nil {
				fmt.Printf("Error writing config file: %v\n", err)
			}
			fmt.Printf("Created config file at %s\n", configFile)
		}
	} else {
		fmt.Printf("Config file already exists at %s\n", configFile)
	}

	workspace := filepath.Join(configDir, "workspace")
	if err := os.MkdirAll(workspace, 0755); err != nil {
		fmt.Printf("Error creating workspace: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Created workspace at %s\n", workspace)
	fmt.Println("Onboarding complete! Edit .vickybot/config.json and set VERIFY_TOKEN, META_TOKEN, PHONE_NUMBER_ID and META_APP_SECRET.")
}

// runProbe posts a signed sample envelope to a running webhook, so a
// deployment can be smoke-tested without waiting for Meta to deliver.
func runProbe(args []string) {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	target := fs.String("url", "http://localhost:5000/webhook", "Webhook URL")
	secret := fs.String("secret", os.Getenv("META_APP_SECRET"), "App secret for signing")
	from := fs.String("from", "5216682478005", "Sender wa_id")
	text := fs.String("text", "hola", "Message text")
	fs.Parse(args)

	envelope := map[string]interface{}{
		"object": "whatsapp_business_account",
		"entry": []map[string]interface{}{{
			"id": "probe-entry",
			"changes": []map[string]interface{}{{
				"field": "messages",
				"value": map[string]interface{}{
					"messaging_product": "whatsapp",
					"messages": []map[string]interface{}{{
						"from":      *from,
						"id":        fmt.Sprintf("wamid.probe-%d", time.Now().UnixNano()),
						"timestamp": fmt.Sprintf("%d", time.Now().Unix()),
						"type":      "text",
						"text":      map[string]string{"body": *text},
					}},
				},
			}},
		}},
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		fmt.Printf("Error building envelope: %v\n", err)
		os.Exit(1)
	}

	req, err := http.NewRequest(http.MethodPost, *target, bytes.NewReader(body))
	if err != nil {
		fmt.Printf("Error building request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hub-Signature-256", signature.Sign(body, *secret))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Probe failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	fmt.Printf("Probe response: %s %s\n", resp.Status, string(respBody))
}
