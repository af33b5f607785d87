package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jwt"

	"github.com/vickylabs/vickybot/pkg/utils"
)

const (
	defaultAPIBase = "https://sheets.googleapis.com/v4"
	sheetsScope    = "https://www.googleapis.com/auth/spreadsheets"
)

// Prospect is one row of the prospect sheet, keyed by phone.
type Prospect struct {
	Name    string
	RFC     string
	Phone   string
	Status  string
	Product string
}

// Client talks to the Google Sheets values API with a service account.
type Client struct {
	SpreadsheetID string
	SheetTitle    string
	APIBase       string

	httpClient *http.Client
}

// NewClient builds a client from service account credentials JSON
// (the file content of a Google Cloud service account key).
func NewClient(credentialsJSON []byte, spreadsheetID, sheetTitle string) (*Client, error) {
	var creds struct {
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
		TokenURI    string `json:"token_uri"`
	}
	if err := json.Unmarshal(credentialsJSON, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	if creds.ClientEmail == "" || creds.PrivateKey == "" {
		return nil, fmt.Errorf("credentials missing client_email or private_key")
	}
	tokenURI := creds.TokenURI
	if tokenURI == "" {
		tokenURI = "https://oauth2.googleapis.com/token"
	}

	conf := &jwt.Config{
		Email:      creds.ClientEmail,
		PrivateKey: []byte(creds.PrivateKey),
		Scopes:     []string{sheetsScope},
		TokenURL:   tokenURI,
	}
	httpClient := conf.Client(context.Background())
	httpClient.Timeout = 20 * time.Second

	return &Client{
		SpreadsheetID: spreadsheetID,
		SheetTitle:    sheetTitle,
		APIBase:       defaultAPIBase,
		httpClient:    httpClient,
	}, nil
}

// NewClientWithTokenSource builds a client with an explicit token source.
func NewClientWithTokenSource(ts oauth2.TokenSource, spreadsheetID, sheetTitle string) *Client {
	return &Client{
		SpreadsheetID: spreadsheetID,
		SheetTitle:    sheetTitle,
		APIBase:       defaultAPIBase,
		httpClient:    oauth2.NewClient(context.Background(), ts),
	}
}

// AppendInteraction appends one interaction row: timestamp, phone,
// inbound text, outbound text, funnel stage.
func (c *Client) AppendInteraction(ctx context.Context, phone, inbound, outbound, stage string) error {
	body := map[string]interface{}{
		"values": [][]interface{}{
			{time.Now().Format("2006-01-02 15:04:05"), phone, inbound, outbound, stage},
		},
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal values: %w", err)
	}

	endpoint := fmt.Sprintf("%s/spreadsheets/%s/values/%s:append?valueInputOption=USER_ENTERED",
		c.APIBase, c.SpreadsheetID, url.PathEscape(c.rangeRef("A:E")))
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("append failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	return nil
}

// phone column headers recognized in the prospect sheet
var phoneHeaders = []string{"TELEFONO", "TELÉFONO", "WHATSAPP", "CELULAR"}

// LookupByPhone fetches the prospect sheet and returns the row whose
// phone column matches the last 10 digits of the given number. Returns
// nil with no error when the phone is not in the sheet.
func (c *Client) LookupByPhone(ctx context.Context, phone string) (*Prospect, error) {
	endpoint := fmt.Sprintf("%s/spreadsheets/%s/values/%s",
		c.APIBase, c.SpreadsheetID, url.PathEscape(c.rangeRef("A1:Z1000")))
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("lookup failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var payload struct {
		Values [][]string `json:"values"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(payload.Values) < 2 {
		return nil, nil
	}

	header := payload.Values[0]
	phoneCol := -1
	for i, h := range header {
		name := strings.ToUpper(strings.TrimSpace(h))
		for _, want := range phoneHeaders {
			if strings.Contains(name, want) {
				phoneCol = i
				break
			}
		}
		if phoneCol >= 0 {
			break
		}
	}
	if phoneCol < 0 {
		return nil, fmt.Errorf("no phone column found in sheet %q", c.SheetTitle)
	}

	want := utils.Last10(phone)
	if want == "" {
		return nil, nil
	}
	for _, row := range payload.Values[1:] {
		if phoneCol >= len(row) {
			continue
		}
		if utils.Last10(row[phoneCol]) != want {
			continue
		}
		return &Prospect{
			Name:    cell(row, header, "NOMBRE"),
			RFC:     cell(row, header, "RFC"),
			Phone:   row[phoneCol],
			Status:  cell(row, header, "ESTATUS"),
			Product: cell(row, header, "PRODUCTO"),
		}, nil
	}
	return nil, nil
}

func (c *Client) rangeRef(cells string) string {
	if c.SheetTitle == "" {
		return cells
	}
	return fmt.Sprintf("'%s'!%s", c.SheetTitle, cells)
}

func cell(row, header []string, name string) string {
	for i, h := range header {
		if i >= len(row) {
			break
		}
		if strings.Contains(strings.ToUpper(strings.TrimSpace(h)), name) {
			return strings.TrimSpace(row[i])
		}
	}
	return ""
}
