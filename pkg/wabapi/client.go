// Package wabapi is a minimal WhatsApp Cloud (Graph) API client covering
// the operations the bot needs: text and interactive sends, media
// resolution, download, upload and media sends.
package wabapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const defaultAPIBase = "https://graph.facebook.com"

// maxTextRunes is the platform limit for a text body.
const maxTextRunes = 4096

// APIError is a non-2xx response from the Graph API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("graph api: status %d: %s", e.StatusCode, body)
}

// Client talks to the WhatsApp Cloud API for one phone number id.
type Client struct {
	AccessToken   string
	PhoneNumberID string
	APIVersion    string
	APIBase       string

	httpClient *http.Client
}

// NewClient creates a Client. version defaults to v20.0.
func NewClient(accessToken, phoneNumberID, version string) *Client {
	if version == "" {
		version = "v20.0"
	}
	return &Client{
		AccessToken:   accessToken,
		PhoneNumberID: phoneNumberID,
		APIVersion:    version,
		APIBase:       defaultAPIBase,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(c.APIBase, "/"), c.APIVersion, path)
}

func (c *Client) postJSON(ctx context.Context, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// SendText sends a plain text message to a wa_id.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	if runes := []rune(body); len(runes) > maxTextRunes {
		body = string(runes[:maxTextRunes])
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text": map[string]any{
			"preview_url": false,
			"body":        body,
		},
	}
	return c.postJSON(ctx, c.url(c.PhoneNumberID+"/messages"), payload, nil)
}

// ListRow is one option of an interactive list message.
type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// SendList sends an interactive list message (the funnel menu).
func (c *Client) SendList(ctx context.Context, to, header, body, buttonText string, rows []ListRow) error {
	interactive := map[string]any{
		"type": "list",
		"body": map[string]any{"text": body},
		"action": map[string]any{
			"button": buttonText,
			"sections": []map[string]any{
				{"rows": rows},
			},
		},
	}
	if header != "" {
		interactive["header"] = map[string]any{"type": "text", "text": header}
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "interactive",
		"interactive":       interactive,
	}
	return c.postJSON(ctx, c.url(c.PhoneNumberID+"/messages"), payload, nil)
}

// ResolveMedia exchanges a media id for its short-lived download URL.
func (c *Client) ResolveMedia(ctx context.Context, mediaID string) (url, mimeType string, err error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.url(mediaID), nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", "", &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var meta struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return "", "", fmt.Errorf("failed to decode media metadata: %w", err)
	}
	if meta.URL == "" {
		return "", "", fmt.Errorf("media %s has no download url", mediaID)
	}
	return meta.URL, meta.MimeType, nil
}

// Download fetches resolved media bytes, refusing bodies over maxBytes.
func (c *Client) Download(ctx context.Context, url string, maxBytes int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read media body: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("media exceeds size limit of %d bytes", maxBytes)
	}
	return data, nil
}

// Upload re-hosts media bytes under this phone number and returns the new
// media id. Received media ids are recipient-scoped, so forwarding always
// requires this round trip.
func (c *Client) Upload(ctx context.Context, data []byte, mimeType, filename string) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("messaging_product", "whatsapp"); err != nil {
		return "", err
	}
	if err := w.WriteField("type", mimeType); err != nil {
		return "", err
	}
	if filename == "" {
		filename = "media"
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url(c.PhoneNumberID+"/media"), &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("upload returned no media id")
	}
	return result.ID, nil
}

// SendMedia sends re-hosted media to a wa_id. mediaType is one of image,
// document, video, audio. Audio messages do not accept captions.
func (c *Client) SendMedia(ctx context.Context, to, mediaID, mediaType, caption string) error {
	media := map[string]any{"id": mediaID}
	if caption != "" && mediaType != "audio" {
		media["caption"] = caption
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              mediaType,
		mediaType:           media,
	}
	return c.postJSON(ctx, c.url(c.PhoneNumberID+"/messages"), payload, nil)
}
