package wabapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient("token-123", "phone-1", "v20.0")
	c.APIBase = srv.URL
	return c
}

func TestSendTextPayload(t *testing.T) {
	var got map[string]any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v20.0/phone-1/messages", r.URL.Path)
		require.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"messages":[{"id":"wamid.out"}]}`))
	})

	require.NoError(t, c.SendText(context.Background(), "5216680000000", "hola"))
	require.Equal(t, "whatsapp", got["messaging_product"])
	require.Equal(t, "text", got["type"])
	text := got["text"].(map[string]any)
	require.Equal(t, "hola", text["body"])
}

func TestSendTextTruncatesLongBody(t *testing.T) {
	var got map[string]any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{}`))
	})

	require.NoError(t, c.SendText(context.Background(), "52100", strings.Repeat("x", 5000)))
	text := got["text"].(map[string]any)
	require.Len(t, text["body"].(string), maxTextRunes)
}

func TestSendTextSurfacesAPIError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad token"}}`))
	})

	err := c.SendText(context.Background(), "52100", "hola")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestResolveMedia(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v20.0/media-9", r.URL.Path)
		w.Write([]byte(`{"url":"https://cdn.example/file","mime_type":"image/jpeg"}`))
	})

	url, mime, err := c.ResolveMedia(context.Background(), "media-9")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example/file", url)
	require.Equal(t, "image/jpeg", mime)
}

func TestDownloadEnforcesSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("a", 100)))
	}))
	defer srv.Close()

	c := NewClient("token", "phone-1", "")
	_, err := c.Download(context.Background(), srv.URL, 50)
	require.Error(t, err)
	require.Contains(t, err.Error(), "size limit")

	data, err := c.Download(context.Background(), srv.URL, 200)
	require.NoError(t, err)
	require.Len(t, data, 100)
}

func TestUploadReturnsMediaID(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v20.0/phone-1/media", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "whatsapp", r.FormValue("messaging_product"))

		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		data, err := io.ReadAll(file)
		require.NoError(t, err)
		require.Equal(t, []byte("payload"), data)

		w.Write([]byte(`{"id":"rehosted-1"}`))
	})

	id, err := c.Upload(context.Background(), []byte("payload"), "image/jpeg", "photo.jpg")
	require.NoError(t, err)
	require.Equal(t, "rehosted-1", id)
}

func TestSendMediaOmitsAudioCaption(t *testing.T) {
	var got map[string]any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{}`))
	})

	require.NoError(t, c.SendMedia(context.Background(), "52100", "m-1", "audio", "caption"))
	audio := got["audio"].(map[string]any)
	require.Equal(t, "m-1", audio["id"])
	_, hasCaption := audio["caption"]
	require.False(t, hasCaption)

	require.NoError(t, c.SendMedia(context.Background(), "52100", "m-2", "image", "caption"))
	image := got["image"].(map[string]any)
	require.Equal(t, "caption", image["caption"])
}
