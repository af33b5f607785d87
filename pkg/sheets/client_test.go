package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func testClient(srvURL string) *Client {
	c := NewClientWithTokenSource(
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}),
		"sheet-id", "Prospectos SECOM Auto")
	c.APIBase = srvURL
	return c
}

func TestAppendInteraction(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody struct {
		Values [][]interface{} `json:"values"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.Equal(t, "USER_ENTERED", r.URL.Query().Get("valueInputOption"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	err := c.AppendInteraction(context.Background(), "5216682478005", "hola", "menu enviado", "MENU_ROOT")
	require.NoError(t, err)
	require.Contains(t, gotPath, "/spreadsheets/sheet-id/values/")
	require.Contains(t, gotPath, ":append")
	require.Equal(t, "Bearer test-token", gotAuth)
	require.Len(t, gotBody.Values, 1)
	require.Len(t, gotBody.Values[0], 5)
	require.Equal(t, "5216682478005", gotBody.Values[0][1])
	require.Equal(t, "MENU_ROOT", gotBody.Values[0][4])
}

func TestLookupByPhoneMatchesLastTenDigits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"values": [][]string{
				{"NOMBRE", "RFC", "TELEFONO/WHATSAPP", "ESTATUS", "PRODUCTO"},
				{"Juan Pérez", "PEPJ800101", "6681112222", "Contactado", "Auto"},
				{"Ana López", "LOAA900202", "52 1 668 247 8005", "Prospecto", "Vida"},
			},
		})
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	p, err := c.LookupByPhone(context.Background(), "5216682478005")
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, "Ana López", p.Name)
	require.Equal(t, "Prospecto", p.Status)
	require.Equal(t, "Vida", p.Product)
}

func TestLookupByPhoneNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"values": [][]string{
				{"NOMBRE", "TELEFONO"},
				{"Juan Pérez", "6681112222"},
			},
		})
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	p, err := c.LookupByPhone(context.Background(), "5219990001111")
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestLookupByPhoneNoPhoneColumn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"values": [][]string{
				{"NOMBRE", "RFC"},
				{"Juan Pérez", "PEPJ800101"},
			},
		})
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.LookupByPhone(context.Background(), "6681112222")
	require.Error(t, err)
}

func TestNewClientRejectsBadCredentials(t *testing.T) {
	_, err := NewClient([]byte(`{"client_email":""}`), "sheet-id", "Hoja 1")
	require.Error(t, err)
}
