package openai

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatResponse(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": content}}},
	})
	return string(b)
}

func newServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/office-gpt/chat/completions", r.URL.Path)
		assert.Equal(t, "2024-10-21", r.URL.Query().Get("api-version"))
		assert.Equal(t, "k", r.Header.Get("api-key"))

		var body map[string]any
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
			msgs, _ := body["messages"].([]any)
			if assert.Len(t, msgs, 3) {
				user, _ := msgs[1].(map[string]any)
				assert.Contains(t, user["content"], "- VendorName: Acme GmbH")
			}
		}

		_, _ = io.WriteString(w, chatResponse(content))
	}))
}

func newClient(url string, lenient bool) *Client {
	return NewClient(Config{Endpoint: url + "/", APIKey: "k", Deployment: "office-gpt", LenientOptional: lenient},
		slog.New(slog.DiscardHandler))
}

func TestExtractOfficeSemantics(t *testing.T) {
	srv := newServer(t, `{"purpose":"Software","sender":"Acme GmbH","receiver":"Ramen Ippin Dortmund"}`)
	defer srv.Close()

	got, err := newClient(srv.URL, false).ExtractOfficeSemantics(context.Background(), map[string]string{"VendorName": "Acme GmbH"})
	require.NoError(t, err)
	assert.Equal(t, "Software", got.Purpose)
	assert.Equal(t, "Acme GmbH", got.Sender)
	assert.Equal(t, "Ramen Ippin Dortmund", got.Receiver)
}

func TestExtractOfficeSemanticsLenient(t *testing.T) {
	srv := newServer(t, "```json\n{\"type\":\"Miete\",\"vendor\":\"Haus AG\",\"receiver\":null,\"notes\":\"x\"}\n```")
	defer srv.Close()

	_, err := newClient(srv.URL, false).ExtractOfficeSemantics(context.Background(), map[string]string{"VendorName": "Acme GmbH"})
	require.Error(t, err, "strict mode rejects synonyms")

	got, err := newClient(srv.URL, true).ExtractOfficeSemantics(context.Background(), map[string]string{"VendorName": "Acme GmbH"})
	require.NoError(t, err)
	assert.Equal(t, "Miete", got.Purpose)
	assert.Equal(t, "Haus AG", got.Sender)
	assert.Equal(t, "", got.Receiver)
}

func TestExtractOfficeSemanticsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"code":"429"}}`)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL, true).ExtractOfficeSemantics(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences(` {"a":1} `))
}
