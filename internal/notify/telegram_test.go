package notify

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegram_SendsToConfiguredChat(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotPayload))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	n := NewTelegram("token123", "chat456", log.New(io.Discard, "", 0), WithAPIBase(server.URL))
	n.Notify("position closed")

	assert.Equal(t, "/bottoken123/sendMessage", gotPath)
	assert.Equal(t, "chat456", gotPayload["chat_id"])
	assert.Equal(t, "position closed", gotPayload["text"])
}

func TestTelegram_ErrorsAreSwallowed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	n := NewTelegram("t", "c", log.New(io.Discard, "", 0), WithAPIBase(server.URL))

	// must not panic or block
	n.Notify("hello")
}
