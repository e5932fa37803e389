package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"drivingschool/server/internal/models"
	"drivingschool/server/internal/services"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubBroadcastsInvoiceEvents(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientsCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(services.InvoiceEvent{
		Type:          services.EventInvoiceSent,
		InvoiceID:     "inv-1",
		InvoiceNumber: "RE-2026-00001",
		Status:        models.InvoiceStatusSent,
		Version:       2,
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var got services.InvoiceEvent
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, services.EventInvoiceSent, got.Type)
	assert.Equal(t, "RE-2026-00001", got.InvoiceNumber)
	assert.Equal(t, 2, got.Version)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientsCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubPublishWithoutRunnerDoesNotBlock(t *testing.T) {
	hub := NewHub()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Publish(services.InvoiceEvent{InvoiceID: "inv"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
}
