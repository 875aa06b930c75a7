package handlers

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "signalement-service/websocket"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
)

func TestLiveFeedStreamsBroadcasts(t *testing.T) {
	gin.SetMode(gin.TestMode)

	hub := ws.NewHub()
	go hub.Run()

	handler := NewWebSocketHandler(hub)
	router := gin.New()
	router.GET("/live", handler.Live)

	server := httptest.NewServer(router)
	defer server.Close()

	// No Authorization header: the live feed is open to the console.
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/live"
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to open live feed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered with the hub")
		}
		time.Sleep(10 * time.Millisecond)
	}

	payload := `{"type":"put","path":"/-Na1"}`
	hub.Broadcast([]byte(payload))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read broadcast: %v", err)
	}
	if string(message) != payload {
		t.Errorf("expected %s, got %s", payload, message)
	}
}
