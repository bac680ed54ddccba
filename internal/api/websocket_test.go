package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ssdwatch/ssdwatch/internal/detect"
)

func dialTestHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Client count never reached %d (got %d)", want, hub.ClientCount())
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	conn := dialTestHub(t, hub)
	waitForClients(t, hub, 1)

	res := &detect.Result{
		Width:      640,
		Height:     480,
		Detections: []detect.Detection{{Label: "person", Confidence: 0.9}},
	}
	hub.Broadcast(DetectionMessage("cam1", 7, res))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read broadcast: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Broadcast is not valid JSON: %v", err)
	}
	if msg.Type != MessageTypeDetection {
		t.Errorf("type = %s, want detection", msg.Type)
	}

	payload := msg.Data.(map[string]interface{})
	if payload["source"] != "cam1" {
		t.Errorf("source = %v, want cam1", payload["source"])
	}
}

func TestHubBroadcastToSource(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	conn := dialTestHub(t, hub)
	waitForClients(t, hub, 1)

	// Clients subscribe to all sources by default
	res := &detect.Result{Width: 100, Height: 100}
	hub.BroadcastToSource("cam2", DetectionMessage("cam2", 0, res))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read source broadcast: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Message is not valid JSON: %v", err)
	}
	if msg.Type != MessageTypeDetection {
		t.Errorf("type = %s, want detection", msg.Type)
	}
}

func TestHubPingPong(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	conn := dialTestHub(t, hub)
	waitForClients(t, hub, 1)

	ping, _ := json.Marshal(Message{Type: MessageTypePing})
	if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
		t.Fatalf("Failed to send ping: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read pong: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Pong is not valid JSON: %v", err)
	}
	if msg.Type != MessageTypePong {
		t.Errorf("type = %s, want pong", msg.Type)
	}
}

func TestHubClientCount(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	if hub.ClientCount() != 0 {
		t.Errorf("Expected 0 clients, got %d", hub.ClientCount())
	}

	conn := dialTestHub(t, hub)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestHubSubscribeDuringBroadcast(t *testing.T) {
	hub := NewHub()
	client := &Client{
		hub:           hub,
		send:          make(chan []byte, 256),
		subscriptions: map[string]bool{"*": true},
	}
	hub.clients[client] = true

	subscribe, _ := json.Marshal(Message{
		Type: MessageTypeSubscribe,
		Data: []interface{}{"cam1", "cam2"},
	})
	unsubscribe, _ := json.Marshal(Message{
		Type: MessageTypeUnsubscribe,
		Data: []interface{}{"cam2"},
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			client.handleMessage(subscribe)
			client.handleMessage(unsubscribe)
		}
	}()

	res := &detect.Result{Width: 100, Height: 100}
	for i := 0; i < 500; i++ {
		hub.BroadcastToSource("cam1", DetectionMessage("cam1", int64(i), res))
	}
	wg.Wait()

	if !client.subscribedTo("cam1") {
		t.Error("Client lost its cam1 subscription")
	}
}

func TestDetectionMessage(t *testing.T) {
	res := &detect.Result{
		Width:       320,
		Height:      240,
		InferenceMs: 12.5,
		Detections:  []detect.Detection{{ClassID: 7, Label: "car", Confidence: 0.6}},
	}

	msg := DetectionMessage("cam1", 42, res)
	if msg.Type != MessageTypeDetection {
		t.Errorf("type = %s", msg.Type)
	}

	data := msg.Data.(map[string]interface{})
	if data["source"] != "cam1" || data["frame_id"] != int64(42) {
		t.Errorf("Unexpected payload: %v", data)
	}
}
