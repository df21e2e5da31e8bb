package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-intercom/internal/intercom"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/call"
)

func dialWS(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading message: %v", err)
	}
	return msg
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func callEvent() intercom.CallChanged {
	return intercom.CallChanged{
		EventMeta: intercom.EventMeta{ID: "evt-1", Station: "front-door", Time: time.Now()},
		From:      call.StateIdle,
		To:        call.StateCalling,
		CallID:    "c-1",
	}
}

func TestWebSocket_ReceivesEvents(t *testing.T) {
	srv, _ := testServer(t)
	conn := dialWS(t, srv)
	waitForClients(t, srv.Hub(), 1)

	if err := srv.Hub().Notify(context.Background(), callEvent()); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != WSTypeEvent || msg.EventType != string(intercom.EventCallChanged) {
		t.Fatalf("message = %+v", msg)
	}
	payload, ok := msg.Payload.(map[string]any)
	if !ok || payload["call_id"] != "c-1" {
		t.Errorf("payload = %v", msg.Payload)
	}
}

func TestWebSocket_Ping(t *testing.T) {
	srv, _ := testServer(t)
	conn := dialWS(t, srv)

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readMessage(t, conn)
	if msg.Type != WSTypePong || msg.ID != "p1" {
		t.Errorf("message = %+v, want pong p1", msg)
	}
}

func TestWebSocket_Subscriptions(t *testing.T) {
	srv, _ := testServer(t)
	conn := dialWS(t, srv)
	waitForClients(t, srv.Hub(), 1)

	steps := []WSMessage{
		{Type: WSTypeUnsubscribe, ID: "u1", Payload: WSSubscribePayload{Channels: []string{ChannelAll}}},
		{Type: WSTypeSubscribe, ID: "s1", Payload: WSSubscribePayload{Channels: []string{string(intercom.EventErrorRaised)}}},
	}
	for _, step := range steps {
		if err := conn.WriteJSON(step); err != nil {
			t.Fatalf("write: %v", err)
		}
		if msg := readMessage(t, conn); msg.Type != WSTypeResponse || msg.ID != step.ID {
			t.Fatalf("response = %+v", msg)
		}
	}

	// Only the error event passes the filter.
	hub := srv.Hub()
	//nolint:errcheck // Hub.Notify never fails
	hub.Notify(context.Background(), callEvent())
	//nolint:errcheck
	hub.Notify(context.Background(), intercom.ErrorRaised{
		EventMeta: intercom.EventMeta{ID: "evt-2", Station: "front-door", Time: time.Now()},
		Source:    "transport",
		Message:   "send failed",
	})

	msg := readMessage(t, conn)
	if msg.EventType != string(intercom.EventErrorRaised) {
		t.Errorf("event type = %q, want %q", msg.EventType, intercom.EventErrorRaised)
	}
}

func TestWebSocket_InvalidMessage(t *testing.T) {
	srv, _ := testServer(t)
	conn := dialWS(t, srv)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != WSTypeError {
		t.Errorf("message = %+v, want error", msg)
	}

	if err := conn.WriteJSON(WSMessage{Type: "shout", ID: "x"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != WSTypeError || msg.ID != "x" {
		t.Errorf("message = %+v, want error x", msg)
	}
}

func TestHub_Close(t *testing.T) {
	srv, _ := testServer(t)
	conn := dialWS(t, srv)
	waitForClients(t, srv.Hub(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Hub().Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if n := srv.Hub().ClientCount(); n != 0 {
		t.Errorf("clients after Run returned = %d", n)
	}
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection still readable after hub shutdown")
	}
}
