package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/sabcare/careline/internal/platform/events"
)

func newTestHub() *Hub {
	return NewHub(zerolog.Nop())
}

func completedEvent(patientID uuid.UUID) events.Event {
	return events.Event{
		ID:         uuid.New(),
		Type:       events.CallCompleted,
		PatientID:  patientID,
		CallType:   "weekly_checkin",
		OccurredAt: time.Now(),
	}
}

func receive(t *testing.T, c *Client) events.Event {
	t.Helper()
	select {
	case msg := <-c.Send:
		var e events.Event
		if err := json.Unmarshal(msg, &e); err != nil {
			t.Fatalf("failed to unmarshal event: %v", err)
		}
		return e
	case <-time.After(time.Second):
		t.Fatal("client did not receive event")
	}
	return events.Event{}
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case <-c.Send:
		t.Fatalf("client %s should not have received an event", c.ID)
	default:
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := newTestHub()
	client := NewClient(TopicAll, TopicAll)

	hub.Register(client)
	if hub.ClientCount() != 1 || hub.TopicCount(TopicAll) != 1 {
		t.Fatalf("expected 1 client on %s, got %d/%d", TopicAll, hub.ClientCount(), hub.TopicCount(TopicAll))
	}
	if len(client.Topics) != 1 {
		t.Errorf("expected duplicate topics collapsed, got %v", client.Topics)
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 || hub.TopicCount(TopicAll) != 0 {
		t.Fatal("expected hub empty after unregister")
	}
	if _, ok := <-client.Send; ok {
		t.Error("expected Send channel closed")
	}

	// second unregister is a no-op
	hub.Unregister(client)
}

func TestHub_PublishRouting(t *testing.T) {
	hub := newTestHub()
	patientID := uuid.New()

	everything := NewClient(TopicAll)
	byPatient := NewClient(PatientTopic(patientID))
	otherPatient := NewClient(PatientTopic(uuid.New()))
	byType := NewClient(string(events.CallCompleted))
	cancellations := NewClient(string(events.CallCancelled))
	for _, c := range []*Client{everything, byPatient, otherPatient, byType, cancellations} {
		hub.Register(c)
	}

	if err := hub.Publish(context.Background(), completedEvent(patientID)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, c := range []*Client{everything, byPatient, byType} {
		if e := receive(t, c); e.Type != events.CallCompleted || e.PatientID != patientID {
			t.Errorf("unexpected event %+v", e)
		}
	}
	expectNothing(t, otherPatient)
	expectNothing(t, cancellations)
}

func TestHub_PublishDeliversOncePerClient(t *testing.T) {
	hub := newTestHub()
	patientID := uuid.New()
	client := NewClient(TopicAll, PatientTopic(patientID), string(events.CallCompleted))
	hub.Register(client)

	hub.Publish(context.Background(), completedEvent(patientID))

	receive(t, client)
	expectNothing(t, client)
}

func TestHub_PublishSkipsFullBuffer(t *testing.T) {
	hub := newTestHub()
	slow := &Client{ID: "slow", Topics: []string{TopicAll}, Send: make(chan []byte, 1)}
	hub.Register(slow)

	done := make(chan struct{})
	go func() {
		hub.Publish(context.Background(), completedEvent(uuid.New()), completedEvent(uuid.New()), completedEvent(uuid.New()))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow client")
	}
	if len(slow.Send) != 1 {
		t.Errorf("expected one buffered event, got %d", len(slow.Send))
	}
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	hub := newTestHub()
	client := NewClient()
	hub.Register(client)

	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{TopicAll, "call.cancelled"}})
	if hub.TopicCount(TopicAll) != 1 || hub.TopicCount("call.cancelled") != 1 {
		t.Fatal("expected subscriptions to be registered")
	}

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{TopicAll}})
	if hub.TopicCount(TopicAll) != 0 {
		t.Error("expected unsubscribe to remove topic")
	}
	if len(client.Topics) != 1 || client.Topics[0] != "call.cancelled" {
		t.Errorf("unexpected topics %v", client.Topics)
	}

	hub.ProcessMessage(client, ClientMessage{Action: "shout", Topics: []string{"x"}})
	if hub.TopicCount("x") != 0 {
		t.Error("unknown actions should be ignored")
	}
}

func TestHub_Close(t *testing.T) {
	hub := newTestHub()
	a, b := NewClient(TopicAll), NewClient(TopicAll)
	hub.Register(a)
	hub.Register(b)

	if err := hub.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hub.ClientCount() != 0 || hub.TopicCount(TopicAll) != 0 {
		t.Error("expected all clients removed")
	}
	if _, ok := <-a.Send; ok {
		t.Error("expected Send closed")
	}
}

func TestHub_ConcurrentRegisterPublish(t *testing.T) {
	hub := newTestHub()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := NewClient(TopicAll)
			hub.Register(c)
			hub.Unregister(c)
		}()
		go func() {
			defer wg.Done()
			hub.Publish(context.Background(), completedEvent(uuid.New()))
		}()
	}
	wg.Wait()

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHandler_RequiresUpgrade(t *testing.T) {
	h := NewHandler(newTestHub(), zerolog.Nop())

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/events/ws", nil), rec)

	if err := h.HandleConnect(c); err == nil && rec.Code == http.StatusSwitchingProtocols {
		t.Fatal("expected upgrade to fail for a plain request")
	}
}

func TestHandler_StreamsEvents(t *testing.T) {
	hub := newTestHub()
	h := NewHandler(hub, zerolog.Nop())

	e := echo.New()
	e.GET("/events/ws", h.HandleConnect)
	server := httptest.NewServer(e)
	defer server.Close()

	patientID := uuid.New()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/events/ws?topics=" + PatientTopic(patientID)

	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(time.Second)
	for hub.TopicCount(PatientTopic(patientID)) != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.TopicCount(PatientTopic(patientID)) != 1 {
		t.Fatal("expected client registered on the patient topic")
	}

	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", Topics: []string{string(events.CallCancelled)}}); err != nil {
		t.Fatalf("failed to send subscribe: %v", err)
	}
	for hub.TopicCount(string(events.CallCancelled)) != 1 && time.Now().Before(deadline.Add(time.Second)) {
		time.Sleep(10 * time.Millisecond)
	}

	hub.Publish(context.Background(), completedEvent(patientID))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received events.Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.Type != events.CallCompleted || received.PatientID != patientID {
		t.Errorf("unexpected event %+v", received)
	}
}

func TestHandler_DefaultTopic(t *testing.T) {
	hub := newTestHub()
	h := NewHandler(hub, zerolog.Nop())

	e := echo.New()
	e.GET("/events/ws", h.HandleConnect)
	server := httptest.NewServer(e)
	defer server.Close()

	conn, _, err := gorillawebsocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/events/ws", nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.TopicCount(TopicAll) != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.TopicCount(TopicAll) != 1 {
		t.Fatalf("expected client on %s", TopicAll)
	}
}
