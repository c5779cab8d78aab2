// Package websocket streams call lifecycle events to connected dashboards.
// Clients subscribe to topics and receive every event published on them.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/sabcare/careline/internal/platform/auth"
	"github.com/sabcare/careline/internal/platform/events"
)

// TopicAll receives every call event.
const TopicAll = "calls"

// PatientTopic is the topic carrying one patient's events.
func PatientTopic(id uuid.UUID) string {
	return "patient/" + id.String()
}

// topicsFor lists the topics an event is delivered on.
func topicsFor(e events.Event) []string {
	return []string{TopicAll, string(e.Type), PatientTopic(e.PatientID)}
}

// ClientMessage is an inbound subscribe or unsubscribe request.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Client represents a single WebSocket connection.
type Client struct {
	ID     string
	Topics []string
	Send   chan []byte
}

func NewClient(topics ...string) *Client {
	return &Client{
		ID:     uuid.New().String(),
		Topics: lo.Uniq(topics),
		Send:   make(chan []byte, 256),
	}
}

// Hub tracks clients and their topic subscriptions. It implements
// events.Publisher so it can sit next to the Kafka publisher.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> set of clients
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub and subscribes it to its initial topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	h.addLocked(client, client.Topics)
}

// Unregister removes a client from every topic and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeClientLocked(client)
}

func (h *Hub) removeClientLocked(client *Client) {
	if _, ok := h.all[client]; !ok {
		return
	}
	h.removeLocked(client, client.Topics)
	delete(h.all, client)
	close(client.Send)
}

func (h *Hub) addLocked(client *Client, topics []string) {
	for _, topic := range topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][client] = struct{}{}
	}
}

func (h *Hub) removeLocked(client *Client, topics []string) {
	for _, topic := range topics {
		if subscribers, ok := h.clients[topic]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, topic)
			}
		}
	}
}

// Subscribe adds topics to a registered client.
func (h *Hub) Subscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.addLocked(client, topics)
	client.Topics = lo.Uniq(append(client.Topics, topics...))
}

// Unsubscribe removes topics from a registered client.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(client, topics)
	client.Topics = lo.Without(client.Topics, topics...)
}

func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
}

// Publish delivers each event once to every client subscribed to any of its
// topics. Slow clients with a full buffer miss the event.
func (h *Hub) Publish(_ context.Context, evs ...events.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, e := range evs {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}

		recipients := make(map[*Client]struct{})
		for _, topic := range topicsFor(e) {
			for client := range h.clients[topic] {
				recipients[client] = struct{}{}
			}
		}

		for client := range recipients {
			select {
			case client.Send <- data:
			default:
				h.logger.Debug().Str("client_id", client.ID).Str("event_type", string(e.Type)).Msg("websocket client buffer full, dropping event")
			}
		}
	}
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.all {
		h.removeClientLocked(client)
	}
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades HTTP requests and pumps messages between the socket and the hub.
type Handler struct {
	hub    *Hub
	logger zerolog.Logger
}

func NewHandler(hub *Hub, logger zerolog.Logger) *Handler {
	return &Handler{hub: hub, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/events/ws", h.HandleConnect, auth.RequireRole(auth.RoleClinician, auth.RoleCoordinator))
}

// HandleConnect handles GET /events/ws?topics=a,b. Without topics the client
// starts on TopicAll.
func (h *Handler) HandleConnect(c echo.Context) error {
	topics := lo.Compact(lo.Map(strings.Split(c.QueryParam("topics"), ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	}))
	if len(topics) == 0 {
		topics = []string{TopicAll}
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := NewClient(topics...)
	h.hub.Register(client)
	h.logger.Debug().Str("client_id", client.ID).Strs("topics", client.Topics).Msg("websocket client connected")

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(4096)
	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		h.hub.ProcessMessage(client, msg)
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	defer ws.Close()

	for message := range client.Send {
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			return
		}
	}
}
