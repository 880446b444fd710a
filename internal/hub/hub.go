// Package hub fans queue snapshots out to WebSocket clients subscribed to a
// visit number.
package hub

import (
	"encoding/json"
	"expvar"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"qms/visit-queue/internal/models"
)

var droppedTotal = expvar.NewInt("hub_dropped_messages_total")

const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeSubscribed  = "subscribed"
	TypeQueueUpdate = "queue_update"
)

type Client struct {
	ID   string
	Send chan []byte
	VN   string
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  zerolog.Logger
}

type Message struct {
	Type string             `json:"type"`
	VN   string             `json:"vn,omitempty"`
	Data *models.QueueEntry `json:"data,omitempty"`
}

func New(logger zerolog.Logger) *Hub {
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

// Subscribe replaces the client's subscription; an empty vn unsubscribes.
func (h *Hub) Subscribe(client *Client, vn string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.VN = vn
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Broadcast(vn string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.VN == "" || client.VN != vn {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			droppedTotal.Add(1)
			h.logger.Warn().Str("client_id", client.ID).Str("vn", vn).Msg("drop message for slow client")
		}
	}
}

// Publish sends each entry to its own visit's subscribers.
func (h *Hub) Publish(entries []models.QueueEntry) {
	for _, entry := range entries {
		payload, err := UpdateMessage(entry)
		if err != nil {
			h.logger.Error().Err(err).Str("vn", entry.VN).Msg("encode queue update")
			continue
		}
		h.Broadcast(entry.VN, payload)
	}
}

func UpdateMessage(entry models.QueueEntry) ([]byte, error) {
	return json.Marshal(Message{Type: TypeQueueUpdate, Data: &entry})
}

func SubscribedMessage(vn string) []byte {
	payload, _ := json.Marshal(Message{Type: TypeSubscribed, VN: vn})
	return payload
}

func ParseSubscribe(data []byte) (Message, bool) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, false
	}
	msg.VN = strings.TrimSpace(msg.VN)
	switch msg.Type {
	case TypeSubscribe:
		return msg, msg.VN != ""
	case TypeUnsubscribe:
		return msg, true
	}
	return Message{}, false
}
