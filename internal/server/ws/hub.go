// Package ws is the presence/event channel: it tracks which users hold a
// live connection, pushes the full online roster on every change and on a
// steady tick, and fans new-message events out to their recipients.
package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/wisp-chat/wisp/internal/server/models"
)

const rosterInterval = 15 * time.Second

type Hub struct {
	clients    map[*Client]bool
	byUser     map[string]map[*Client]bool
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		byUser:     make(map[string]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

func (h *Hub) Run() {
	ticker := time.NewTicker(rosterInterval)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client] = true
			if h.byUser[client.UserID] == nil {
				h.byUser[client.UserID] = make(map[*Client]bool)
			}
			h.byUser[client.UserID][client] = true
			h.mu.Unlock()
			h.BroadcastRoster()

		case client := <-h.Unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				delete(h.byUser[client.UserID], client)
				if len(h.byUser[client.UserID]) == 0 {
					delete(h.byUser, client.UserID)
				}
				close(client.Send)
			}
			h.mu.Unlock()
			h.BroadcastRoster()

		case <-ticker.C:
			h.BroadcastRoster()
		}
	}
}

// OnlineIDs returns the ids of users with at least one live connection.
func (h *Hub) OnlineIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.byUser))
	for id := range h.byUser {
		ids = append(ids, id)
	}
	return ids
}

// BroadcastRoster pushes the full online set to every connection. Clients
// replace their view wholesale, so a missed update heals on the next tick.
func (h *Hub) BroadcastRoster() {
	event := models.RosterEvent{Type: "online_users", UserIDs: h.OnlineIDs()}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.Send <- data:
		default:
			log.Printf("ws: dropping slow client for user %s", client.UserID)
		}
	}
}

// SendToUser delivers an event to every live connection of one user. A user
// without a connection is not an error; they will re-fetch on next load.
func (h *Hub) SendToUser(userID string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("ws: marshal event: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.byUser[userID] {
		select {
		case client.Send <- data:
		default:
			log.Printf("ws: dropping slow client for user %s", userID)
		}
	}
}

// NotifyNewMessage fans a stored message out to the interested users.
func (h *Hub) NotifyNewMessage(msg models.Message, recipientIDs []string) {
	event := models.NewMessageEvent{Type: "new_message", Message: msg}
	for _, id := range recipientIDs {
		if id == msg.SenderID {
			continue
		}
		h.SendToUser(id, event)
	}
}
