package realtime

import (
	"log"
	"sync"
)

// Event is the wire envelope for both directions of the realtime channel.
type Event struct {
	Name    string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

// Hub is the connection registry and room fan-out for realtime clients.
// Rooms are implicit: one per protocol and one per group, created on
// first join and discarded when the last member leaves. Membership is
// per-connection and dropped on disconnect; nothing here is persisted.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client
	logger  *log.Logger
}

func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		clients: map[string]*Client{},
		rooms:   map[string]map[string]*Client{},
		logger:  logger,
	}
}

func protocolRoom(id string) string { return "protocol:" + id }
func groupRoom(id string) string    { return "group:" + id }

// ToProtocol emits a server-authoritative event to everyone viewing the
// protocol. Implements the engine's Broadcaster.
func (h *Hub) ToProtocol(protocolID, event string, payload map[string]any) {
	h.broadcast(protocolRoom(protocolID), Event{Name: event, Payload: payload}, "")
}

// ToGroup emits a server-authoritative event to everyone in the group room.
func (h *Hub) ToGroup(groupID, event string, payload map[string]any) {
	h.broadcast(groupRoom(groupID), Event{Name: event, Payload: payload}, "")
}

// broadcast sends ev to every room member except the connection named by
// exclude. Slow clients whose send buffer is full are dropped rather than
// blocked on.
func (h *Hub) broadcast(room string, ev Event, exclude string) {
	h.mu.Lock()
	members := make([]*Client, 0, len(h.rooms[room]))
	for id, c := range h.rooms[room] {
		if id == exclude {
			continue
		}
		members = append(members, c)
	}
	h.mu.Unlock()
	for _, c := range members {
		if !c.trySend(ev) {
			h.logger.Printf("realtime: dropping slow client %s", c.ID)
			c.close()
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	h.logger.Printf("realtime: client %s connected", c.ID)
}

// unregister removes the client from the registry and from every room it
// joined. Called exactly once, from the read pump's exit path.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID)
	for room := range c.rooms {
		h.removeFromRoom(room, c)
	}
	h.mu.Unlock()
	h.logger.Printf("realtime: client %s disconnected", c.ID)
}

func (h *Hub) join(c *Client, room string) {
	h.mu.Lock()
	if h.rooms[room] == nil {
		h.rooms[room] = map[string]*Client{}
	}
	h.rooms[room][c.ID] = c
	c.rooms[room] = true
	h.mu.Unlock()
}

func (h *Hub) leave(c *Client, room string) {
	h.mu.Lock()
	h.removeFromRoom(room, c)
	h.mu.Unlock()
}

// removeFromRoom must be called with h.mu held.
func (h *Hub) removeFromRoom(room string, c *Client) {
	delete(c.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// RoomSize reports current membership of a protocol or group room.
func (h *Hub) RoomSize(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}
