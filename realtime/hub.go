package realtime

import "sync"

type client struct {
	id        string
	sessionID string
	send      chan []byte
}

// Hub tracks the connections held by this process.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*client
}

// NewHub creates an empty [Hub].
func NewHub() *Hub {
	return &Hub{conns: make(map[string]*client)}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) remove(connectionID string) {
	h.mu.Lock()
	delete(h.conns, connectionID)
	h.mu.Unlock()
}

// Deliver queues payload for a local connection. It never blocks: it returns false when the
// connection is not held here or its send buffer is full.
func (h *Hub) Deliver(connectionID string, payload []byte) bool {
	h.mu.RLock()
	c, ok := h.conns[connectionID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Len returns the number of local connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Connections returns the local connection ids bound to sessionID.
func (h *Hub) Connections(sessionID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var ids []string
	for id, c := range h.conns {
		if c.sessionID == sessionID {
			ids = append(ids, id)
		}
	}
	return ids
}
