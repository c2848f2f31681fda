package ws

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Event é uma mutação de registro (importação, cadastro, edição,
// exclusão) no formato que os dashboards conectados recebem.
type Event struct {
	Action    string `json:"action"`
	Ref       string `json:"ref,omitempty"`
	NCM       string `json:"ncm,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type Client struct {
	ID   string
	Send chan []byte
}

// Hub distribui eventos de mutação para todos os dashboards
// conectados. Cliente lento é derrubado em vez de travar o hub.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client // id -> client
	register chan *Client
	unreg    chan *Client

	sendAll chan []byte

	log     *slog.Logger
	stop    chan struct{}
	stopped chan struct{}

	nextID atomic.Uint64
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		clients:  make(map[string]*Client),
		register: make(chan *Client),
		unreg:    make(chan *Client),
		sendAll:  make(chan []byte, 1024),
		log:      log.With("cmp", "ws.hub"),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

func (h *Hub) newID() string {
	id := h.nextID.Add(1)
	return fmt.Sprintf("c%d", id)
}

func (h *Hub) Run() {
	h.log.Info("hub_run_start")
	defer close(h.stopped)

	for {
		select {
		case c := <-h.register:
			if c.ID == "" {
				c.ID = h.newID()
			}
			h.mu.Lock()
			h.clients[c.ID] = c
			h.mu.Unlock()
			h.log.Info("client_registered", "id", c.ID, "total", len(h.clients))

		case c := <-h.unreg:
			h.mu.Lock()
			if c != nil && c.ID != "" {
				if _, ok := h.clients[c.ID]; ok {
					delete(h.clients, c.ID)
					close(c.Send)
				}
			}
			h.mu.Unlock()
			h.log.Info("client_unregistered", "id", c.ID, "total", len(h.clients))

		case msg := <-h.sendAll:
			h.mu.RLock()
			for id, c := range h.clients {
				select {
				case c.Send <- msg:
				default:
					// cliente lento -> dropa para não travar o hub
					h.mu.RUnlock()
					h.mu.Lock()
					delete(h.clients, id)
					close(c.Send)
					h.mu.Unlock()
					h.mu.RLock()
				}
			}
			h.mu.RUnlock()

		case <-h.stop:
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.Send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			h.log.Info("hub_run_stop")
			return
		}
	}
}

func (h *Hub) Stop() {
	close(h.stop)
	<-h.stopped
}

func (h *Hub) Register(c *Client)   { h.register <- c }
func (h *Hub) Unregister(c *Client) { h.unreg <- c }

// Broadcast repassa um payload cru (mensagens vindas da fila).
func (h *Hub) Broadcast(b []byte) { h.sendAll <- b }

// BroadcastEvent serializa e distribui um evento de mutação.
func (h *Hub) BroadcastEvent(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("event_marshal_error", "err", err)
		return
	}
	h.sendAll <- b
}
