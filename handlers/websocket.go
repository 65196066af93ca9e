package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"whatsapp-gateway/models"
)

const wsWriteTimeout = 5 * time.Second

var (
	// WebSocket upgrader
	wsUpgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // Consenti tutte le origini, come il CORS delle API
		},
	}
)

// Hub inoltra messaggi e cambi di stato ai client WebSocket connessi
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	log     zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		log:     log.With().Str("component", "ws").Logger(),
	}
}

// Broadcast invia un evento a tutti i client WebSocket connessi
func (h *Hub) Broadcast(messageType string, payload interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Se non ci sono client connessi, non fare nulla
	if len(h.clients) == 0 {
		return
	}

	wsMessage := models.WSMessage{
		Type:    messageType,
		Payload: payload,
	}

	for client := range h.clients {
		client.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := client.WriteJSON(wsMessage); err != nil {
			h.log.Debug().Err(err).Msg("Client WebSocket rimosso")
			client.Close()
			delete(h.clients, client)
		}
	}
}

// Deliver implementa il sink dei messaggi
func (h *Hub) Deliver(msg *models.Message) error {
	h.Broadcast(models.WSTypeMessage, msg)
	return nil
}

// StatusChanged implementa il listener di stato
func (h *Hub) StatusChanged(status models.Status) {
	h.Broadcast(models.WSTypeStatus, status)
}

// Clients restituisce il numero di client connessi
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleWebSocket gestisce una connessione WebSocket, inviando subito lo stato corrente
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request, initial models.Status) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("Upgrade WebSocket fallito")
		return
	}

	h.mu.Lock()
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(models.WSMessage{Type: models.WSTypeStatus, Payload: initial}); err != nil {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[conn] = true
	h.mu.Unlock()

	// Cleanup quando la connessione viene chiusa
	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	// Loop di lettura messaggi
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Close chiude tutte le connessioni
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}
