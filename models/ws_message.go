package models

// Tipi di evento inviati ai client WebSocket
const (
	WSTypeMessage = "message"
	WSTypeStatus  = "status"
)

// WSMessage è la busta degli eventi inviati sul canale /ws
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
