package models

// ConnectionState è lo stato della sessione WhatsApp
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateQRPending    ConnectionState = "qr_pending"
	StateConnected    ConnectionState = "connected"
)

// Identity è l'account autenticato
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Status è la fotografia dello stato della connessione
type Status struct {
	Status ConnectionState `json:"status"`
	QRCode *string         `json:"qrCode"`
	User   *Identity       `json:"user"`
}
