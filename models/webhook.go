package models

import "time"

// WebhookSubscription rappresenta un endpoint registrato per ricevere i messaggi.
// Le registrazioni duplicate sono ammesse e ricevono ciascuna ogni messaggio.
type WebhookSubscription struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	Filter       string    `json:"filter,omitempty"`
	RegisteredAt time.Time `json:"registeredAt"`
}
