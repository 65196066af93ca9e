package models

// ChatSummary represents a WhatsApp chat as listed by the API
type ChatSummary struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	IsGroup      bool   `json:"isGroup"`
	Participants int    `json:"participants"`
}
