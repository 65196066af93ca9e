package models

// Kind è il tipo di contenuto di un messaggio normalizzato
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
	KindSticker  Kind = "sticker"
	KindOther    Kind = "other"
)

// IsMedia indica se il tipo porta un allegato scaricabile
func (k Kind) IsMedia() bool {
	switch k {
	case KindImage, KindVideo, KindAudio, KindDocument, KindSticker:
		return true
	}
	return false
}

// MediaAttachment descrive un allegato scaricato e salvato su disco
type MediaAttachment struct {
	Type        Kind    `json:"type"`
	Mimetype    string  `json:"mimetype,omitempty"`
	Path        string  `json:"filename"`
	URL         string  `json:"url"`
	Size        int     `json:"size"`
	Duration    *uint32 `json:"duration,omitempty"`
	IsVoiceNote bool    `json:"isVoiceNote"`
	Waveform    []byte  `json:"waveform,omitempty"`
}

// Message represents a normalized inbound WhatsApp message.
// Text kinds never carry Media and media kinds never carry Text.
type Message struct {
	ID        string           `json:"id"`
	ChatID    string           `json:"chatId"`
	Sender    string           `json:"sender"`
	IsGroup   bool             `json:"isGroup"`
	Timestamp int64            `json:"timestamp"`
	Kind      Kind             `json:"kind"`
	Text      *string          `json:"text,omitempty"`
	Media     *MediaAttachment `json:"media,omitempty"`
}
