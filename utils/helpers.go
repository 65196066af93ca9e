package utils

import (
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"whatsapp-gateway/models"
)

// SanitizePathComponent sanitizza una stringa per l'uso nei percorsi dei file
func SanitizePathComponent(s string) string {
	// Rimuovi caratteri non sicuri per i percorsi dei file
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, ":", "_")
	s = strings.ReplaceAll(s, "*", "_")
	s = strings.ReplaceAll(s, "?", "_")
	s = strings.ReplaceAll(s, "\"", "_")
	s = strings.ReplaceAll(s, "<", "_")
	s = strings.ReplaceAll(s, ">", "_")
	s = strings.ReplaceAll(s, "|", "_")
	s = strings.ReplaceAll(s, "..", "_")
	return s
}

// BaseMimeType rimuove i parametri (es. "; codecs=opus") e normalizza il tipo MIME
func BaseMimeType(mimeType string) string {
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(mimeType); err == nil {
		return parsed
	}
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// audioExtension copre i formati audio di WhatsApp, le note vocali restano .ogg
func audioExtension(mimeType string) string {
	switch mimeType {
	case "audio/ogg", "audio/opus":
		return "ogg"
	case "audio/mp4", "audio/aac":
		return "m4a"
	case "audio/wav":
		return "wav"
	case "audio/mpeg":
		return "mp3"
	default:
		return ""
	}
}

// DefaultExtension restituisce l'estensione usata quando il tipo MIME manca o è sconosciuto
func DefaultExtension(kind models.Kind) string {
	switch kind {
	case models.KindImage:
		return "jpg"
	case models.KindVideo:
		return "mp4"
	case models.KindAudio:
		return "ogg"
	case models.KindSticker:
		return "webp"
	default:
		return "bin"
	}
}

// ExtensionForMime ricava l'estensione (senza punto) dal tipo MIME dichiarato,
// con fallback sull'estensione predefinita del tipo di contenuto
func ExtensionForMime(kind models.Kind, mimeType string) string {
	base := BaseMimeType(mimeType)
	if base == "" {
		return DefaultExtension(kind)
	}
	if ext := audioExtension(base); ext != "" {
		return ext
	}
	if m := mimetype.Lookup(base); m != nil {
		if ext := strings.TrimPrefix(m.Extension(), "."); ext != "" {
			return ext
		}
	}
	return DefaultExtension(kind)
}

// IsVoiceFile indica se un file scaricato è una nota vocale
func IsVoiceFile(filename string) bool {
	lower := strings.ToLower(filename)
	return strings.HasSuffix(lower, ".ogg") || strings.HasSuffix(lower, ".opus")
}
