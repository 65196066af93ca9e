package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"whatsapp-gateway/models"
)

var (
	ErrInvalidTarget = errors.New("destinatario non valido")
	ErrEmptyMessage  = errors.New("messaggio vuoto")
)

// SendError avvolge l'errore del client durante upload o invio
type SendError struct {
	Op  string
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("errore %s: %v", e.Op, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// ClientProvider fornisce il client della sessione connessa
type ClientProvider interface {
	ConnectedClient() (ProtocolClient, error)
}

// SendRequest è una richiesta di invio. MediaType accetta audio, image, video,
// document oppure un mime type completo.
type SendRequest struct {
	Phone     string
	Message   string
	MediaPath string
	MediaType string
}

// Gateway traduce le richieste di invio in messaggi whatsmeow
type Gateway struct {
	clients ClientProvider
	log     zerolog.Logger
}

func NewGateway(clients ClientProvider, log zerolog.Logger) *Gateway {
	return &Gateway{
		clients: clients,
		log:     log.With().Str("component", "gateway").Logger(),
	}
}

// ResolveTarget completa un numero con il dominio delle chat dirette.
// Un indirizzo che contiene già "@" viene usato così com'è.
func ResolveTarget(phone string) (types.JID, error) {
	phone = strings.TrimSpace(phone)
	if strings.Contains(phone, "@") {
		jid, err := types.ParseJID(phone)
		if err != nil || jid.User == "" {
			return types.EmptyJID, ErrInvalidTarget
		}
		return jid, nil
	}
	phone = strings.TrimPrefix(phone, "+")
	if phone == "" {
		return types.EmptyJID, ErrInvalidTarget
	}
	return types.NewJID(phone, types.DefaultUserServer), nil
}

// Send invia testo o media e restituisce l'id assegnato al messaggio
func (g *Gateway) Send(ctx context.Context, req SendRequest) (string, error) {
	client, err := g.clients.ConnectedClient()
	if err != nil {
		return "", err
	}

	jid, err := ResolveTarget(req.Phone)
	if err != nil {
		return "", err
	}

	var msg *waE2E.Message
	if data, ok := readMedia(req.MediaPath); ok {
		msg, err = g.buildMedia(ctx, client, req, data)
		if err != nil {
			return "", err
		}
	} else {
		if req.MediaPath != "" {
			g.log.Warn().Str("path", req.MediaPath).Msg("File media non trovato, invio solo testo")
		}
		if strings.TrimSpace(req.Message) == "" {
			return "", ErrEmptyMessage
		}
		msg = &waE2E.Message{Conversation: proto.String(req.Message)}
	}

	resp, err := client.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", &SendError{Op: "nell'invio del messaggio", Err: err}
	}
	g.log.Info().Str("to", jid.String()).Str("id", resp.ID).Msg("Messaggio inviato")
	return resp.ID, nil
}

func readMedia(path string) ([]byte, bool) {
	if path == "" {
		return nil, false
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}

// ResolveMime sceglie il mime type: hint esplicito, estensione, contenuto
func ResolveMime(path, hint string, data []byte) string {
	if strings.Contains(hint, "/") {
		return hint
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); byExt != "" {
		return byExt
	}
	if len(data) > 0 {
		return mimetype.Detect(data).String()
	}
	return "application/octet-stream"
}

// ResolveShape sceglie la forma del messaggio in uscita
func ResolveShape(hint, mimeType string) models.Kind {
	switch models.Kind(strings.ToLower(strings.TrimSpace(hint))) {
	case models.KindAudio:
		return models.KindAudio
	case models.KindImage:
		return models.KindImage
	case models.KindVideo:
		return models.KindVideo
	case models.KindDocument:
		return models.KindDocument
	}
	switch {
	case strings.HasPrefix(mimeType, "audio/"):
		return models.KindAudio
	case strings.HasPrefix(mimeType, "image/"):
		return models.KindImage
	case strings.HasPrefix(mimeType, "video/"):
		return models.KindVideo
	}
	return models.KindDocument
}

func (g *Gateway) buildMedia(ctx context.Context, client ProtocolClient, req SendRequest, data []byte) (*waE2E.Message, error) {
	mimeType := ResolveMime(req.MediaPath, req.MediaType, data)
	shape := ResolveShape(req.MediaType, mimeType)

	var mediaType whatsmeow.MediaType
	switch shape {
	case models.KindAudio:
		mediaType = whatsmeow.MediaAudio
	case models.KindImage:
		mediaType = whatsmeow.MediaImage
	case models.KindVideo:
		mediaType = whatsmeow.MediaVideo
	default:
		mediaType = whatsmeow.MediaDocument
	}

	uploaded, err := client.Upload(ctx, data, mediaType)
	if err != nil {
		return nil, &SendError{Op: "nell'upload del media", Err: err}
	}

	var caption *string
	if req.Message != "" {
		caption = proto.String(req.Message)
	}

	switch shape {
	case models.KindAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimeType),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			PTT:           proto.Bool(true),
		}}, nil
	case models.KindImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimeType),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			Caption:       caption,
		}}, nil
	case models.KindVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimeType),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			Caption:       caption,
		}}, nil
	}
	return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
		URL:           proto.String(uploaded.URL),
		DirectPath:    proto.String(uploaded.DirectPath),
		MediaKey:      uploaded.MediaKey,
		Mimetype:      proto.String(mimeType),
		FileEncSHA256: uploaded.FileEncSHA256,
		FileSHA256:    uploaded.FileSHA256,
		FileLength:    proto.Uint64(uploaded.FileLength),
		FileName:      proto.String(filepath.Base(req.MediaPath)),
	}}, nil
}

// ListChats restituisce i gruppi a cui partecipa l'account
func (g *Gateway) ListChats(ctx context.Context) ([]models.ChatSummary, error) {
	client, err := g.clients.ConnectedClient()
	if err != nil {
		return nil, err
	}

	groups, err := client.GetJoinedGroups()
	if err != nil {
		return nil, fmt.Errorf("errore nel recupero dei gruppi: %w", err)
	}

	chats := make([]models.ChatSummary, 0, len(groups))
	for _, group := range groups {
		if group == nil {
			continue
		}
		chats = append(chats, models.ChatSummary{
			ID:           group.JID.String(),
			Name:         group.Name,
			IsGroup:      true,
			Participants: len(group.Participants),
		})
	}
	return chats, nil
}
