package whatsapp

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"whatsapp-gateway/models"
	"whatsapp-gateway/telemetry"
	"whatsapp-gateway/utils"
)

var (
	ErrMediaTimeout = errors.New("timeout nel download del media")
	errNoDownloader = errors.New("nessun client disponibile per il download")
)

// MediaDownloader scarica e decifra un allegato
type MediaDownloader interface {
	Download(msg whatsmeow.DownloadableMessage) ([]byte, error)
}

// MediaWriter salva i byte di un allegato e restituisce il percorso scritto
type MediaWriter interface {
	Write(filename string, data []byte) (string, error)
}

// mediaPayload accomuna image, video, audio, document e sticker
type mediaPayload interface {
	whatsmeow.DownloadableMessage
	GetMimetype() string
}

// content è il contenuto grezzo ridotto a un'unica variante
type content struct {
	kind  models.Kind
	text  string
	media mediaPayload
}

func classifyContent(msg *waE2E.Message) content {
	switch {
	case msg == nil:
		return content{kind: models.KindOther}
	case msg.GetConversation() != "":
		return content{kind: models.KindText, text: msg.GetConversation()}
	case msg.GetExtendedTextMessage() != nil:
		return content{kind: models.KindText, text: msg.GetExtendedTextMessage().GetText()}
	case msg.GetImageMessage() != nil:
		return content{kind: models.KindImage, media: msg.GetImageMessage()}
	case msg.GetVideoMessage() != nil:
		return content{kind: models.KindVideo, media: msg.GetVideoMessage()}
	case msg.GetAudioMessage() != nil:
		return content{kind: models.KindAudio, media: msg.GetAudioMessage()}
	case msg.GetDocumentMessage() != nil:
		return content{kind: models.KindDocument, media: msg.GetDocumentMessage()}
	case msg.GetStickerMessage() != nil:
		return content{kind: models.KindSticker, media: msg.GetStickerMessage()}
	}
	return content{kind: models.KindOther}
}

// Normalizer converte gli eventi whatsmeow nel formato Message
type Normalizer struct {
	sink    MediaWriter
	timeout time.Duration
	log     zerolog.Logger
	metrics *telemetry.Metrics
}

func NewNormalizer(sink MediaWriter, timeout time.Duration, log zerolog.Logger, metrics *telemetry.Metrics) *Normalizer {
	return &Normalizer{
		sink:    sink,
		timeout: timeout,
		log:     log.With().Str("component", "normalizer").Logger(),
		metrics: metrics,
	}
}

// Normalize costruisce il Message. Un errore sul media non blocca il messaggio:
// viene registrato e il campo media resta vuoto.
func (n *Normalizer) Normalize(ctx context.Context, evt *events.Message, dl MediaDownloader) *models.Message {
	ctx, span := telemetry.Tracer().Start(ctx, "normalize")
	defer span.End()

	chatID := evt.Info.Chat.String()
	isGroup := evt.Info.Chat.Server == types.GroupServer || strings.HasSuffix(chatID, "@"+types.GroupServer)

	sender := chatID
	if isGroup {
		sender = evt.Info.Sender.ToNonAD().String()
	}

	c := classifyContent(evt.Message)
	msg := &models.Message{
		ID:        evt.Info.ID,
		ChatID:    chatID,
		Sender:    sender,
		IsGroup:   isGroup,
		Timestamp: evt.Info.Timestamp.Unix(),
		Kind:      c.kind,
	}
	span.SetAttributes(attribute.String("message.kind", string(c.kind)))

	switch {
	case c.kind == models.KindText:
		text := c.text
		msg.Text = &text
	case c.kind.IsMedia():
		msg.Media = n.saveMedia(ctx, span, msg.ID, c, dl)
	default:
		n.log.Debug().Str("id", msg.ID).Str("chat", chatID).Msg("Tipo di messaggio non riconosciuto")
	}

	n.metrics.MessageReceived(ctx, string(c.kind))
	return msg
}

func (n *Normalizer) saveMedia(ctx context.Context, span trace.Span, id string, c content, dl MediaDownloader) *models.MediaAttachment {
	data, err := n.download(dl, c.media)
	if err != nil {
		n.mediaFailed(ctx, span, id, c.kind, "Errore nel download del media", err)
		return nil
	}

	mimeType := c.media.GetMimetype()
	filename := utils.SanitizePathComponent(id) + "." + utils.ExtensionForMime(c.kind, mimeType)
	path, err := n.sink.Write(filename, data)
	if err != nil {
		n.mediaFailed(ctx, span, id, c.kind, "Errore nel salvataggio del media", err)
		return nil
	}

	media := &models.MediaAttachment{
		Type:     c.kind,
		Mimetype: mimeType,
		Path:     path,
		URL:      "/downloads/" + filename,
		Size:     len(data),
	}
	switch payload := c.media.(type) {
	case *waE2E.AudioMessage:
		if payload.Seconds != nil {
			seconds := payload.GetSeconds()
			media.Duration = &seconds
		}
		if payload.GetPTT() {
			media.IsVoiceNote = true
			media.Waveform = payload.GetWaveform()
		}
	case *waE2E.VideoMessage:
		if payload.Seconds != nil {
			seconds := payload.GetSeconds()
			media.Duration = &seconds
		}
	}

	n.log.Info().Str("id", id).Str("kind", string(c.kind)).Int("size", media.Size).Str("path", path).Msg("Media salvato")
	return media
}

func (n *Normalizer) mediaFailed(ctx context.Context, span trace.Span, id string, kind models.Kind, msg string, err error) {
	n.log.Error().Err(err).Str("id", id).Str("kind", string(kind)).Msg(msg)
	span.RecordError(err)
	n.metrics.MediaFailed(ctx, string(kind))
}

// download applica il timeout configurato al download del client
func (n *Normalizer) download(dl MediaDownloader, media whatsmeow.DownloadableMessage) ([]byte, error) {
	if dl == nil {
		return nil, errNoDownloader
	}
	if n.timeout <= 0 {
		return dl.Download(media)
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := dl.Download(media)
		done <- result{data, err}
	}()

	timer := time.NewTimer(n.timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.data, r.err
	case <-timer.C:
		return nil, ErrMediaTimeout
	}
}
