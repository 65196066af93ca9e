package whatsapp

import (
	"context"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"whatsapp-gateway/models"
)

// ProtocolClient è il sottoinsieme di *whatsmeow.Client usato dal gateway
type ProtocolClient interface {
	AddEventHandler(handler whatsmeow.EventHandler) uint32
	Connect() error
	Disconnect()
	GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error)
	Download(msg whatsmeow.DownloadableMessage) ([]byte, error)
	Upload(ctx context.Context, plaintext []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
	GetJoinedGroups() ([]*types.GroupInfo, error)

	// Paired indica se il dispositivo ha già credenziali valide
	Paired() bool
	// Identity restituisce l'account autenticato, nil se non associato
	Identity() *models.Identity
	Device() *store.Device
}

// ClientFactory crea un nuovo client di protocollo per ogni avvio di sessione
type ClientFactory func(device *store.Device) ProtocolClient

// Client rappresenta il client WhatsApp
type Client struct {
	*whatsmeow.Client
}

// NewClient crea un nuovo client WhatsApp con la riconnessione automatica disattivata:
// i tentativi di riconnessione sono gestiti dal Manager.
func NewClient(device *store.Device, logger waLog.Logger) *Client {
	client := whatsmeow.NewClient(device, logger)
	client.EnableAutoReconnect = false
	return &Client{Client: client}
}

// NewClientFactory restituisce una ClientFactory basata su whatsmeow
func NewClientFactory(logger waLog.Logger) ClientFactory {
	return func(device *store.Device) ProtocolClient {
		return NewClient(device, logger)
	}
}

func (c *Client) Paired() bool {
	return c.Store != nil && c.Store.ID != nil
}

func (c *Client) Identity() *models.Identity {
	if !c.Paired() {
		return nil
	}
	return &models.Identity{
		ID:   c.Store.ID.ToNonAD().String(),
		Name: c.Store.PushName,
	}
}

func (c *Client) Device() *store.Device {
	return c.Store
}
