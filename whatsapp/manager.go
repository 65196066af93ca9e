package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"

	"whatsapp-gateway/models"
	"whatsapp-gateway/telemetry"
)

// ErrNotConnected indica che la sessione non è nello stato connected
var ErrNotConnected = errors.New("WhatsApp non connesso")

const eventQueueSize = 256

// MessageSink riceve ogni messaggio normalizzato
type MessageSink interface {
	Deliver(msg *models.Message) error
}

// StatusListener viene notificato dopo ogni cambio di stato
type StatusListener interface {
	StatusChanged(status models.Status)
}

type stopper interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) stopper

func timeAfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

type (
	startRequest   struct{}
	reconnectFired struct{ seq uint64 }
	qrItem         struct{ item whatsmeow.QRChannelItem }
)

// queuedEvent è un evento in coda, etichettato con l'epoca della sessione che l'ha emesso.
// Gli eventi interni usano epoch 0.
type queuedEvent struct {
	epoch uint64
	evt   interface{}
	ack   chan struct{}
}

// ManagerOptions raccoglie le dipendenze del Manager
type ManagerOptions struct {
	Store          CredentialStore
	NewClient      ClientFactory
	Normalizer     *Normalizer
	ReconnectDelay time.Duration
	PrintQR        bool
	QROutput       io.Writer
	Logger         zerolog.Logger
	Metrics        *telemetry.Metrics
}

// Manager possiede l'unica sessione WhatsApp del processo. Tutti gli eventi del
// client passano da una sola coda consumata da Run.
type Manager struct {
	store      CredentialStore
	newClient  ClientFactory
	normalizer *Normalizer
	delay      time.Duration
	printQR    bool
	qrOut      io.Writer
	log        zerolog.Logger
	metrics    *telemetry.Metrics
	afterFunc  afterFunc

	events chan queuedEvent
	done   chan struct{}

	sinks     []MessageSink
	listeners []StatusListener

	mu       sync.RWMutex
	state    models.ConnectionState
	qr       *string
	identity *models.Identity
	client   ProtocolClient
	epoch    uint64

	// usati solo dal goroutine di Run
	qrCancel       context.CancelFunc
	reconnectTimer stopper
	reconnectSeq   uint64
}

func NewManager(opts ManagerOptions) *Manager {
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	qrOut := opts.QROutput
	if qrOut == nil {
		qrOut = os.Stdout
	}
	return &Manager{
		store:      opts.Store,
		newClient:  opts.NewClient,
		normalizer: opts.Normalizer,
		delay:      delay,
		printQR:    opts.PrintQR,
		qrOut:      qrOut,
		log:        opts.Logger.With().Str("component", "manager").Logger(),
		metrics:    opts.Metrics,
		afterFunc:  timeAfterFunc,
		events:     make(chan queuedEvent, eventQueueSize),
		done:       make(chan struct{}),
		state:      models.StateDisconnected,
	}
}

// AddSink registra un destinatario dei messaggi. Va chiamato prima di Run.
func (m *Manager) AddSink(sink MessageSink) {
	m.sinks = append(m.sinks, sink)
}

// AddStatusListener registra un listener di stato. Va chiamato prima di Run.
func (m *Manager) AddStatusListener(listener StatusListener) {
	m.listeners = append(m.listeners, listener)
}

// Start accoda la richiesta di avvio della sessione
func (m *Manager) Start() {
	m.enqueue(queuedEvent{evt: startRequest{}})
}

// Status restituisce lo stato corrente senza effetti collaterali
func (m *Manager) Status() models.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := models.Status{Status: m.state}
	if m.qr != nil {
		qr := *m.qr
		status.QRCode = &qr
	}
	if m.identity != nil {
		identity := *m.identity
		status.User = &identity
	}
	return status
}

// ConnectedClient restituisce il client della sessione attiva, o ErrNotConnected
func (m *Manager) ConnectedClient() (ProtocolClient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != models.StateConnected || m.client == nil {
		return nil, ErrNotConnected
	}
	return m.client, nil
}

// Run consuma la coda degli eventi finché ctx non viene cancellato
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return ctx.Err()
		case ev := <-m.events:
			m.handle(ctx, ev)
		}
	}
}

func (m *Manager) enqueue(ev queuedEvent) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

// dispatch è l'handler registrato sul client della sessione epoch.
// Per PairSuccess attende che le credenziali siano state salvate.
func (m *Manager) dispatch(epoch uint64, evt interface{}) {
	ev := queuedEvent{epoch: epoch, evt: evt}
	if _, ok := evt.(*events.PairSuccess); ok {
		ev.ack = make(chan struct{})
	}
	if !m.enqueue(ev) || ev.ack == nil {
		return
	}
	select {
	case <-ev.ack:
	case <-m.done:
	}
}

func (m *Manager) currentEpoch() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epoch
}

func (m *Manager) handle(ctx context.Context, ev queuedEvent) {
	if ev.ack != nil {
		defer close(ev.ack)
	}

	switch evt := ev.evt.(type) {
	case startRequest:
		m.connect(ctx)
		return
	case reconnectFired:
		if evt.seq != m.reconnectSeq || m.reconnectTimer == nil {
			return
		}
		m.reconnectTimer = nil
		m.log.Info().Msg("Tentativo di riconnessione")
		m.connect(ctx)
		return
	}

	if ev.epoch != m.currentEpoch() {
		m.log.Debug().Uint64("epoch", ev.epoch).Type("event", ev.evt).Msg("Evento di una sessione precedente ignorato")
		return
	}

	if reason, ok := classifyClose(ev.evt); ok {
		m.handleClose(reason)
		return
	}

	switch evt := ev.evt.(type) {
	case qrItem:
		if evt.item.Event == whatsmeow.QRChannelEventCode {
			m.handleQR(evt.item.Code)
		} else if reason, ok := classifyQR(evt.item); ok {
			if evt.item.Error != nil {
				m.log.Warn().Err(evt.item.Error).Str("event", evt.item.Event).Msg("Errore nel canale QR")
			}
			m.handleClose(reason)
		}
	case *events.PairSuccess:
		m.persistCredentials()
	case *events.Connected:
		m.handleOpen()
	case *events.Message:
		m.handleMessage(ctx, evt)
	}
}

func (m *Manager) connect(ctx context.Context) {
	m.cancelReconnect()
	m.retire()

	device, err := m.store.Load()
	if err != nil {
		m.log.Error().Err(err).Msg("Errore nel caricamento delle credenziali")
		m.scheduleReconnect(ctx, ReasonConnectError)
		return
	}

	client := m.newClient(device)
	m.mu.Lock()
	m.epoch++
	epoch := m.epoch
	m.client = client
	m.mu.Unlock()

	client.AddEventHandler(func(evt interface{}) {
		m.dispatch(epoch, evt)
	})

	if !client.Paired() {
		qrCtx, cancel := context.WithCancel(ctx)
		qrChan, err := client.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			m.log.Error().Err(err).Msg("Errore nell'ottenere il canale QR")
			m.handleClose(ReasonConnectError)
			return
		}
		m.qrCancel = cancel
		go m.forwardQR(epoch, qrChan)
	}

	if err := client.Connect(); err != nil {
		m.log.Error().Err(err).Msg("Errore durante la connessione")
		m.handleClose(ReasonConnectError)
		return
	}
	m.log.Info().Uint64("epoch", epoch).Bool("paired", client.Paired()).Msg("Sessione avviata")
}

func (m *Manager) forwardQR(epoch uint64, qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		if !m.enqueue(queuedEvent{epoch: epoch, evt: qrItem{item: item}}) {
			return
		}
	}
}

func (m *Manager) handleQR(code string) {
	m.mu.Lock()
	m.qr = &code
	m.state = models.StateQRPending
	m.mu.Unlock()

	m.log.Info().Msg("Nuovo codice QR disponibile")
	if m.printQR {
		qrterminal.GenerateHalfBlock(code, qrterminal.L, m.qrOut)
		fmt.Fprintln(m.qrOut, "Scansiona questo codice QR con WhatsApp")
	}
	m.notifyStatus()
}

func (m *Manager) handleOpen() {
	m.mu.Lock()
	m.state = models.StateConnected
	m.qr = nil
	if m.client != nil {
		m.identity = m.client.Identity()
	}
	m.mu.Unlock()

	if m.qrCancel != nil {
		m.qrCancel()
		m.qrCancel = nil
	}
	status := m.Status()
	if status.User != nil {
		m.log.Info().Str("user", status.User.ID).Msg("Client connesso")
	} else {
		m.log.Info().Msg("Client connesso")
	}
	m.notifyStatus()
}

func (m *Manager) persistCredentials() {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()
	if client == nil {
		return
	}
	if err := m.store.Persist(client.Device()); err != nil {
		m.log.Error().Err(err).Msg("Errore nel salvataggio delle credenziali")
		return
	}
	m.log.Info().Msg("Credenziali aggiornate")
}

// handleClose chiude la sessione corrente. Gli eventi successivi della stessa
// sessione risultano obsoleti e vengono scartati.
func (m *Manager) handleClose(reason DisconnectReason) {
	m.retire()
	m.log.Warn().Str("reason", string(reason)).Msg("Connessione chiusa")

	if reason.ShouldReconnect() {
		m.scheduleReconnect(context.Background(), reason)
	} else {
		m.cancelReconnect()
		m.log.Warn().Msg("Dispositivo disconnesso: è necessario associarlo di nuovo")
	}
	m.notifyStatus()
}

// retire disconnette il client attivo e invalida la sua epoca
func (m *Manager) retire() {
	if m.qrCancel != nil {
		m.qrCancel()
		m.qrCancel = nil
	}

	m.mu.Lock()
	client := m.client
	m.client = nil
	m.state = models.StateDisconnected
	m.identity = nil
	if client != nil {
		m.epoch++
	}
	m.mu.Unlock()

	if client != nil {
		client.Disconnect()
	}
}

func (m *Manager) scheduleReconnect(ctx context.Context, reason DisconnectReason) {
	m.cancelReconnect()
	m.reconnectSeq++
	seq := m.reconnectSeq
	m.reconnectTimer = m.afterFunc(m.delay, func() {
		m.enqueue(queuedEvent{evt: reconnectFired{seq: seq}})
	})
	m.metrics.ReconnectScheduled(ctx, string(reason))
	m.log.Info().Dur("delay", m.delay).Str("reason", string(reason)).Msg("Riconnessione programmata")
}

func (m *Manager) cancelReconnect() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *Manager) handleMessage(ctx context.Context, evt *events.Message) {
	if evt.Info.IsFromMe {
		return
	}

	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()

	var dl MediaDownloader
	if client != nil {
		dl = client
	}
	msg := m.normalizer.Normalize(ctx, evt, dl)
	for _, sink := range m.sinks {
		m.deliver(sink, msg)
	}
}

// deliver isola il sink: errori e panic vengono solo registrati
func (m *Manager) deliver(sink MessageSink, msg *models.Message) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Str("id", msg.ID).Type("sink", sink).Msg("Panic nella consegna del messaggio")
		}
	}()
	if err := sink.Deliver(msg); err != nil {
		m.log.Error().Err(err).Str("id", msg.ID).Type("sink", sink).Msg("Errore nella consegna del messaggio")
	}
}

func (m *Manager) notifyStatus() {
	status := m.Status()
	for _, listener := range m.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error().Interface("panic", r).Msg("Panic nel listener di stato")
				}
			}()
			listener.StatusChanged(status)
		}()
	}
}

func (m *Manager) shutdown() {
	m.cancelReconnect()
	m.retire()
	m.log.Info().Msg("Sessione terminata")
}
