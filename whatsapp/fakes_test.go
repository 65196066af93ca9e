package whatsapp

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"

	"whatsapp-gateway/models"
)

type sentMessage struct {
	to  types.JID
	msg *waE2E.Message
}

type fakeClient struct {
	mu          sync.Mutex
	handlers    []whatsmeow.EventHandler
	paired      bool
	identity    *models.Identity
	device      *store.Device
	qrChan      chan whatsmeow.QRChannelItem
	connectErr  error
	connects    int
	disconnects int

	downloadData []byte
	downloadErr  error
	downloads    int

	uploads  []whatsmeow.MediaType
	sent     []sentMessage
	sendErr  error
	groups   []*types.GroupInfo
	groupErr error
}

func newFakeClient(paired bool) *fakeClient {
	return &fakeClient{
		paired: paired,
		device: &store.Device{},
		qrChan: make(chan whatsmeow.QRChannelItem, 8),
	}
}

func (f *fakeClient) AddEventHandler(handler whatsmeow.EventHandler) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, handler)
	return uint32(len(f.handlers))
}

func (f *fakeClient) emit(evt interface{}) {
	f.mu.Lock()
	handlers := append([]whatsmeow.EventHandler(nil), f.handlers...)
	f.mu.Unlock()
	for _, handler := range handlers {
		handler(evt)
	}
}

func (f *fakeClient) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeClient) GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	if f.paired {
		return nil, errors.New("dispositivo già associato")
	}
	return f.qrChan, nil
}

func (f *fakeClient) Download(msg whatsmeow.DownloadableMessage) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	return f.downloadData, f.downloadErr
}

func (f *fakeClient) Upload(ctx context.Context, plaintext []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, appInfo)
	return whatsmeow.UploadResponse{
		URL:        "https://mmg.whatsapp.net/fake",
		DirectPath: "/fake",
		MediaKey:   []byte("key"),
		FileLength: uint64(len(plaintext)),
	}, nil
}

func (f *fakeClient) SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return whatsmeow.SendResponse{}, f.sendErr
	}
	f.sent = append(f.sent, sentMessage{to: to, msg: message})
	return whatsmeow.SendResponse{ID: "3EB0FAKE", Timestamp: time.Unix(1700000000, 0)}, nil
}

func (f *fakeClient) GetJoinedGroups() ([]*types.GroupInfo, error) {
	return f.groups, f.groupErr
}

func (f *fakeClient) Paired() bool {
	return f.paired
}

func (f *fakeClient) Identity() *models.Identity {
	return f.identity
}

func (f *fakeClient) Device() *store.Device {
	return f.device
}

type fakeStore struct {
	mu        sync.Mutex
	loadErr   error
	persisted []*store.Device
}

func (s *fakeStore) Load() (*store.Device, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return &store.Device{}, nil
}

func (s *fakeStore) Persist(device *store.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if device == nil {
		return errors.New("device nil")
	}
	s.persisted = append(s.persisted, device)
	return nil
}

type fakeTimer struct {
	delay   time.Duration
	fire    func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

// trigger simula lo scadere del timer
func (t *fakeTimer) trigger() {
	t.stopped = true
	t.fire()
}

type fakeClock struct {
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) stopper {
	t := &fakeTimer{delay: d, fire: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) active() []*fakeTimer {
	var active []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped {
			active = append(active, t)
		}
	}
	return active
}

type memoryWriter struct {
	mu     sync.Mutex
	files  map[string][]byte
	writes int
	err    error
}

func newMemoryWriter() *memoryWriter {
	return &memoryWriter{files: make(map[string][]byte)}
}

func (w *memoryWriter) Write(filename string, data []byte) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return "", w.err
	}
	w.writes++
	w.files[filename] = append([]byte(nil), data...)
	return "downloads/" + filename, nil
}

type recordingSink struct {
	mu       sync.Mutex
	messages []*models.Message
	err      error
	panics   bool
}

func (s *recordingSink) Deliver(msg *models.Message) error {
	if s.panics {
		panic("sink rotto")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return s.err
}

type recordingListener struct {
	statuses []models.Status
}

func (l *recordingListener) StatusChanged(status models.Status) {
	l.statuses = append(l.statuses, status)
}
