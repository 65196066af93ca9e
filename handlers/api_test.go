package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"whatsapp-gateway/models"
	"whatsapp-gateway/persistence"
	"whatsapp-gateway/whatsapp"
)

type fakeStatus struct {
	status models.Status
}

func (f *fakeStatus) Status() models.Status {
	return f.status
}

type fakeSender struct {
	requests []whatsapp.SendRequest
	sendErr  error
	chats    []models.ChatSummary
	chatsErr error
}

func (f *fakeSender) Send(ctx context.Context, req whatsapp.SendRequest) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.requests = append(f.requests, req)
	return "3EB0FAKE", nil
}

func (f *fakeSender) ListChats(ctx context.Context) ([]models.ChatSummary, error) {
	return f.chats, f.chatsErr
}

type fakeHistory struct {
	chat  string
	limit int
}

func (f *fakeHistory) Recent(chatID string, limit int) ([]models.Message, error) {
	f.chat, f.limit = chatID, limit
	return []models.Message{{ID: "A", ChatID: chatID, Kind: models.KindOther}}, nil
}

type apiFixture struct {
	router   *gin.Engine
	status   *fakeStatus
	sender   *fakeSender
	webhooks *WebhookService
	media    *persistence.MediaSink
	history  *fakeHistory
	hub      *Hub
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	media, err := persistence.NewMediaSink(t.TempDir())
	if err != nil {
		t.Fatalf("NewMediaSink failed: %v", err)
	}
	f := &apiFixture{
		router:   gin.New(),
		status:   &fakeStatus{status: models.Status{Status: models.StateDisconnected}},
		sender:   &fakeSender{},
		webhooks: NewWebhookService(time.Second, zerolog.Nop(), nil),
		media:    media,
		history:  &fakeHistory{},
		hub:      NewHub(zerolog.Nop()),
	}
	SetupAPIRoutes(f.router, APIDeps{
		Status:   f.status,
		Sender:   f.sender,
		Webhooks: f.webhooks,
		Media:    f.media,
		History:  f.history,
		Hub:      f.hub,
		Log:      zerolog.Nop(),
	})
	return f
}

func (f *apiFixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid JSON %q: %v", w.Body.String(), err)
	}
}

func TestStatusRoute(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(http.MethodGet, "/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected code %d", w.Code)
	}
	var body map[string]interface{}
	decode(t, w, &body)
	if body["status"] != "disconnected" || body["user"] != nil || body["qrCode"] != nil {
		t.Errorf("unexpected body: %v", body)
	}
	if _, ok := body["user"]; !ok {
		t.Errorf("user key must be present")
	}

	f.status.status = models.Status{
		Status: models.StateConnected,
		User:   &models.Identity{ID: "393331234567@s.whatsapp.net", Name: "Test"},
	}
	decode(t, f.do(http.MethodGet, "/status", ""), &body)
	user, _ := body["user"].(map[string]interface{})
	if body["status"] != "connected" || user["id"] != "393331234567@s.whatsapp.net" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestQRRoutes(t *testing.T) {
	f := newAPIFixture(t)

	var body map[string]interface{}
	decode(t, f.do(http.MethodGet, "/qr", ""), &body)
	if _, ok := body["qr"]; ok || body["status"] != "disconnected" || body["message"] == nil {
		t.Errorf("unexpected body without QR: %v", body)
	}
	if w := f.do(http.MethodGet, "/qr/image", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 without QR, got %d", w.Code)
	}

	code := "2@AbCdEf,ghIJkl"
	f.status.status = models.Status{Status: models.StateQRPending, QRCode: &code}
	body = nil
	decode(t, f.do(http.MethodGet, "/qr", ""), &body)
	if body["qr"] != code {
		t.Errorf("expected qr, got %v", body)
	}

	w := f.do(http.MethodGet, "/qr/image", "")
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected response: %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	if _, err := png.Decode(bytes.NewReader(w.Body.Bytes())); err != nil {
		t.Errorf("invalid PNG: %v", err)
	}
}

func TestSendRoute(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/send", `{"phone":"15551234567","message":"hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected code %d: %s", w.Code, w.Body.String())
	}
	var body map[string]interface{}
	decode(t, w, &body)
	if body["success"] != true || body["messageId"] != "3EB0FAKE" {
		t.Errorf("unexpected body: %v", body)
	}
	if len(f.sender.requests) != 1 || f.sender.requests[0].Phone != "15551234567" || f.sender.requests[0].Message != "hi" {
		t.Errorf("unexpected requests: %+v", f.sender.requests)
	}

	w = f.do(http.MethodPost, "/send", `{"phone":"1","message":"x","mediaPath":"/tmp/a.ogg","mediaType":"audio"}`)
	if w.Code != http.StatusOK || f.sender.requests[1].MediaType != "audio" || f.sender.requests[1].MediaPath != "/tmp/a.ogg" {
		t.Errorf("media fields not forwarded: %+v", f.sender.requests)
	}
}

func TestSendRouteErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		code int
	}{
		{"malformed", `{"phone":`, nil, http.StatusBadRequest},
		{"missing phone", `{"message":"hi"}`, nil, http.StatusBadRequest},
		{"not connected", `{"phone":"1","message":"hi"}`, whatsapp.ErrNotConnected, http.StatusServiceUnavailable},
		{"empty message", `{"phone":"1"}`, whatsapp.ErrEmptyMessage, http.StatusBadRequest},
		{"send failure", `{"phone":"1","message":"hi"}`, &whatsapp.SendError{Op: "nell'invio", Err: errors.New("socket chiuso")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			f.sender.sendErr = tt.err
			w := f.do(http.MethodPost, "/send", tt.body)
			if w.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, w.Code)
			}
			var body map[string]interface{}
			decode(t, w, &body)
			if body["error"] == nil {
				t.Errorf("error body missing: %v", body)
			}
			if tt.code == http.StatusInternalServerError && !strings.Contains(body["error"].(string), "socket chiuso") {
				t.Errorf("underlying error must be reported: %v", body["error"])
			}
		})
	}
}

func TestChatsRoute(t *testing.T) {
	f := newAPIFixture(t)
	f.sender.chats = []models.ChatSummary{{ID: "1@g.us", Name: "Gruppo", IsGroup: true, Participants: 4}}

	w := f.do(http.MethodGet, "/chats", "")
	var chats []models.ChatSummary
	decode(t, w, &chats)
	if w.Code != http.StatusOK || len(chats) != 1 || chats[0].Participants != 4 {
		t.Errorf("unexpected response: %d %+v", w.Code, chats)
	}

	f.sender.chatsErr = whatsapp.ErrNotConnected
	if w := f.do(http.MethodGet, "/chats", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
	f.sender.chatsErr = errors.New("timeout")
	if w := f.do(http.MethodGet, "/chats", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestWebhookRoutes(t *testing.T) {
	f := newAPIFixture(t)

	if w := f.do(http.MethodPost, "/webhook/register", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without url, got %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/webhook/register", `{"url":"http://x","filter":"msg.kind ==="}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid filter, got %d", w.Code)
	}

	for i := 0; i < 2; i++ {
		w := f.do(http.MethodPost, "/webhook/register", `{"url":"http://example.com/hook"}`)
		var body map[string]interface{}
		decode(t, w, &body)
		if w.Code != http.StatusOK || body["success"] != true || body["message"] == nil || body["id"] == "" {
			t.Fatalf("unexpected response: %d %v", w.Code, body)
		}
	}

	var subs []models.WebhookSubscription
	decode(t, f.do(http.MethodGet, "/webhooks", ""), &subs)
	if len(subs) != 2 || subs[0].URL != "http://example.com/hook" || subs[0].ID == subs[1].ID {
		t.Errorf("unexpected subscriptions: %+v", subs)
	}
}

func TestDownloadRoutes(t *testing.T) {
	f := newAPIFixture(t)
	if _, err := f.media.Write("VOICE1.ogg", []byte("OggS")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	w := f.do(http.MethodGet, "/downloads/VOICE1.ogg", "")
	if w.Code != http.StatusOK || w.Body.String() != "OggS" {
		t.Errorf("unexpected response: %d %q", w.Code, w.Body.String())
	}

	for _, path := range []string{"/downloads/missing.ogg", "/downloads/../x", "/downloads/..%2Fx"} {
		if w := f.do(http.MethodGet, path, ""); w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, w.Code)
		}
	}

	var files []models.DownloadedFile
	decode(t, f.do(http.MethodGet, "/downloads", ""), &files)
	if len(files) != 1 || !files[0].IsVoice || files[0].Filename != "VOICE1.ogg" {
		t.Errorf("unexpected listing: %+v", files)
	}
}

func TestMessagesRoute(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/messages?chat=1@s.whatsapp.net&limit=1000", "")
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected code %d", w.Code)
	}
	if f.history.chat != "1@s.whatsapp.net" || f.history.limit != maxHistoryLimit {
		t.Errorf("unexpected query: %q %d", f.history.chat, f.history.limit)
	}
	if w := f.do(http.MethodGet, "/messages?limit=abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	f.do(http.MethodGet, "/messages", "")
	if f.history.limit != defaultHistoryLimit {
		t.Errorf("expected default limit, got %d", f.history.limit)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(http.MethodOptions, "/send", "")
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("unexpected preflight: %d %v", w.Code, w.Header())
	}
}

func TestWebSocketRoute(t *testing.T) {
	f := newAPIFixture(t)
	server := httptest.NewServer(f.router)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var initial struct {
		Type    string        `json:"type"`
		Payload models.Status `json:"payload"`
	}
	if err := conn.ReadJSON(&initial); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if initial.Type != models.WSTypeStatus || initial.Payload.Status != models.StateDisconnected {
		t.Errorf("unexpected initial event: %+v", initial)
	}

	f.hub.Deliver(textMessage("A", "ciao"))
	var event struct {
		Type    string         `json:"type"`
		Payload models.Message `json:"payload"`
	}
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if event.Type != models.WSTypeMessage || event.Payload.ID != "A" {
		t.Errorf("unexpected event: %+v", event)
	}
}
