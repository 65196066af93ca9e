package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"whatsapp-gateway/models"
	"whatsapp-gateway/telemetry"
)

var (
	ErrMissingURL    = errors.New("url mancante")
	ErrInvalidFilter = errors.New("filtro non valido")
)

const filterBudget = 100 * time.Millisecond

type subscription struct {
	models.WebhookSubscription
	filter *goja.Program
}

// WebhookService mantiene gli endpoint registrati e consegna loro ogni messaggio.
// Ogni consegna è un singolo tentativo in un goroutine separato.
type WebhookService struct {
	client  *http.Client
	timeout time.Duration
	log     zerolog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	mu            sync.Mutex
	subscriptions []subscription
	wg            sync.WaitGroup
}

func NewWebhookService(timeout time.Duration, log zerolog.Logger, metrics *telemetry.Metrics) *WebhookService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookService{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		log:     log.With().Str("component", "webhook").Logger(),
		metrics: metrics,
		now:     time.Now,
	}
}

// Register aggiunge un endpoint. Il filtro opzionale è un'espressione JavaScript
// valutata con il messaggio disponibile come msg.
func (s *WebhookService) Register(url, filter string) (models.WebhookSubscription, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return models.WebhookSubscription{}, ErrMissingURL
	}

	sub := subscription{
		WebhookSubscription: models.WebhookSubscription{
			ID:           uuid.New().String(),
			URL:          url,
			Filter:       strings.TrimSpace(filter),
			RegisteredAt: s.now(),
		},
	}
	if sub.Filter != "" {
		program, err := goja.Compile("filter", "("+sub.Filter+")", false)
		if err != nil {
			return models.WebhookSubscription{}, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
		}
		sub.filter = program
	}

	s.mu.Lock()
	s.subscriptions = append(s.subscriptions, sub)
	s.mu.Unlock()

	s.log.Info().Str("id", sub.ID).Str("url", url).Bool("filter", sub.filter != nil).Msg("Webhook registrato")
	return sub.WebhookSubscription, nil
}

// Subscriptions restituisce una copia delle registrazioni
func (s *WebhookService) Subscriptions() []models.WebhookSubscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]models.WebhookSubscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		result = append(result, sub.WebhookSubscription)
	}
	return result
}

// Deliver invia il messaggio a tutti gli endpoint senza attendere le risposte
func (s *WebhookService) Deliver(msg *models.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("errore nella serializzazione del messaggio: %w", err)
	}

	s.mu.Lock()
	targets := append([]subscription(nil), s.subscriptions...)
	s.mu.Unlock()

	for _, sub := range targets {
		s.wg.Add(1)
		go func(sub subscription) {
			defer s.wg.Done()
			s.deliverOne(sub, msg.ID, payload)
		}(sub)
	}
	return nil
}

// Wait attende le consegne in corso
func (s *WebhookService) Wait() {
	s.wg.Wait()
}

func (s *WebhookService) deliverOne(sub subscription, messageID string, payload []byte) {
	log := s.log.With().Str("subscription", sub.ID).Str("url", sub.URL).Str("message", messageID).Logger()

	if sub.filter != nil {
		pass, err := evaluateFilter(sub.filter, payload)
		if err != nil {
			log.Warn().Err(err).Msg("Errore nella valutazione del filtro")
			return
		}
		if !pass {
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	ctx, span := telemetry.Tracer().Start(ctx, "webhook.deliver")
	defer span.End()
	span.SetAttributes(attribute.String("webhook.url", sub.URL))

	deliveryID := uuid.New().String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		log.Error().Err(err).Msg("Errore nella creazione della richiesta webhook")
		s.metrics.WebhookDelivered(ctx, false)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Delivery", deliveryID)
	req.Header.Set("X-Webhook-Subscription", sub.ID)

	resp, err := s.client.Do(req)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Msg("Errore nella consegna del webhook")
		s.metrics.WebhookDelivered(ctx, false)
		return
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Error().Int("status", resp.StatusCode).Msg("Webhook ha risposto con errore")
		s.metrics.WebhookDelivered(ctx, false)
		return
	}
	log.Debug().Str("delivery", deliveryID).Msg("Webhook consegnato")
	s.metrics.WebhookDelivered(ctx, true)
}

// evaluateFilter esegue il filtro in un runtime dedicato con un tempo massimo
func evaluateFilter(program *goja.Program, payload []byte) (bool, error) {
	vm := goja.New()
	timer := time.AfterFunc(filterBudget, func() {
		vm.Interrupt("tempo scaduto")
	})
	defer timer.Stop()

	vm.Set("payload", string(payload))
	if _, err := vm.RunString("const msg = JSON.parse(payload);"); err != nil {
		return false, err
	}
	value, err := vm.RunProgram(program)
	if err != nil {
		return false, err
	}
	return value.ToBoolean(), nil
}
