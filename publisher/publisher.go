package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"whatsapp-gateway/models"
)

const publishTimeout = 5 * time.Second

type publishFunc func(ctx context.Context, exchange, key string, msg amqp091.Publishing) error

// Publisher pubblica ogni messaggio normalizzato su un exchange topic
type Publisher struct {
	conn     *amqp091.Connection
	exchange string
	publish  publishFunc
	log      zerolog.Logger
	wg       sync.WaitGroup
}

// New si collega al broker e dichiara l'exchange
func New(url, exchange string, log zerolog.Logger) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("errore nella connessione al broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(
		exchange, "topic", true, false, false, false, nil,
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("errore nella dichiarazione dell'exchange: %w", err)
	}

	p := newPublisher(exchange, nil, log)
	p.conn = conn
	p.publish = p.publishOnChannel
	return p, nil
}

func newPublisher(exchange string, publish publishFunc, log zerolog.Logger) *Publisher {
	return &Publisher{
		exchange: exchange,
		publish:  publish,
		log:      log.With().Str("component", "publisher").Str("exchange", exchange).Logger(),
	}
}

func (p *Publisher) publishOnChannel(ctx context.Context, exchange, key string, msg amqp091.Publishing) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	return ch.PublishWithContext(ctx, exchange, key, false, false, msg)
}

// RoutingKey è message.<kind>.<group|direct>
func RoutingKey(msg *models.Message) string {
	scope := "direct"
	if msg.IsGroup {
		scope = "group"
	}
	return fmt.Sprintf("message.%s.%s", msg.Kind, scope)
}

// Deliver pubblica in background, gli errori vengono solo registrati
func (p *Publisher) Deliver(msg *models.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	msgID := msg.ID
	if msgID == "" {
		msgID = uuid.NewString()
	}
	key := RoutingKey(msg)
	publishing := amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     msgID,
		CorrelationId: uuid.NewString(),
		Timestamp:     time.Unix(msg.Timestamp, 0),
		Type:          "whatsapp.message",
		Body:          body,
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := p.publish(ctx, p.exchange, key, publishing); err != nil {
			p.log.Error().Err(err).Str("key", key).Str("id", msgID).Msg("Errore nella pubblicazione")
			return
		}
		p.log.Debug().Str("key", key).Str("id", msgID).Msg("Messaggio pubblicato")
	}()
	return nil
}

// Wait attende le pubblicazioni in corso
func (p *Publisher) Wait() {
	p.wg.Wait()
}

func (p *Publisher) Close() error {
	p.wg.Wait()
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
