// Package rabbitmq fans stored events out to a topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"example.com/pagepulse/internal/domain"
)

const routingPrefix = "pulse."

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher publishes accepted event records to RabbitMQ.
type Publisher struct {
	conn     *amqp.Connection
	channel  channel
	exchange string
	log      zerolog.Logger
}

// Dial connects to url, retrying up to attempts times, and declares a
// durable topic exchange.
func Dial(url, exchange string, attempts int, log zerolog.Logger) (*Publisher, error) {
	if attempts < 1 {
		attempts = 1
	}
	var conn *amqp.Connection
	var err error
	for i := 0; i < attempts; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		if i < attempts-1 {
			log.Warn().Err(err).Msgf("rabbitmq connect failed, retrying in 5s (%d/%d)", i+1, attempts)
			time.Sleep(5 * time.Second)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &Publisher{conn: conn, channel: ch, exchange: exchange, log: log}, nil
}

// RoutingKey maps an event type to "pulse.<type>". Characters that are
// routing-key separators or wildcards become underscores.
func RoutingKey(eventType string) string {
	t := strings.TrimSpace(eventType)
	if t == "" {
		t = domain.TypeCustom
	}
	t = strings.NewReplacer(".", "_", "*", "_", "#", "_", " ", "_").Replace(strings.ToLower(t))
	return routingPrefix + t
}

// Publish sends each record as its own persistent JSON message. It stops at
// the first failure and reports how many were published.
func (p *Publisher) Publish(ctx context.Context, events []domain.EventRecord) (int, error) {
	for i := range events {
		body, err := json.Marshal(&events[i])
		if err != nil {
			return i, fmt.Errorf("marshal event: %w", err)
		}
		err = p.channel.PublishWithContext(ctx,
			p.exchange,
			RoutingKey(events[i].Type),
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    events[i].ID,
				Timestamp:    events[i].Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return i, fmt.Errorf("publish event: %w", err)
		}
	}
	p.log.Debug().Int("count", len(events)).Msg("published events")
	return len(events), nil
}

func (p *Publisher) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
