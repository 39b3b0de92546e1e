package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// publishTimeout bounds a single publish; relay goroutines must not stall on
// a slow broker.
const publishTimeout = 2 * time.Second

var ErrConnectionClosed = errors.New("amqp connection closed")

// Publisher publishes relay lifecycle and audit events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
	Close() error
}

// summarizer is implemented by event bodies that can describe themselves
// in a log line.
type summarizer interface {
	Summary() string
}

// NewPublisher dials the broker, falling back to Noop when AMQP is disabled
// or unreachable. The relay runs the same either way.
func NewPublisher(amqpURL, exchange string) Publisher {
	if amqpURL == "" {
		log.Printf("rabbitmq disabled, using noop: empty amqp url")
		return Noop{Reason: "empty amqp url"}
	}

	p, err := Dial(amqpURL, exchange)
	if err != nil {
		log.Printf("rabbitmq disabled, using noop: %v", err)
		return Noop{Reason: err.Error()}
	}
	return p
}

// AMQPPublisher sends JSON bodies to a durable topic exchange. After the
// broker drops the connection every Publish fails fast with
// ErrConnectionClosed.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string

	mu     sync.Mutex
	closed bool
}

func Dial(amqpURL, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	p := &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}
	go p.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))

	log.Printf("rabbitmq connected exchange=%s", exchange)
	return p, nil
}

func (p *AMQPPublisher) watch(closes <-chan *amqp.Error) {
	err, ok := <-closes
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	if ok && err != nil {
		log.Printf("rabbitmq connection lost exchange=%s: %v", p.exchange, err)
	}
}

func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrConnectionClosed
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", routingKey, err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		AppId:        "classroom-relay",
		Headers:      headerTable(headers),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	_ = p.ch.Close()
	return p.conn.Close()
}

func headerTable(headers map[string]string) amqp.Table {
	if len(headers) == 0 {
		return nil
	}
	table := make(amqp.Table, len(headers))
	for key, value := range headers {
		table[key] = value
	}
	return table
}

// Noop logs events instead of publishing them.
type Noop struct {
	Reason string
}

func (Noop) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	if s, ok := event.(summarizer); ok {
		log.Printf("rabbitmq noop publish routing_key=%s %s", routingKey, s.Summary())
		return nil
	}
	log.Printf("rabbitmq noop publish routing_key=%s", routingKey)
	return nil
}

func (Noop) Close() error {
	return nil
}

// PublisherMode reports the publisher mode for logging.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *AMQPPublisher:
		return "amqp"
	case Noop:
		return "noop"
	default:
		return "unknown"
	}
}

// PublisherNoopReason explains why the noop publisher was chosen.
func PublisherNoopReason(p Publisher) string {
	if n, ok := p.(Noop); ok {
		return n.Reason
	}
	return ""
}
