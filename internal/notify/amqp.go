package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultExchange = "order_exchange"
	DefaultQueue    = "order_notifications"
	bindingKey      = "order.*"
)

// Handler consumes decoded events.
type Handler interface {
	Dispatch(ctx context.Context, event Event) Report
}

// AMQPPublisher publishes events to a durable topic exchange, routed by
// event kind.
type AMQPPublisher struct {
	conn     *amqp.Connection
	exchange string

	mu      sync.Mutex
	channel *amqp.Channel
}

// DialAMQP connects with retry and declares the exchange.
func DialAMQP(url, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	var conn *amqp.Connection
	var err error
	for i := 0; i < 5; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		retry := time.Duration(i*i)*time.Second + time.Second
		log.Printf("[AMQP] [WARN] connect failed, retrying in %v: %v", retry, err)
		time.Sleep(retry)
	}
	if err != nil {
		return nil, fmt.Errorf("amqp: connect after retries: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp: open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp: declare exchange %s: %w", exchange, err)
	}

	log.Printf("[AMQP] [INFO] exchange %s ready", exchange)
	return &AMQPPublisher{conn: conn, channel: channel, exchange: exchange}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	msg, err := encodeEvent(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.channel.PublishWithContext(ctx, p.exchange, string(event.Kind), false, false, msg); err != nil {
		return fmt.Errorf("amqp: publish %s to %s: %w", event.Kind, p.exchange, err)
	}
	return nil
}

// Consume binds queue to every order event and feeds deliveries to h until
// ctx ends. Deliveries are acked after handling whatever the outcome, since
// delivery is best-effort; undecodable ones are dropped.
func (p *AMQPPublisher) Consume(ctx context.Context, queue string, h Handler) error {
	if queue == "" {
		queue = DefaultQueue
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp: open consumer channel: %w", err)
	}

	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("amqp: declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(q.Name, bindingKey, p.exchange, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("amqp: bind queue %s: %w", queue, err)
	}
	if err := ch.Qos(8, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("amqp: set qos: %w", err)
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("amqp: consume %s: %w", queue, err)
	}

	go func() {
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					log.Printf("[AMQP] [WARN] delivery channel for %s closed", queue)
					return
				}
				handleDelivery(ctx, d, h)
			}
		}
	}()

	log.Printf("[AMQP] [INFO] consuming %s bound to %s/%s", queue, p.exchange, bindingKey)
	return nil
}

func handleDelivery(ctx context.Context, d amqp.Delivery, h Handler) {
	event, err := decodeEvent(d.Body)
	if err != nil {
		log.Printf("[AMQP] [ERROR] dropping undecodable message %s: %v", d.MessageId, err)
		_ = d.Nack(false, false)
		return
	}
	h.Dispatch(ctx, event)
	_ = d.Ack(false)
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			return err
		}
	}
	return p.conn.Close()
}

func encodeEvent(event Event) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("amqp: marshal event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         string(event.Kind),
		Timestamp:    event.OccurredAt,
		Body:         body,
	}, nil
}

func decodeEvent(body []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return Event{}, err
	}
	if event.Kind == "" {
		return Event{}, fmt.Errorf("event without kind")
	}
	return event, nil
}
