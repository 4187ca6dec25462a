// internal/queue/amqp.go
package queue

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/streadway/amqp"
)

// AMQPQueue backs the Queue interface with RabbitMQ. Payloads are JSON
// encoded; topics map to durable queues.
type AMQPQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPQueue(url string) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to AMQP: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open AMQP channel: %w", err)
	}
	return &AMQPQueue{conn: conn, ch: ch}, nil
}

func (q *AMQPQueue) declare(topic string) error {
	_, err := q.ch.QueueDeclare(topic, true, false, false, false, nil)
	return err
}

func (q *AMQPQueue) Publish(topic string, payload any) error {
	if err := q.declare(topic); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return q.ch.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

const maxDeliveryRetries = 3

// Subscribe consumes the topic with manual acks. Failed deliveries are
// republished with a bumped x-retry-count header, then dropped after
// maxDeliveryRetries.
func (q *AMQPQueue) Subscribe(topic string, handler func(payload any) error) error {
	if err := q.declare(topic); err != nil {
		return err
	}
	deliveries, err := q.ch.Consume(topic, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for d := range deliveries {
			if err := handler(d.Body); err != nil {
				retries := 0
				if v, ok := d.Headers["x-retry-count"].(int32); ok {
					retries = int(v)
				}
				if retries >= maxDeliveryRetries {
					log.Printf("⚠️ Dropping message from %s after %d retries: %v", topic, retries, err)
					_ = d.Ack(false)
					continue
				}
				_ = q.ch.Publish("", topic, false, false, amqp.Publishing{
					ContentType:  "application/json",
					DeliveryMode: amqp.Persistent,
					Body:         d.Body,
					Headers:      amqp.Table{"x-retry-count": int32(retries + 1)},
				})
				_ = d.Ack(false)
				continue
			}
			_ = d.Ack(false)
		}
	}()
	return nil
}

func (q *AMQPQueue) Close() {
	if q.ch != nil {
		q.ch.Close()
	}
	if q.conn != nil {
		q.conn.Close()
	}
}
