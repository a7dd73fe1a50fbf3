package main

import (
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// LoadManifest announces a completed non-empty load to the transformation
// pipeline. It carries counts and the watermark, not the records themselves;
// the records travel through the raw archive.
type LoadManifest struct {
	CorrID    string    `json:"corr_id"`
	Strategy  string    `json:"strategy"`
	Records   int       `json:"records"`
	RawCount  int       `json:"raw_count"`
	Watermark string    `json:"watermark"`
	IsValid   bool      `json:"is_valid"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Notifier publishes load manifests to a durable queue.
type Notifier struct {
	url   string
	queue string
}

// NewNotifier creates a notifier for the given broker URL and queue.
func NewNotifier(url, queue string) *Notifier {
	return &Notifier{url: url, queue: queue}
}

// PublishLoadComplete publishes one manifest. Each publish dials a fresh
// connection; load cycles are minutes apart, so holding a connection open
// buys nothing and leaks on broker restarts.
func (n *Notifier) PublishLoadComplete(m LoadManifest) error {
	conn, err := amqp.Dial(n.url)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(n.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	err = ch.Publish("", n.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish manifest: %w", err)
	}
	return nil
}
