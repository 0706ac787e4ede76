// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// EventTypeAttribute carries the logical topic name on every message.
const EventTypeAttribute = "event_type"

type topicPublisher interface {
	publish(ctx context.Context, msg *pubsub.Message) (string, error)
	stop()
}

// Publisher sends JSON payloads to one Pub/Sub topic.
type Publisher struct {
	topic  topicPublisher
	client *pubsub.Client
}

// New connects to projectID and binds the publisher to topicID.
func New(ctx context.Context, projectID, topicID string) (*Publisher, error) {
	if projectID == "" || topicID == "" {
		return nil, fmt.Errorf("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Publisher{topic: &gcpTopic{topic: client.Topic(topicID)}, client: client}, nil
}

func newWithTopic(topic topicPublisher) *Publisher {
	return &Publisher{topic: topic}
}

// Publish marshals the payload to JSON and waits for the server-assigned ID.
// The topic argument is recorded as the event_type attribute.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.topic == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{Data: data, Attributes: map[string]string{}}
	if topic != "" {
		msg.Attributes[EventTypeAttribute] = topic
	}
	id, err := p.topic.publish(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and releases the client.
func (p *Publisher) Close() error {
	if p.topic != nil {
		p.topic.stop()
	}
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}

type gcpTopic struct {
	topic *pubsub.Topic
}

func (t *gcpTopic) publish(ctx context.Context, msg *pubsub.Message) (string, error) {
	return t.topic.Publish(ctx, msg).Get(ctx)
}

func (t *gcpTopic) stop() {
	t.topic.Stop()
}
