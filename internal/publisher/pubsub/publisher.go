// Package pubsub implements the Google Cloud Pub/Sub publisher that notifies
// report exporters about finished audits.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
)

// Attributer lets payloads attach routing attributes to the published
// message, letting subscribers filter (e.g. by audit status) without
// decoding the body.
type Attributer interface {
	MessageAttributes() map[string]string
}

// Publisher wraps a Pub/Sub topic publisher.
type Publisher struct {
	publisher *pubsub.Publisher
}

// New creates a Publisher for the provided topic publisher.
func New(publisher *pubsub.Publisher) *Publisher {
	return &Publisher{publisher: publisher}
}

// Publish marshals the payload to JSON and publishes it. The trace context
// and any payload attributes travel as message attributes.
func (p *Publisher) Publish(ctx context.Context, payload any) (string, error) {
	if p == nil || p.publisher == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: map[string]string{}}
	if a, ok := payload.(Attributer); ok {
		for k, v := range a.MessageAttributes() {
			msg.Attributes[k] = v
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, &attrCarrier{attrs: msg.Attributes})

	result := p.publisher.Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// attrCarrier implements propagation.TextMapCarrier over message attributes.
type attrCarrier struct {
	attrs map[string]string
}

func (c *attrCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *attrCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *attrCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
