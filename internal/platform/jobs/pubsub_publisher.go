package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/kapitalwerk/contract-api/internal/services"
)

// PubSubGenerationPublisher publishes document generation jobs to a Pub/Sub topic.
type PubSubGenerationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.GenerationJobPublisher = (*PubSubGenerationPublisher)(nil)

// NewPubSubGenerationPublisher constructs a Pub/Sub backed generation job publisher.
func NewPubSubGenerationPublisher(topic *pubsub.Topic) (*PubSubGenerationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub generation publisher: topic is required")
	}
	return &PubSubGenerationPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishGenerationJob enqueues job and waits for the server-assigned message id.
// Ordering by investment keeps repeated requests for one investment in sequence when the
// topic has message ordering enabled.
func (p *PubSubGenerationPublisher) PublishGenerationJob(ctx context.Context, job services.GenerationJob) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub generation publisher: not initialised")
	}

	data, err := p.marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal generation job: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "jobId", job.JobID)
	setAttr(attrs, "templateKey", job.TemplateKey)
	setAttr(attrs, "investmentId", job.InvestmentID)
	if job.Signature != "" {
		attrs["signature"] = "present"
	}

	msg := &pubsub.Message{Data: data, Attributes: attrs}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = strings.TrimSpace(job.InvestmentID)
	}
	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish generation job: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
