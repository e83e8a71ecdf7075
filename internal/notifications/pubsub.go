package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub/v2"

	"github.com/tagwatch/tagwatch/internal/model"
)

// PubSub publishes events to a Google Cloud Pub/Sub topic with ordering by
// workload. Credentials come from Application Default Credentials.
type PubSub struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	topicPath string
}

// ParseTopicPath splits projects/<project>/topics/<topic>.
func ParseTopicPath(topicPath string) (projectID, topicID string, err error) {
	parts := strings.Split(topicPath, "/")
	if len(parts) != 4 || parts[0] != "projects" || parts[2] != "topics" || parts[1] == "" || parts[3] == "" {
		return "", "", fmt.Errorf("invalid topic path %q: expected format projects/<project>/topics/<topic>", topicPath)
	}
	return parts[1], parts[3], nil
}

func NewPubSub(ctx context.Context, topicPath string) (*PubSub, error) {
	projectID, topicID, err := ParseTopicPath(topicPath)
	if err != nil {
		return nil, err
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	publisher := client.Publisher(topicID)
	publisher.EnableMessageOrdering = true

	return &PubSub{client: client, publisher: publisher, topicPath: topicPath}, nil
}

func (p *PubSub) Notify(ctx context.Context, kind EventKind, w model.Workload) error {
	data, err := json.Marshal(NewEvent(kind, w))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event_kind":    string(kind),
			"namespace":     w.Namespace,
			"workload_name": w.Name,
		},
		OrderingKey: w.Namespace + "/" + w.Name,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("failed to publish event to pubsub %s: %w", p.topicPath, err)
	}
	return nil
}

func (p *PubSub) Close() {
	p.publisher.Stop()
	_ = p.client.Close()
}
