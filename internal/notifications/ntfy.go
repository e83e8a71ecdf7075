package notifications

import (
	"context"
	"fmt"
	"time"

	"resty.dev/v3"

	"github.com/tagwatch/tagwatch/internal/config"
	"github.com/tagwatch/tagwatch/internal/model"
)

type ntfyPayload struct {
	Topic    string   `json:"topic"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Tags     []string `json:"tags"`
	Priority int      `json:"priority"`
	Markdown bool     `json:"markdown"`
}

// Ntfy publishes JSON messages to an ntfy server.
type Ntfy struct {
	client   *resty.Client
	url      string
	topic    string
	priority int
}

func NewNtfy(cfg config.Ntfy) *Ntfy {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second)
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &Ntfy{
		client:   client,
		url:      cfg.URL,
		topic:    cfg.Topic,
		priority: cfg.Priority,
	}
}

func ntfyMessage(kind EventKind, w model.Workload) (string, []string) {
	switch kind {
	case Committed:
		return fmt.Sprintf("Committed: %s updated to %s", w.Name, w.CurrentVersion), []string{"Commit"}
	default:
		return fmt.Sprintf("Update Available: %s From %s to %s", w.Name, w.CurrentVersion, w.LatestVersion), []string{"Update"}
	}
}

func (n *Ntfy) Notify(ctx context.Context, kind EventKind, w model.Workload) error {
	message, tags := ntfyMessage(kind, w)
	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(ntfyPayload{
			Topic:    n.topic,
			Title:    w.Name,
			Message:  message,
			Tags:     tags,
			Priority: n.priority,
			Markdown: true,
		}).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("failed to send ntfy notification: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("ntfy returned error status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (n *Ntfy) Close() error {
	return n.client.Close()
}
