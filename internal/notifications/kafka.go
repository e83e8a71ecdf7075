package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tagwatch/tagwatch/internal/model"
)

// MessageSender is satisfied by the kafka producer.
type MessageSender interface {
	SendMessage(msg []byte, topic string, key string) error
}

type Kafka struct {
	sender MessageSender
	topic  string
}

func NewKafka(sender MessageSender, topic string) *Kafka {
	return &Kafka{sender: sender, topic: topic}
}

func (k *Kafka) Notify(_ context.Context, kind EventKind, w model.Workload) error {
	data, err := json.Marshal(NewEvent(kind, w))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return k.sender.SendMessage(data, k.topic, w.Namespace+"/"+w.Name)
}
