package notifications

import (
	"context"

	"github.com/tagwatch/tagwatch/internal/config"
	"github.com/tagwatch/tagwatch/internal/kafka"
	"github.com/tagwatch/tagwatch/internal/logging"
)

// FromConfig builds a dispatcher with a notifier per configured channel.
// The returned function releases broker connections.
func FromConfig(ctx context.Context, cfg *config.Config) (*Dispatcher, func(), error) {
	log := logging.GetLogger()
	d := NewDispatcher()
	var closers []func()

	if n := cfg.Notifications.Ntfy; n.URL != "" {
		ntfy := NewNtfy(n)
		d.Add(ntfy)
		closers = append(closers, func() { _ = ntfy.Close() })
		log.Infof("ntfy notifications enabled for topic %s", n.Topic)
	}
	if k := cfg.Notifications.Kafka; k.BootstrapServers != "" {
		producer := kafka.NewProducer(k)
		d.Add(NewKafka(producer, k.Topic))
		closers = append(closers, producer.Close)
		log.Infof("kafka notifications enabled for topic %s", k.Topic)
	}
	if topic := cfg.Notifications.PubSub.Topic; topic != "" {
		ps, err := NewPubSub(ctx, topic)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, nil, err
		}
		d.Add(ps)
		closers = append(closers, ps.Close)
		log.Infof("pubsub notifications enabled for topic %s", topic)
	}

	return d, func() {
		for _, c := range closers {
			c()
		}
	}, nil
}
