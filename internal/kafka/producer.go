package kafka

import (
	"fmt"
	"sync"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/tagwatch/tagwatch/internal/config"
	"github.com/tagwatch/tagwatch/internal/logging"
)

// Producer lazily connects to the brokers on the first message.
type Producer struct {
	cfg  config.Kafka
	once sync.Once
	p    *kafka.Producer
	err  error
}

func NewProducer(cfg config.Kafka) *Producer {
	return &Producer{cfg: cfg}
}

func (k *Producer) configMap() kafka.ConfigMap {
	if k.cfg.SASLMechanism != "" {
		return kafka.ConfigMap{
			"bootstrap.servers":        k.cfg.BootstrapServers,
			"go.delivery.reports":      true,
			"security.protocol":        k.cfg.SecurityProtocol,
			"sasl.mechanism":           k.cfg.SASLMechanism,
			"ssl.ca.location":          k.cfg.CA,
			"sasl.username":            k.cfg.Username,
			"sasl.password":            k.cfg.Password,
			"allow.auto.create.topics": true,
		}
	}
	return kafka.ConfigMap{
		"bootstrap.servers":        k.cfg.BootstrapServers,
		"go.delivery.reports":      true,
		"allow.auto.create.topics": true,
	}
}

func (k *Producer) start() {
	log := logging.GetLogger()
	log.Info("initializing kafka producer")
	configMap := k.configMap()
	producer, err := kafka.NewProducer(&configMap)
	if err != nil {
		log.Errorf("Error creating kafka producer: %v", err)
		k.err = fmt.Errorf("creating kafka producer: %w", err)
		return
	}
	k.p = producer
}

// SendMessage produces msg and waits for its delivery report.
func (k *Producer) SendMessage(msg []byte, topic string, key string) error {
	log := logging.GetLogger()
	k.once.Do(k.start)
	if k.err != nil {
		return k.err
	}

	deliveryChan := make(chan kafka.Event, 1)
	err := k.p.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          msg,
	}, deliveryChan)
	if err != nil {
		log.Errorf("Failed to produce message to kafka: %v", err)
		return err
	}
	e := <-deliveryChan
	m, ok := e.(*kafka.Message)
	if !ok {
		return fmt.Errorf("unexpected kafka event %v", e)
	}
	if m.TopicPartition.Error != nil {
		log.Errorf("Delivery failed: %v", m.TopicPartition.Error)
		return m.TopicPartition.Error
	}
	log.Debugf("Delivered message to topic %s [%d] at offset %v",
		*m.TopicPartition.Topic, m.TopicPartition.Partition, m.TopicPartition.Offset)
	return nil
}

func (k *Producer) Close() {
	if k.p != nil {
		k.p.Flush(5000)
		k.p.Close()
	}
}
