package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"token-wallet-monitor/internal/domain"
	"token-wallet-monitor/internal/storage"
)

// DefaultKafkaTopic receives every classified transaction.
const DefaultKafkaTopic = "wallet-monitor.transactions"

// KafkaConfig holds producer settings.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
	Timeout  time.Duration
}

// NewKafkaConfig returns the sarama config used by the producer. Messages
// are keyed by wallet so one wallet's events land on one partition.
func NewKafkaConfig(cfg KafkaConfig) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID
	if config.ClientID == "" {
		config.ClientID = "token-wallet-monitor"
	}
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	if cfg.Timeout > 0 {
		config.Producer.Timeout = cfg.Timeout
	}
	return config
}

// KafkaPublisher writes classified transactions to a Kafka topic.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher connects a synchronous producer to cfg.Brokers.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewKafkaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, cfg.Topic), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer.
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	return &KafkaPublisher{producer: producer, topic: topic}
}

var _ storage.TransactionSink = (*KafkaPublisher)(nil)

// InsertTransaction sends tx and waits for the broker acknowledgement.
func (p *KafkaPublisher) InsertTransaction(_ context.Context, tx *domain.ClassifiedTransaction) error {
	payload, err := Encode(tx)
	if err != nil {
		return err
	}

	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(tx.WalletAddress),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("signature"), Value: []byte(tx.Signature)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka send %s: %w", tx.Signature, err)
	}
	return nil
}

// Close flushes and closes the producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
