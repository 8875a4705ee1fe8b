// Package feed journals every simulated tick to Kafka for downstream
// consumers (analytics, historical storage). Best-effort: journal failures
// are logged and never block the tick loop.
package feed

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/marketpulse/simulator/internal/market"
	"github.com/marketpulse/simulator/pkg/models"
)

type Journal struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewJournal(brokers []string, topic string, logger *zap.Logger) *Journal {
	return &Journal{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
			// Batch to reduce network IO; Async keeps the tick loop non-blocking.
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			Async:        true,
		},
		logger: logger,
	}
}

// Publish writes one message per ticker for the given tick, keyed by ticker
// so each symbol keeps partition ordering.
func (j *Journal) Publish(ctx context.Context, book market.Book, seq int64) {
	now := time.Now().UnixMicro()
	msgs := make([]kafka.Message, 0, len(book.Prices))
	for ticker, price := range book.Prices {
		tick := models.PriceTick{
			Ticker:    ticker,
			Price:     price,
			Index:     book.Index,
			Timestamp: now,
			SeqID:     seq,
		}
		payload, err := json.Marshal(tick)
		if err != nil {
			j.logger.Error("JSON Marshal Error", zap.Error(err))
			continue
		}
		msgs = append(msgs, kafka.Message{Key: []byte(ticker), Value: payload})
	}

	if err := j.writer.WriteMessages(ctx, msgs...); err != nil {
		j.logger.Error("Kafka Write Error", zap.Error(err))
	}
}

// Close flushes the writer's buffer.
func (j *Journal) Close() error {
	return j.writer.Close()
}

// EnsureTopic best-effort creates the journal topic at startup.
func EnsureTopic(brokerAddress, topicName string, logger *zap.Logger) {
	conn, err := kafka.Dial("tcp", brokerAddress)
	if err != nil {
		logger.Warn("Failed to dial leader for topic creation", zap.Error(err))
		return
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		logger.Warn("Failed to connect to controller", zap.Error(err))
		return
	}

	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		logger.Warn("Failed to dial controller", zap.Error(err))
		return
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topicName,
		NumPartitions:     4,
		ReplicationFactor: 1,
	})
	if err != nil {
		logger.Debug("Topic creation info", zap.Error(err))
	}
}
