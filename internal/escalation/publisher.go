package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"apoyo-citas/internal/domain"
)

var ErrPublisherClosed = errors.New("escalation publisher closed")

// Publisher avisa al equipo de guardia de una respuesta de crisis.
type Publisher interface {
	PublishCrisis(ctx context.Context, event domain.CrisisEscalation) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publica eventos en un topic de Kafka, particionado por sesión.
type KafkaPublisher struct {
	writer messageWriter
	logger *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	addrs := make([]string, 0, len(brokers))
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(addrs...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaPublisher{writer: w, logger: logger}
}

func newKafkaPublisherWithWriter(w messageWriter, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{writer: w, logger: logger}
}

func (p *KafkaPublisher) PublishCrisis(ctx context.Context, event domain.CrisisEscalation) error {
	if p == nil || p.writer == nil {
		return ErrPublisherClosed
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.SessionID),
		Value: payload,
		Time:  event.OccurredAt,
	})
	if err != nil {
		p.logger.Error("crisis escalation publish failed", zap.String("session_id", event.SessionID), zap.Error(err))
		return err
	}
	p.logger.Info("crisis escalation published", zap.String("session_id", event.SessionID), zap.String("message_id", event.MessageID))
	return nil
}

func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// NoopPublisher sólo registra el evento; se usa cuando no hay brokers configurados.
type NoopPublisher struct {
	Logger *zap.Logger
}

func (p NoopPublisher) PublishCrisis(_ context.Context, event domain.CrisisEscalation) error {
	if p.Logger != nil {
		p.Logger.Warn("crisis escalation not published: no brokers configured", zap.String("session_id", event.SessionID))
	}
	return nil
}

func (NoopPublisher) Close() error { return nil }
