// Package kafka is the direct event path. Deployments that can
// tolerate losing events on crash publish straight through it; the
// durable path goes through the outbox and broadcaster instead.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"njord/events"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Emitter publishes pool events to Kafka, keyed by pair so per-pool
// ordering survives partitioning. Emit never blocks the matching path
// for long: a failed publish is logged and dropped, which is the
// trade this path makes against the outbox.
type Emitter struct {
	writer  *kafka.Writer
	log     *logrus.Logger
	timeout time.Duration
}

func NewEmitter(brokers []string, topic string, log *logrus.Logger) *Emitter {
	return &Emitter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
		log:     log,
		timeout: 2 * time.Second,
	}
}

func (e *Emitter) Emit(ev events.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		e.log.WithError(err).WithField("type", ev.Type).Error("event marshal failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	err = e.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Pair),
		Value: payload,
	})
	if err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{
			"type": ev.Type,
			"pair": ev.Pair,
		}).Error("event publish failed")
	}
}

func (e *Emitter) Close() error {
	return e.writer.Close()
}
