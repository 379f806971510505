// Package events provides event publishing functionality.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"scam-call-guard/internal/observability/metrics"
)

// Publisher publishes assessment and call lifecycle events to separate Kafka topics.
type Publisher struct {
	writerAssessment *kafka.Writer
	writerCall       *kafka.Writer
	principal        string
	topicAssessment  string
	topicCall        string
	enabled          bool
	metrics          *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers         []string
	TopicAssessment string
	TopicCall       string
	Principal       string
	Enabled         bool
}

// New creates a new Kafka event publisher with separate topics for assessments and call lifecycle events.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	// Handle nil config case
	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:       cfg.Principal,
			topicAssessment: cfg.TopicAssessment,
			topicCall:       cfg.TopicCall,
			enabled:         false,
			metrics:         m,
		}
	}

	// Create a custom dialer with longer timeouts for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	// Writer for assessments
	writerAssessment := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicAssessment,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	// Writer for call lifecycle events
	writerCall := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicCall,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicAssessment", cfg.TopicAssessment).
		Str("topicCall", cfg.TopicCall).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerAssessment: writerAssessment,
		writerCall:       writerCall,
		principal:        cfg.Principal,
		topicAssessment:  cfg.TopicAssessment,
		topicCall:        cfg.TopicCall,
		enabled:          true,
		metrics:          m,
	}
}

// PublishAssessment publishes an assessment event to the assessment topic.
func (p *Publisher) PublishAssessment(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerAssessment, p.topicAssessment, "assessment", key, event)
}

// PublishCallEvent publishes a call lifecycle event to the call topic.
func (p *Publisher) PublishCallEvent(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.writerCall, p.topicCall, "call", key, event)
}

// Enabled reports whether events are written to Kafka rather than only logged.
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// publish is the internal method that writes to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	// Log the event
	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	// Publish to Kafka
	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "topic", Value: []byte(topic)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerAssessment != nil {
		if e := p.writerAssessment.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing assessment writer")
			err = e
		}
	}
	if p.writerCall != nil {
		if e := p.writerCall.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing call writer")
			err = e
		}
	}
	return err
}
