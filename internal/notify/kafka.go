// Package notify delivers invoice side effects that must not roll back a
// committed transition: email requests over Kafka and live events over WebSocket.
package notify

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"drivingschool/server/internal/logger"
	"drivingschool/server/internal/services"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
)

// MessageWriter is the part of kafka.Writer the notifier uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig describes the broker connection of the email topic
type KafkaConfig struct {
	Brokers  string // comma separated
	Topic    string
	Username string
	Password string
	CACert   string // PEM
}

// KafkaNotifier publishes email requests; the mail worker consumes the topic
type KafkaNotifier struct {
	writer MessageWriter
	topic  string
	log    zerolog.Logger
}

// NewKafkaNotifier builds a synchronous writer so delivery failures reach the caller
func NewKafkaNotifier(cfg KafkaConfig) (*KafkaNotifier, error) {
	brokers := ParseKafkaBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka notifier: no brokers configured")
	}
	log := logger.WithComponent("kafka-notifier")
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: 10 * time.Second,
		Transport:    newTransport(cfg.Username, cfg.Password, cfg.CACert, log),
	}
	log.Info().Strs("brokers", brokers).Str("topic", cfg.Topic).Msg("Kafka notifier configured")
	return &KafkaNotifier{writer: w, topic: cfg.Topic, log: log}, nil
}

// NewKafkaNotifierWithWriter injects a writer, used by tests
func NewKafkaNotifierWithWriter(w MessageWriter, topic string) *KafkaNotifier {
	return &KafkaNotifier{writer: w, topic: topic, log: logger.WithComponent("kafka-notifier")}
}

// NotifyInvoice writes one message keyed by invoice id, so requests for the
// same invoice stay ordered within a partition.
func (n *KafkaNotifier) NotifyInvoice(ctx context.Context, req services.NotificationRequest) error {
	value, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode email request: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(req.InvoiceID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte("invoice.email_requested")},
		},
		Time: time.Now(),
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write to %s: %w", n.topic, err)
	}
	n.log.Debug().
		Str("invoice_id", req.InvoiceID).
		Str("invoice_number", req.InvoiceNumber).
		Msg("Email request published")
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// newTransport enables SASL/PLAIN when credentials are set. SASL always runs
// over TLS; a CA certificate replaces the system roots.
func newTransport(username, password, caCert string, log zerolog.Logger) *kafka.Transport {
	transport := &kafka.Transport{
		DialTimeout: 10 * time.Second,
	}
	if username != "" && password != "" {
		transport.SASL = plain.Mechanism{Username: username, Password: password}
		log.Info().Str("username", username).Msg("Kafka SASL/PLAIN enabled")
	}

	if transport.SASL == nil && caCert == "" {
		return transport
	}
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if caCert != "" {
		pool := x509.NewCertPool()
		if pool.AppendCertsFromPEM([]byte(caCert)) {
			tlsConfig.RootCAs = pool
			log.Info().Msg("Kafka TLS with custom CA enabled")
		} else {
			log.Warn().Msg("Kafka CA certificate could not be parsed, using system roots")
		}
	}
	transport.TLS = tlsConfig
	return transport
}

// ParseKafkaBrokers splits a comma separated broker list, dropping blanks
func ParseKafkaBrokers(brokers string) []string {
	var result []string
	for _, broker := range strings.Split(strings.ReplaceAll(brokers, " ", ""), ",") {
		if broker != "" {
			result = append(result, broker)
		}
	}
	return result
}
