package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"inspectline/internal/signature"
)

const defaultTimeout = 5 * time.Second

// WebhookSink POSTs each event as JSON, signed when a secret is set.
type WebhookSink struct {
	URL    string
	Secret string
	Client *http.Client
	Now    func() time.Time
}

func (s WebhookSink) Name() string { return "webhook " + s.URL }

func (s WebhookSink) Deliver(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Inspectline-Event", evt.Type)
	req.Header.Set("X-Inspectline-Delivery", strconv.FormatInt(evt.ID, 10))
	if strings.TrimSpace(s.Secret) != "" {
		req.Header.Set(signature.TimestampHeader, strconv.FormatInt(now.Unix(), 10))
		req.Header.Set(signature.Header, signature.Sign(s.Secret, now, data))
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events keyed by entity id, so one entity's events
// stay ordered within a partition.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		topic: topic,
	}
}

func (s *KafkaSink) Name() string { return "kafka " + s.topic }

func (s *KafkaSink) Deliver(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	key := evt.EntityID
	if key == "" {
		key = evt.EntityKind
	}
	ts, _ := time.Parse(time.RFC3339, evt.TS)
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  ts,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
		},
	})
}

func (s *KafkaSink) Close() error { return s.writer.Close() }
