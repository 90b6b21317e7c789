//go:build integration

package broker

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookgate/internal/config"
	"hookgate/internal/logger"
	"hookgate/internal/testinfra"
	"hookgate/pkg/health"
)

func createTopic(t *testing.T, brokers []string, topic string) {
	t.Helper()

	conn, err := kafka.Dial("tcp", brokers[0])
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	cconn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cconn.Close()

	require.NoError(t, cconn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

func TestKafkaProducer_PublishesForwardedEvent(t *testing.T) {
	brokers := testinfra.Kafka(t)
	const topic = "webhooks.forwarded"
	createTopic(t, brokers, topic)

	p := NewKafkaProducer(config.KafkaConfig{Brokers: brokers}, logger.NopLogger())
	t.Cleanup(func() { _ = p.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sent := ForwardedEvent{
		RequestID: "req-1",
		WebhookID: "evt_1",
		Source:    "stripe",
		EventType: "charge.succeeded",
		Payload:   json.RawMessage(`{"id":"evt_1"}`),
	}
	require.NoError(t, p.Publish(ctx, topic, "stripe:evt_1", sent))

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, MaxWait: time.Second})
	t.Cleanup(func() { _ = r.Close() })

	msg, err := r.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stripe:evt_1", string(msg.Key))

	var got ForwardedEvent
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, sent.RequestID, got.RequestID)
	assert.Equal(t, sent.EventType, got.EventType)
	assert.JSONEq(t, `{"id":"evt_1"}`, string(got.Payload))
}

func TestKafkaChecker_ReachesBroker(t *testing.T) {
	brokers := testinfra.Kafka(t)

	err := health.NewKafkaChecker(brokers).Check(context.Background())
	assert.NoError(t, err)
}
