package utils

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
)

func TestStreamConfigEqual(t *testing.T) {
	desired := nats.StreamConfig{
		Name:      "fn_engine_messages",
		Subjects:  []string{"v1.conversations.message.*"},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    72 * time.Hour,
	}

	current := desired
	current.Replicas = 3
	current.Duplicates = 2 * time.Minute
	assert.True(t, StreamConfigEqual(current, desired), "server defaults are ignored")

	drifted := current
	drifted.Subjects = []string{"v1.conversations.message.*", "v1.notifications.admin.*"}
	assert.False(t, StreamConfigEqual(drifted, desired))

	drifted = current
	drifted.MaxAge = time.Hour
	assert.False(t, StreamConfigEqual(drifted, desired))

	withReplicas := desired
	withReplicas.Replicas = 1
	assert.False(t, StreamConfigEqual(current, withReplicas))
}

func TestConsumerConfigEqual(t *testing.T) {
	desired := nats.ConsumerConfig{
		Durable:        "fn-engine-acme",
		DeliverGroup:   "fn-engine-group-acme",
		DeliverSubject: "_INBOX.a",
		FilterSubjects: []string{"v1.conversations.message.acme"},
		AckPolicy:      nats.AckExplicitPolicy,
		AckWait:        2 * time.Minute,
		MaxDeliver:     5,
	}

	current := desired
	current.DeliverSubject = "_INBOX.b"
	current.MaxAckPending = 1000
	assert.True(t, ConsumerConfigEqual(current, desired))

	drifted := current
	drifted.MaxDeliver = 10
	assert.False(t, ConsumerConfigEqual(drifted, desired))

	drifted = current
	drifted.AckWait = 30 * time.Second
	assert.False(t, ConsumerConfigEqual(drifted, desired))

	drifted = current
	drifted.FilterSubjects = nil
	assert.False(t, ConsumerConfigEqual(drifted, desired))
}
