package utils

import (
	"slices"

	"github.com/nats-io/nats.go"
)

// StreamConfigEqual reports whether the fields the engine sets on a stream
// match. Server-filled defaults are ignored.
func StreamConfigEqual(current, desired nats.StreamConfig) bool {
	return current.Name == desired.Name &&
		current.Retention == desired.Retention &&
		current.Storage == desired.Storage &&
		current.MaxAge == desired.MaxAge &&
		current.MaxMsgs == desired.MaxMsgs &&
		(desired.Replicas == 0 || current.Replicas == desired.Replicas) &&
		(desired.Duplicates == 0 || current.Duplicates == desired.Duplicates) &&
		slices.Equal(current.Subjects, desired.Subjects)
}

// ConsumerConfigEqual compares durable consumer settings. DeliverSubject is
// skipped since push consumers get a fresh inbox on every start.
func ConsumerConfigEqual(current, desired nats.ConsumerConfig) bool {
	return current.Durable == desired.Durable &&
		current.AckPolicy == desired.AckPolicy &&
		current.MaxDeliver == desired.MaxDeliver &&
		current.DeliverGroup == desired.DeliverGroup &&
		current.FilterSubject == desired.FilterSubject &&
		(desired.AckWait == 0 || current.AckWait == desired.AckWait) &&
		(desired.MaxAckPending == 0 || current.MaxAckPending == desired.MaxAckPending) &&
		slices.Equal(current.FilterSubjects, desired.FilterSubjects)
}
