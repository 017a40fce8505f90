package outbox

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Message is a pending publication, created in the same database transaction
// as the business mutation that caused it. Key becomes the Kafka message key,
// so all events for one order keep their relative order on the wire.
type Message struct {
	Topic   string
	Key     string
	Payload []byte
	Headers map[string]string
}

// Event is a stored outbox row picked up by the relay.
type Event struct {
	ID         int64
	Topic      string
	Key        string
	Payload    []byte
	Headers    map[string]string
	CreatedAt  time.Time
	Status     Status
	RelayID    string
	RetryCount int
	LastError  *string
}
