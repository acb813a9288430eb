package beacon

import (
	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

// NATSSink publishes stream notifications to a NATS subject, so push-style
// consumers can attach through messaging infrastructure instead of holding a
// direct transport connection.
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

// NewNATSSink wraps an established NATS connection as a streaming sink.
func NewNATSSink(conn *nats.Conn, subject string) *NATSSink {
	return &NATSSink{conn: conn, subject: subject}
}

func (s *NATSSink) Send(n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return s.conn.Publish(s.subject, payload)
}
