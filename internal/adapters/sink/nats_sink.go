package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
	"github.com/alanmitchell/file-to-bmon/internal/ports"
)

// Publisher is the slice of *nats.Conn the NATS sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

// NATSSink publishes one JSON message per batch on a subject.
type NATSSink struct {
	pub     Publisher
	subject string
}

type natsMessage struct {
	Readings []domain.Reading `json:"readings"`
	SentAt   int64            `json:"sent_at"`
}

func NewNATSSink(pub Publisher, subject string) *NATSSink {
	return &NATSSink{pub: pub, subject: subject}
}

// ConnectNATS dials a server with reconnects enabled.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return conn, nil
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) WriteBatch(ctx context.Context, readings []domain.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	data, err := json.Marshal(natsMessage{Readings: readings, SentAt: time.Now().Unix()})
	if err != nil {
		return fmt.Errorf("marshal nats message: %w", err)
	}
	if err := s.pub.Publish(s.subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", s.subject, err)
	}
	// flush so the batch is only committed once the server has it
	if err := s.pub.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

var (
	_ ports.Sink = (*NATSSink)(nil)
	_ Publisher  = (*nats.Conn)(nil)
)
