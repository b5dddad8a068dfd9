package email

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// SentMessage is a delivery recorded by the log provider.
type SentMessage struct {
	ID      string
	From    string
	To      string
	Subject string
	HTML    string
}

// LogProvider records messages instead of delivering them. It backs
// development environments and tests.
type LogProvider struct {
	mu     sync.Mutex
	sent   []SentMessage
	logger zerolog.Logger
}

func NewLogProvider(logger zerolog.Logger) *LogProvider {
	return &LogProvider{logger: logger}
}

func (p *LogProvider) name() string { return "log" }

func (p *LogProvider) send(_ context.Context, msg rendered) (string, error) {
	id := ulid.Make().String()
	p.mu.Lock()
	p.sent = append(p.sent, SentMessage{ID: id, From: msg.From, To: msg.To, Subject: msg.Subject, HTML: msg.HTML})
	p.mu.Unlock()

	p.logger.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Msg("email service disabled, message logged instead of sent")
	return id, nil
}

// Sent returns a copy of every recorded message.
func (p *LogProvider) Sent() []SentMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SentMessage(nil), p.sent...)
}

// Outbox exposes the log provider when the service uses one.
func (s *Service) Outbox() (*LogProvider, bool) {
	lp, ok := s.provider.(*LogProvider)
	return lp, ok
}
