package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"enrichd/internal/port/outbound"

	"github.com/nats-io/nats.go"
)

const defaultEnrichSubject = "enrichment.process"

// NATSConfig configures the request/reply processor transport.
type NATSConfig struct {
	URL           string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
}

// Validate checks the configuration.
func (c NATSConfig) Validate() error {
	if c.URL == "" {
		return errors.New("NATS URL cannot be empty")
	}
	return nil
}

// enrichReply is the wire format of the processor's response. Exactly one of
// Result and Error is set.
type enrichReply struct {
	Result *outbound.EnrichmentResult `json:"result,omitempty"`
	Error  *outbound.ProcessorError   `json:"error,omitempty"`
}

// NATSProcessor invokes the external enrichment processor over NATS
// request/reply. The request context bounds the round trip; the caller's
// retry executor owns per-attempt deadlines.
type NATSProcessor struct {
	config NATSConfig
	conn   *nats.Conn
}

// NewNATSProcessor connects to NATS and returns the transport.
func NewNATSProcessor(config NATSConfig) (*NATSProcessor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Subject == "" {
		config.Subject = defaultEnrichSubject
	}

	conn, err := nats.Connect(config.URL,
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &NATSProcessor{config: config, conn: conn}, nil
}

// Name identifies the transport.
func (p *NATSProcessor) Name() string {
	return "nats"
}

// Enrich sends the request and decodes the typed reply.
func (p *NATSProcessor) Enrich(
	ctx context.Context,
	request outbound.EnrichmentRequest,
) (*outbound.EnrichmentResult, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, &outbound.ProcessorError{
			Code:      "REQUEST_UNSERIALIZABLE",
			Message:   err.Error(),
			Retryable: false,
		}
	}

	message, err := p.conn.RequestWithContext(ctx, p.config.Subject, payload)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		// Connection-level failures are worth another attempt.
		return nil, &outbound.ProcessorError{
			Code:      "TRANSPORT_FAILURE",
			Message:   err.Error(),
			Retryable: true,
		}
	}

	var reply enrichReply
	if err := json.Unmarshal(message.Data, &reply); err != nil {
		return nil, &outbound.ProcessorError{
			Code:      "REPLY_MALFORMED",
			Message:   err.Error(),
			Retryable: false,
		}
	}

	if reply.Error != nil {
		return nil, reply.Error
	}
	if reply.Result == nil {
		return nil, &outbound.ProcessorError{
			Code:      "REPLY_EMPTY",
			Message:   "processor reply carried neither result nor error",
			Retryable: false,
		}
	}
	return reply.Result, nil
}

// Close drains and closes the NATS connection.
func (p *NATSProcessor) Close() error {
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Drain()
}
