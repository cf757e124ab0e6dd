// Package processor provides EnrichmentProcessor adapters: a NATS
// request/reply transport for the external processor and an in-process
// implementation for local runs and tests.
package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"enrichd/internal/domain/valueobject"
	"enrichd/internal/port/outbound"
)

// InProcessConfig configures the local processor.
type InProcessConfig struct {
	// Latency simulates processing time per call.
	Latency time.Duration
}

// InProcessProcessor performs a deterministic local enrichment. It exists so
// single-node deployments and integration tests can run the full job
// lifecycle without the external processor service.
type InProcessProcessor struct {
	config InProcessConfig
	now    func() time.Time
}

// NewInProcessProcessor creates the local processor.
func NewInProcessProcessor(config InProcessConfig) *InProcessProcessor {
	return &InProcessProcessor{config: config, now: time.Now}
}

// Name identifies the transport.
func (p *InProcessProcessor) Name() string {
	return "inprocess"
}

// Enrich derives enrichment attributes from the payload synchronously.
func (p *InProcessProcessor) Enrich(
	ctx context.Context,
	request outbound.EnrichmentRequest,
) (*outbound.EnrichmentResult, error) {
	if p.config.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.config.Latency):
		}
	}

	digest, err := contentDigest(request.Attributes)
	if err != nil {
		return nil, &outbound.ProcessorError{
			Code:      "PAYLOAD_UNSERIALIZABLE",
			Message:   err.Error(),
			Retryable: false,
		}
	}

	enriched := map[string]interface{}{
		"kind":           request.Kind.String(),
		"content_digest": digest,
		"processed_by":   p.Name(),
	}

	switch request.Kind {
	case valueobject.JobKindText:
		if content, ok := request.Attributes["content"].(string); ok {
			enriched["content_length"] = len(content)
		}
	case valueobject.JobKindDocument:
		if url, ok := request.Attributes["url"].(string); ok {
			enriched["source_url"] = url
		}
	case valueobject.JobKindTranscript:
		if turns, ok := request.Attributes["turns"].([]interface{}); ok {
			enriched["turn_count"] = len(turns)
		}
	}

	return &outbound.EnrichmentResult{
		Enriched:      enriched,
		ContentDigest: digest,
		ProducedAt:    p.now(),
	}, nil
}

// contentDigest hashes the canonical JSON form of the payload attributes.
func contentDigest(attributes map[string]interface{}) (string, error) {
	encoded, err := json.Marshal(attributes)
	if err != nil {
		return "", fmt.Errorf("encode attributes: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}
