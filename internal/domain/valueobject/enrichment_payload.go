package valueobject

import (
	"fmt"
	"strings"
)

// JobKind identifies the variant of an enrichment payload. Each kind has
// its own schema, validated at the submission boundary so that workers
// never see a malformed payload.
type JobKind string

const (
	// JobKindText enriches a raw text body supplied inline.
	JobKindText JobKind = "text"
	// JobKindDocument enriches a document fetched from a URL.
	JobKindDocument JobKind = "document"
	// JobKindTranscript enriches a conversation transcript.
	JobKindTranscript JobKind = "transcript"
)

// validJobKinds contains all supported payload kinds.
var validJobKinds = map[JobKind]bool{
	JobKindText:       true,
	JobKindDocument:   true,
	JobKindTranscript: true,
}

// NewJobKind creates a JobKind with validation.
func NewJobKind(kind string) (JobKind, error) {
	k := JobKind(kind)
	if !validJobKinds[k] {
		return "", fmt.Errorf("unsupported job kind: %s", kind)
	}
	return k, nil
}

// String returns the string representation of the job kind.
func (k JobKind) String() string {
	return string(k)
}

// EnrichmentPayload is the caller-supplied enrichment request, modeled as a
// tagged variant per job kind. The orchestration core routes on the kind and
// treats the attributes as opaque beyond schema validation.
type EnrichmentPayload struct {
	kind       JobKind
	attributes map[string]interface{}
}

// NewEnrichmentPayload validates the attributes against the kind's schema
// and returns an immutable payload value.
func NewEnrichmentPayload(kind string, attributes map[string]interface{}) (EnrichmentPayload, error) {
	k, err := NewJobKind(kind)
	if err != nil {
		return EnrichmentPayload{}, err
	}

	if err := validateAttributes(k, attributes); err != nil {
		return EnrichmentPayload{}, err
	}

	copied := make(map[string]interface{}, len(attributes))
	for key, value := range attributes {
		copied[key] = value
	}

	return EnrichmentPayload{kind: k, attributes: copied}, nil
}

// RestoreEnrichmentPayload rebuilds a payload from stored data without
// re-running boundary validation.
func RestoreEnrichmentPayload(kind JobKind, attributes map[string]interface{}) EnrichmentPayload {
	copied := make(map[string]interface{}, len(attributes))
	for key, value := range attributes {
		copied[key] = value
	}
	return EnrichmentPayload{kind: kind, attributes: copied}
}

func validateAttributes(kind JobKind, attributes map[string]interface{}) error {
	switch kind {
	case JobKindText:
		return requireNonEmptyString(attributes, "content")
	case JobKindDocument:
		if err := requireNonEmptyString(attributes, "url"); err != nil {
			return err
		}
		url, _ := attributes["url"].(string)
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return fmt.Errorf("document payload url must be http(s): %s", url)
		}
		return nil
	case JobKindTranscript:
		turns, ok := attributes["turns"].([]interface{})
		if !ok || len(turns) == 0 {
			return fmt.Errorf("transcript payload requires a non-empty turns array")
		}
		return nil
	default:
		return fmt.Errorf("unsupported job kind: %s", kind)
	}
}

func requireNonEmptyString(attributes map[string]interface{}, field string) error {
	value, ok := attributes[field].(string)
	if !ok || strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s payload field is required and must be a non-empty string", field)
	}
	return nil
}

// Kind returns the payload kind.
func (p EnrichmentPayload) Kind() JobKind {
	return p.kind
}

// Attributes returns a copy of the payload attributes.
func (p EnrichmentPayload) Attributes() map[string]interface{} {
	copied := make(map[string]interface{}, len(p.attributes))
	for key, value := range p.attributes {
		copied[key] = value
	}
	return copied
}
