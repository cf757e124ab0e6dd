package valueobject

import (
	"errors"
	"strings"
)

const (
	maxTenantIDLength       = 128
	maxIdempotencyKeyLength = 256
)

// DedupKey is the dedup identity of a job: (tenant, idempotency key).
// While a job carrying this identity is non-expired and not failed, further
// submissions with the same key resolve to the existing job.
type DedupKey struct {
	tenantID       string
	idempotencyKey string
}

// NewDedupKey validates and creates a dedup identity.
func NewDedupKey(tenantID, idempotencyKey string) (DedupKey, error) {
	tenantID = strings.TrimSpace(tenantID)
	idempotencyKey = strings.TrimSpace(idempotencyKey)

	if tenantID == "" {
		return DedupKey{}, errors.New("tenant ID cannot be empty")
	}
	if len(tenantID) > maxTenantIDLength {
		return DedupKey{}, errors.New("tenant ID exceeds maximum length")
	}
	if idempotencyKey == "" {
		return DedupKey{}, errors.New("idempotency key cannot be empty")
	}
	if len(idempotencyKey) > maxIdempotencyKeyLength {
		return DedupKey{}, errors.New("idempotency key exceeds maximum length")
	}

	return DedupKey{tenantID: tenantID, idempotencyKey: idempotencyKey}, nil
}

// TenantID returns the tenant identifier.
func (k DedupKey) TenantID() string {
	return k.tenantID
}

// IdempotencyKey returns the caller-supplied idempotency token.
func (k DedupKey) IdempotencyKey() string {
	return k.idempotencyKey
}

// String formats the identity for logs. It is not the dedup index key: the
// fields may themselves contain the separator, so lookups compare the two
// fields directly.
func (k DedupKey) String() string {
	return k.tenantID + "/" + k.idempotencyKey
}
