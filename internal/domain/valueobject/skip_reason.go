package valueobject

// SkipReason records why the embedding phase was skipped on an otherwise
// completed job. Embedding failures never fail the job; they downgrade it
// to a partial success carrying one of these machine-readable reasons.
type SkipReason string

const (
	SkipReasonTimeout     SkipReason = "timeout"
	SkipReasonCircuitOpen SkipReason = "circuit_open"
	SkipReasonError       SkipReason = "error"
)

// String returns the string representation of the skip reason.
func (r SkipReason) String() string {
	return string(r)
}
