package valueobject

// ErrorCategory classifies why a job reached a terminal failure, or why a
// submission was rejected at the boundary. Callers branch on the category,
// not the message.
type ErrorCategory string

const (
	ErrorCategoryValidation           ErrorCategory = "validation"
	ErrorCategoryQueueSaturated       ErrorCategory = "queue_saturated"
	ErrorCategoryProcessorTransient   ErrorCategory = "processor_transient"
	ErrorCategoryProcessorCircuitOpen ErrorCategory = "processor_circuit_open"
	ErrorCategoryProcessorExhausted   ErrorCategory = "processor_exhausted"
	ErrorCategoryStoreUnavailable     ErrorCategory = "store_unavailable"
)

// String returns the string representation of the error category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsTerminalJobCategory returns true for categories that may appear on a
// failed job record. Boundary-only categories never reach the store.
func (c ErrorCategory) IsTerminalJobCategory() bool {
	return c == ErrorCategoryProcessorExhausted || c == ErrorCategoryProcessorCircuitOpen
}
