package entity

import "enrichd/internal/domain/valueobject"

// DomainError represents a domain-specific error carrying a stable code and
// a category the API boundary maps to a transport status.
type DomainError struct {
	message  string
	code     string
	category valueobject.ErrorCategory
}

// NewDomainError creates a new domain error without a boundary category.
func NewDomainError(message, code string) *DomainError {
	return &DomainError{message: message, code: code}
}

// NewCategorizedError creates a domain error with a boundary category.
func NewCategorizedError(message, code string, category valueobject.ErrorCategory) *DomainError {
	return &DomainError{message: message, code: code, category: category}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	return e.message
}

// Code returns the stable error code.
func (e *DomainError) Code() string {
	return e.code
}

// Message returns the error message.
func (e *DomainError) Message() string {
	return e.message
}

// Category returns the boundary category, empty when none applies.
func (e *DomainError) Category() valueobject.ErrorCategory {
	return e.category
}
