package wallet

import (
	"errors"
	"fmt"
)

// ErrorCategory normalizes source failures across wire protocols.
type ErrorCategory string

const (
	// ErrorTimeout indicates the source took too long to respond.
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorBadData indicates the source returned invalid/malformed data.
	ErrorBadData ErrorCategory = "bad_data"

	// ErrorOutage indicates the source system is unreachable.
	ErrorOutage ErrorCategory = "outage"

	// ErrorNotFound indicates the source holds no records for the owner.
	ErrorNotFound ErrorCategory = "not_found"

	// ErrorInternal indicates an unexpected internal error.
	ErrorInternal ErrorCategory = "internal"
)

// AdapterError wraps source failures with normalized categorization. The
// orchestrator converts these into failed WalletVerificationResults; they are
// never propagated out of a session.
type AdapterError struct {
	Category   ErrorCategory
	SourceID   string
	Message    string
	Underlying error
	Retryable  bool
}

func (e *AdapterError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("source %s [%s]: %s: %v", e.SourceID, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("source %s [%s]: %s", e.SourceID, e.Category, e.Message)
}

func (e *AdapterError) Unwrap() error { return e.Underlying }

// NewAdapterError creates a normalized adapter error. Timeouts and outages
// are classified retryable.
func NewAdapterError(category ErrorCategory, sourceID, message string, underlying error) *AdapterError {
	return &AdapterError{
		Category:   category,
		SourceID:   sourceID,
		Message:    message,
		Underlying: underlying,
		Retryable:  category == ErrorTimeout || category == ErrorOutage,
	}
}

// CategoryOf extracts the error category, defaulting to internal.
func CategoryOf(err error) ErrorCategory {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Category
	}
	return ErrorInternal
}
