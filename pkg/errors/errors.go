// Package errors implements FlowCore's standardized error taxonomy.
//
// Every error surfaced from the engine carries a Category (one of the
// seven kinds the error handling design distinguishes), a Component and
// Operation for diagnostic context, and an optional Cause. Category
// drives recovery policy: only Configuration errors are fatal at
// startup, everything else is locally recoverable (retry, rewind, tag,
// drop-with-counter).
package errors

import (
	"fmt"
	"runtime"
	"time"
)

// Category classifies an error for recovery-policy purposes.
type Category string

const (
	// CategoryConfiguration marks fatal-at-startup configuration errors:
	// invalid grammar, invalid references, invalid TLS parameters.
	CategoryConfiguration Category = "configuration"
	// CategoryTransientIO marks EAGAIN/EWOULDBLOCK-style conditions that
	// the reactor should re-arm and retry.
	CategoryTransientIO Category = "transient_io"
	// CategoryPersistentIO marks connect/read/write failures that require
	// disconnecting the transport and rewinding the queue backlog.
	CategoryPersistentIO Category = "persistent_io"
	// CategoryQueueFull marks a durable queue that dropped or blocked a push.
	CategoryQueueFull Category = "queue_full"
	// CategoryProtocol marks malformed frames, TLS alerts, oversize records.
	CategoryProtocol Category = "protocol"
	// CategoryParse marks a single event that failed to parse.
	CategoryParse Category = "parse"
	// CategoryProgramming marks invariant violations.
	CategoryProgramming Category = "programming"
)

// Severity mirrors a standard severity ladder, used for alerting.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// FlowError is the standardized error type produced and consumed across
// FlowCore's components.
type FlowError struct {
	Category   Category
	Severity   Severity
	Component  string
	Operation  string
	Message    string
	Cause      error
	StackTrace string
	Metadata   map[string]interface{}
	Timestamp  time.Time

	// RcptID and SourceLocation carry the structured context §7 requires
	// on every surfaced error (driver id, connection fd, source location
	// tag, rcpt_id). SourceLocation is typically an expr_node tag from a
	// pipeline node; RcptID is 0 when not associated with a specific event.
	RcptID        uint64
	SourceLocation string
}

// New creates a FlowError with default Medium severity.
func New(cat Category, component, operation, message string) *FlowError {
	_, file, line, _ := runtime.Caller(1)
	return &FlowError{
		Category:   cat,
		Severity:   SeverityMedium,
		Component:  component,
		Operation:  operation,
		Message:    message,
		StackTrace: fmt.Sprintf("%s:%d", file, line),
		Metadata:   make(map[string]interface{}),
		Timestamp:  time.Now(),
	}
}

// NewCritical creates a Critical-severity FlowError.
func NewCritical(cat Category, component, operation, message string) *FlowError {
	err := New(cat, component, operation, message)
	err.Severity = SeverityCritical
	return err
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Component, e.Operation, e.Category, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Category, e.Message)
}

// Unwrap supports errors.Is / errors.As over the wrapped cause.
func (e *FlowError) Unwrap() error {
	return e.Cause
}

// Wrap attaches a cause and returns the receiver for chaining.
func (e *FlowError) Wrap(cause error) *FlowError {
	e.Cause = cause
	return e
}

// WithMetadata attaches a key/value pair of diagnostic context.
func (e *FlowError) WithMetadata(key string, value interface{}) *FlowError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// WithRcptID attaches the per-host receipt id of the event that triggered
// this error, when applicable.
func (e *FlowError) WithRcptID(rcptID uint64) *FlowError {
	e.RcptID = rcptID
	return e
}

// WithSourceLocation attaches a pipeline expr_node diagnostic tag.
func (e *FlowError) WithSourceLocation(loc string) *FlowError {
	e.SourceLocation = loc
	return e
}

// WithSeverity overrides the default severity.
func (e *FlowError) WithSeverity(sev Severity) *FlowError {
	e.Severity = sev
	return e
}

// IsFatal reports whether this error must abort startup (Configuration
// category only; every other category is locally recoverable per §7).
func (e *FlowError) IsFatal() bool {
	return e.Category == CategoryConfiguration
}

// ToFields converts the error into a flat map suitable for structured
// logging (logrus.WithFields).
func (e *FlowError) ToFields() map[string]interface{} {
	fields := map[string]interface{}{
		"error_category":  string(e.Category),
		"error_severity":  string(e.Severity),
		"error_component": e.Component,
		"error_operation": e.Operation,
		"error_timestamp": e.Timestamp,
	}
	if e.RcptID != 0 {
		fields["rcpt_id"] = e.RcptID
	}
	if e.SourceLocation != "" {
		fields["source_location"] = e.SourceLocation
	}
	for k, v := range e.Metadata {
		fields["meta_"+k] = v
	}
	return fields
}
