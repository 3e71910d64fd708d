// Package redacterr defines the typed failures of the redaction pipeline.
//
// Callers branch on Kind rather than on message text: detector failures and
// cancellations are retryable, unreadable input and save failures are fatal
// and leave no output behind.
package redacterr

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnreadableDocument
	KindDetectorFailure
	KindUnknownLanguage
	KindSaveFailure
	KindInvalidRequest
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindUnreadableDocument:
		return "UnreadableDocument"
	case KindDetectorFailure:
		return "DetectorFailure"
	case KindUnknownLanguage:
		return "UnknownLanguage"
	case KindSaveFailure:
		return "SaveFailure"
	case KindInvalidRequest:
		return "InvalidRequest"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error is a classified failure. Reason is safe to show to API callers;
// Err carries the internal cause and is only logged.
type Error struct {
	Kind   Kind
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

// Detail includes the wrapped cause, for logs.
func (e *Error) Detail() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Error())
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Error(), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether repeating the request may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindDetectorFailure || e.Kind == KindCancelled
}

// Fatal reports whether the request was aborted with no output.
func (e *Error) Fatal() bool {
	switch e.Kind {
	case KindUnreadableDocument, KindSaveFailure, KindInvalidRequest, KindCancelled:
		return true
	}
	return false
}

// Unreadable reports that the source document could not be parsed.
func Unreadable(op, path string, err error) *Error {
	return &Error{Kind: KindUnreadableDocument, Op: op, Reason: fmt.Sprintf("cannot read document %q", path), Err: err}
}

// DetectorFailed reports a detector that erred or timed out on one page.
func DetectorFailed(detector string, page int, err error) *Error {
	return &Error{Kind: KindDetectorFailure, Op: detector, Reason: fmt.Sprintf("detector %s failed on page %d", detector, page), Err: err}
}

// UnknownLanguage reports that no model serves the page's language.
func UnknownLanguage(code string) *Error {
	if code == "" {
		code = "unknown"
	}
	return &Error{Kind: KindUnknownLanguage, Op: "langid", Reason: fmt.Sprintf("no entity model for language %q", code)}
}

// SaveFailed reports that the redacted output could not be persisted.
func SaveFailed(path string, err error) *Error {
	return &Error{Kind: KindSaveFailure, Op: "save", Reason: fmt.Sprintf("cannot save %q", path), Err: err}
}

// Invalid reports a malformed request.
func Invalid(reason string) *Error {
	return &Error{Kind: KindInvalidRequest, Op: "request", Reason: reason}
}

// Cancelled reports that the owning request was cancelled.
func Cancelled(err error) *Error {
	return &Error{Kind: KindCancelled, Op: "pipeline", Reason: "request cancelled", Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, k Kind) bool { return err != nil && KindOf(err) == k }
