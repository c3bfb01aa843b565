package domain

import (
	"errors"
	"fmt"
)

// Error types for domain-specific errors
type ErrorType string

const (
	ErrorTypeInputNotFound          ErrorType = "input_not_found"
	ErrorTypeInputNotReadable       ErrorType = "input_not_readable"
	ErrorTypeDocumentLoadFailed     ErrorType = "document_load_failed"
	ErrorTypeNoPages                ErrorType = "no_pages"
	ErrorTypePageAccessFailed       ErrorType = "page_access_failed"
	ErrorTypeExtractionFailed       ErrorType = "extraction_failed"
	ErrorTypeRenderFailed           ErrorType = "render_failed"
	ErrorTypeEncodeFailed           ErrorType = "encode_failed"
	ErrorTypeArchiveOpenFailed      ErrorType = "archive_open_failed"
	ErrorTypeArchiveEntryReadFailed ErrorType = "archive_entry_read_failed"
	ErrorTypeExternalToolFailed     ErrorType = "external_tool_failed"
	ErrorTypeNoImagesFound          ErrorType = "no_images_found"
	ErrorTypeSerializationFailed    ErrorType = "serialization_failed"

	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeBusy       ErrorType = "busy"
	ErrorTypeCancelled  ErrorType = "cancelled"
)

// DomainError represents a domain-specific error with context.
// Page is the 1-based page number the error relates to, 0 when not page specific.
type DomainError struct {
	Type    ErrorType
	Message string
	Page    int
	Err     error
}

func (e *DomainError) Error() string {
	msg := e.Message
	if e.Page > 0 {
		msg = fmt.Sprintf("page %d: %s", e.Page, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, msg)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *DomainError of the same type, so that
// errors.Is(err, &DomainError{Type: ErrorTypeNoPages}) works.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// OnPage attaches a page number and returns the same error.
func (e *DomainError) OnPage(page int) *DomainError {
	e.Page = page
	return e
}

// Common error constructors
func InputNotFoundError(message string, err error) *DomainError {
	return NewError(ErrorTypeInputNotFound, message, err)
}

func InputNotReadableError(message string, err error) *DomainError {
	return NewError(ErrorTypeInputNotReadable, message, err)
}

func DocumentLoadError(message string, err error) *DomainError {
	return NewError(ErrorTypeDocumentLoadFailed, message, err)
}

func NoPagesError(message string) *DomainError {
	return NewError(ErrorTypeNoPages, message, nil)
}

func PageAccessError(page int, err error) *DomainError {
	return NewError(ErrorTypePageAccessFailed, "cannot access page", err).OnPage(page)
}

func ExtractionError(message string, err error) *DomainError {
	return NewError(ErrorTypeExtractionFailed, message, err)
}

func RenderError(page int, err error) *DomainError {
	return NewError(ErrorTypeRenderFailed, "render failed", err).OnPage(page)
}

func EncodeError(message string, err error) *DomainError {
	return NewError(ErrorTypeEncodeFailed, message, err)
}

func ArchiveOpenError(message string, err error) *DomainError {
	return NewError(ErrorTypeArchiveOpenFailed, message, err)
}

func ArchiveEntryReadError(name string, err error) *DomainError {
	return NewError(ErrorTypeArchiveEntryReadFailed, fmt.Sprintf("cannot read entry %q", name), err)
}

func ExternalToolError(message string, err error) *DomainError {
	return NewError(ErrorTypeExternalToolFailed, message, err)
}

func NoImagesFoundError(message string) *DomainError {
	return NewError(ErrorTypeNoImagesFound, message, nil)
}

func SerializationError(message string, err error) *DomainError {
	return NewError(ErrorTypeSerializationFailed, message, err)
}

func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func IOError(message string, err error) *DomainError {
	return NewError(ErrorTypeIO, message, err)
}

func BusyError() *DomainError {
	return NewError(ErrorTypeBusy, "another conversion is in progress", nil)
}

func CancelledError(err error) *DomainError {
	return NewError(ErrorTypeCancelled, "conversion cancelled", err)
}

// TypeOf returns the ErrorType of the outermost DomainError in err's chain,
// or "" if there is none.
func TypeOf(err error) ErrorType {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Type
	}
	return ""
}

// IsType reports whether err carries a DomainError of type t anywhere in its chain.
func IsType(err error, t ErrorType) bool {
	return errors.Is(err, &DomainError{Type: t})
}

// UserMessage turns an error into a short message suitable for end users.
// Engine and library detail is left out; callers log the full error.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var de *DomainError
	if !errors.As(err, &de) {
		return "conversion failed"
	}
	switch de.Type {
	case ErrorTypeInputNotFound:
		return "file not found"
	case ErrorTypeInputNotReadable:
		return "file could not be read"
	case ErrorTypeDocumentLoadFailed:
		return "the PDF could not be opened (corrupt, encrypted or unsupported)"
	case ErrorTypeNoPages:
		return "the PDF has no pages"
	case ErrorTypePageAccessFailed:
		return fmt.Sprintf("page %d could not be read", de.Page)
	case ErrorTypeRenderFailed:
		return fmt.Sprintf("page %d could not be rendered", de.Page)
	case ErrorTypeEncodeFailed:
		return "an image could not be encoded"
	case ErrorTypeArchiveOpenFailed:
		return "the archive could not be opened"
	case ErrorTypeArchiveEntryReadFailed:
		return "an archive entry could not be read"
	case ErrorTypeExternalToolFailed:
		return "RAR extraction failed; is unar installed?"
	case ErrorTypeNoImagesFound:
		return "no images found in archive"
	case ErrorTypeSerializationFailed:
		return "the output file could not be written"
	case ErrorTypeValidation, ErrorTypeConfig:
		return de.Message
	case ErrorTypeBusy:
		return "another conversion is already running"
	case ErrorTypeCancelled:
		return "conversion cancelled"
	default:
		return "conversion failed"
	}
}
