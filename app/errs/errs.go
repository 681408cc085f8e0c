package errs

import (
	"errors"
	"fmt"
	"time"
)

type Category string

const (
	CategorySourceFetch       Category = "SOURCE_FETCH"
	CategoryContentExtraction Category = "CONTENT_EXTRACTION"
	CategoryEnrichment        Category = "ENRICHMENT"
	CategoryPersistence       Category = "PERSISTENCE"
	CategoryValidation        Category = "VALIDATION"
	CategoryFallbackAPI       Category = "FALLBACK_API"
	CategoryUnknown           Category = "UNKNOWN"
)

// Error is a categorised pipeline failure. The category is fixed where the
// error is raised; downstream code reads it instead of inspecting messages.
type Error struct {
	Category   Category  `json:"category"`
	SourceID   string    `json:"source_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
	Timestamp  time.Time `json:"timestamp"`

	err error
}

func New(category Category, message string) *Error {
	return &Error{
		Category:  category,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Wrap categorises err. A nil err yields nil.
func Wrap(category Category, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Category:  category,
		Message:   err.Error(),
		Timestamp: time.Now().UTC(),
		err:       err,
	}
}

func (e *Error) Error() string {
	if e.SourceID != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Category, e.SourceID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) WithSource(sourceID string) *Error {
	e.SourceID = sourceID
	return e
}

func (e *Error) WithURL(url string) *Error {
	e.URL = url
	return e
}

func (e *Error) WithStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

func (e *Error) WithAttempt(attempt int) *Error {
	e.Attempt = attempt
	return e
}

// CategoryOf returns the category of the first *Error in err's chain.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return CategoryUnknown
}

// As converts err into an *Error, wrapping it with fallback when it carries
// no category of its own.
func As(err error, fallback Category) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(fallback, err)
}
