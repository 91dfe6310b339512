package ocr

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineUnavailable is returned when a recognition engine cannot be created
	ErrEngineUnavailable = errors.New("OCR engine unavailable")

	// ErrRecognitionFailed is returned when the engine fails to process the image
	ErrRecognitionFailed = errors.New("OCR recognition failed")

	// ErrEmptyImage is returned when no image bytes were provided
	ErrEmptyImage = errors.New("image is empty")

	// ErrTimeout is returned when recognition did not finish in time
	ErrTimeout = errors.New("OCR recognition timed out")
)

// OCRError wraps errors with the operation that failed.
type OCRError struct {
	Op      string
	Err     error
	Details string
}

// Error implements the error interface.
func (e *OCRError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("ocr: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("ocr: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *OCRError) Unwrap() error {
	return e.Err
}

// WrapOCRError wraps an error as an OCRError if it isn't already one.
func WrapOCRError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var ocrErr *OCRError
	if errors.As(err, &ocrErr) {
		return err
	}

	return &OCRError{Op: op, Err: err, Details: details}
}
