// Package ocr extracts a candidate meter reading from a photograph.
//
// Recognition is advisory: a miss is not an error, and the caller falls back to
// manual entry whenever Extract returns an error. Every call acquires its own
// engine and releases it before returning, so no recognition worker is shared
// between concurrent submissions or kept alive between them.
package ocr

import (
	"context"
	"errors"
	"regexp"
	"time"

	"go.uber.org/zap"
)

var readingPattern = regexp.MustCompile(`\d+(\.\d+)?`)

// Recognition is the raw output of an engine pass
type Recognition struct {
	Text       string
	Confidence *float64
}

// Engine runs text recognition over a single image
type Engine interface {
	Recognize(ctx context.Context, image []byte) (Recognition, error)
	Close() error
}

// EngineFactory creates a fresh engine
type EngineFactory func(ctx context.Context) (Engine, error)

// Result is the extractor's outcome for one image
type Result struct {
	Candidate  string   `json:"candidate,omitempty"`
	Found      bool     `json:"found"`
	Confidence *float64 `json:"confidence,omitempty"`
	Text       string   `json:"-"`
}

// ExtractCandidate returns the first decimal-number token in text
func ExtractCandidate(text string) (string, bool) {
	match := readingPattern.FindString(text)
	return match, match != ""
}

// Extractor runs one-shot recognition passes
type Extractor struct {
	factory EngineFactory
	timeout time.Duration
	enabled bool
	logger  *zap.Logger
}

// NewExtractor creates an extractor. A nil factory yields a disabled extractor.
func NewExtractor(factory EngineFactory, timeout time.Duration, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		factory: factory,
		timeout: timeout,
		enabled: factory != nil,
		logger:  logger,
	}
}

// Enabled reports whether recognition is configured
func (e *Extractor) Enabled() bool {
	return e.enabled
}

// Extract recognizes the image and returns the first numeric candidate.
func (e *Extractor) Extract(ctx context.Context, image []byte) (result Result, err error) {
	const op = "Extract"

	if !e.enabled {
		return Result{}, nil
	}
	if len(image) == 0 {
		return Result{}, WrapOCRError(op, ErrEmptyImage, "")
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	engine, err := e.factory(ctx)
	if err != nil {
		return Result{}, WrapOCRError(op, ErrEngineUnavailable, err.Error())
	}
	defer func() {
		if closeErr := engine.Close(); closeErr != nil {
			e.logger.Warn("failed to release OCR engine", zap.Error(closeErr))
		}
	}()

	recognition, err := engine.Recognize(ctx, image)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, WrapOCRError(op, ErrTimeout, e.timeout.String())
		}
		if ctx.Err() != nil {
			return Result{}, WrapOCRError(op, ctx.Err(), "")
		}
		return Result{}, WrapOCRError(op, ErrRecognitionFailed, err.Error())
	}

	candidate, found := ExtractCandidate(recognition.Text)
	result = Result{
		Candidate:  candidate,
		Found:      found,
		Confidence: recognition.Confidence,
		Text:       recognition.Text,
	}

	e.logger.Debug("ocr pass finished",
		zap.Bool("found", found),
		zap.String("candidate", candidate),
	)

	return result, nil
}
