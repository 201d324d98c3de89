// Package errors implements the replay selection error taxonomy with classification helpers.
package errors

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a replay selection failure.
// Every kind except KindExtraction is a local, recoverable condition that
// must never abort the training loop.
type ErrorKind int

const (
	// KindInsufficientPopulation indicates a label or pool holds fewer samples
	// than requested. Samplers return fewer samples instead of raising it; it
	// exists so callers can still classify the condition when they choose to.
	KindInsufficientPopulation ErrorKind = iota

	// KindDegenerateCandidates indicates an empty candidate pool.
	KindDegenerateCandidates

	// KindInvalidK indicates a neighborhood size outside 1 <= K < n_cand.
	KindInvalidK

	// KindEmptyReplayNeed indicates the stream batch alone fills the batch.
	KindEmptyReplayNeed

	// KindInvalidConfig indicates a configuration value rejected at setup time.
	KindInvalidConfig

	// KindShapeMismatch indicates feature or label slices of inconsistent size.
	KindShapeMismatch

	// KindExtraction indicates the feature extractor failed. The enclosing
	// training step fails with it.
	KindExtraction
)

var kindNames = map[ErrorKind]string{
	KindInsufficientPopulation: "insufficient_population",
	KindDegenerateCandidates:   "degenerate_candidates",
	KindInvalidK:               "invalid_k",
	KindEmptyReplayNeed:        "empty_replay_need",
	KindInvalidConfig:          "invalid_config",
	KindShapeMismatch:          "shape_mismatch",
	KindExtraction:             "extraction",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ReplayError wraps an error with a kind and the operation that produced it.
type ReplayError struct {
	Kind       ErrorKind
	Op         string
	Message    string
	Underlying error
}

// Error implements the error interface.
func (e *ReplayError) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Kind)
	if e.Op != "" {
		prefix = fmt.Sprintf("[%s] %s", e.Kind, e.Op)
	}
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ReplayError) Unwrap() error {
	return e.Underlying
}

// Is matches any ReplayError of the same kind.
func (e *ReplayError) Is(target error) bool {
	var re *ReplayError
	if errors.As(target, &re) {
		return e.Kind == re.Kind
	}
	return false
}

// New creates a ReplayError of the given kind.
func New(kind ErrorKind, op, message string) *ReplayError {
	return &ReplayError{Kind: kind, Op: op, Message: message}
}

// Newf creates a ReplayError with a formatted message.
func Newf(kind ErrorKind, op, format string, args ...any) *ReplayError {
	return New(kind, op, fmt.Sprintf(format, args...))
}

// Wrap attaches a kind to err. Existing ReplayErrors keep their kind.
func Wrap(kind ErrorKind, op, message string, err error) error {
	if err == nil {
		return nil
	}

	var re *ReplayError
	if errors.As(err, &re) {
		kind = re.Kind
	}
	return &ReplayError{Kind: kind, Op: op, Message: message, Underlying: err}
}

// GetKind extracts the ErrorKind from an error, defaulting to KindExtraction
// for errors that did not originate in the replay core.
func GetKind(err error) ErrorKind {
	var re *ReplayError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindExtraction
}

// IsRecoverable reports whether the training loop may continue past err.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	return GetKind(err) != KindExtraction
}

// Sentinel errors for each kind, usable with errors.Is.
var (
	ErrInsufficientPopulation = New(KindInsufficientPopulation, "", "insufficient population")
	ErrDegenerateCandidates   = New(KindDegenerateCandidates, "", "no candidates to score")
	ErrInvalidK               = New(KindInvalidK, "", "neighborhood size out of range")
	ErrEmptyReplayNeed        = New(KindEmptyReplayNeed, "", "no replay samples needed")
	ErrInvalidConfig          = New(KindInvalidConfig, "", "invalid configuration")
	ErrShapeMismatch          = New(KindShapeMismatch, "", "shape mismatch")
	ErrExtraction             = New(KindExtraction, "", "feature extraction failed")
)
