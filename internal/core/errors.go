package core

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed taxonomy of pipeline failures.
type ErrorKind int

const (
	KindEmbeddingUnavailable ErrorKind = iota + 1
	KindCompressionFailed
	KindInsufficientData
	KindGenerationFailed
	KindConfigurationInvalid
)

func (k ErrorKind) String() string {
	switch k {
	case KindEmbeddingUnavailable:
		return "EmbeddingUnavailable"
	case KindCompressionFailed:
		return "CompressionFailed"
	case KindInsufficientData:
		return "InsufficientData"
	case KindGenerationFailed:
		return "GenerationFailed"
	case KindConfigurationInvalid:
		return "ConfigurationInvalid"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Fatal reports whether an error of this kind must stop the whole run.
func (k ErrorKind) Fatal() bool {
	return k == KindConfigurationInvalid
}

var (
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	ErrCompressionFailed    = errors.New("compression failed")
	ErrInsufficientData     = errors.New("insufficient data")
	ErrGenerationFailed     = errors.New("generation failed")
	ErrConfigurationInvalid = errors.New("configuration invalid")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindEmbeddingUnavailable:
		return ErrEmbeddingUnavailable
	case KindCompressionFailed:
		return ErrCompressionFailed
	case KindInsufficientData:
		return ErrInsufficientData
	case KindGenerationFailed:
		return ErrGenerationFailed
	case KindConfigurationInvalid:
		return ErrConfigurationInvalid
	}
	return nil
}

// PipelineError carries the kind of failure plus where it happened.
type PipelineError struct {
	Kind   ErrorKind
	Op     string
	ItemID string
	Err    error
}

// NewError wraps err with a kind and operation name.
func NewError(kind ErrorKind, op, itemID string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Op: op, ItemID: itemID, Err: err}
}

func (e *PipelineError) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.ItemID != "" {
		msg += " [" + e.ItemID + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Is matches the sentinel of the same kind, so errors.Is(err, ErrGenerationFailed) works.
func (e *PipelineError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// KindOf extracts the ErrorKind from err, or 0 if err is not a PipelineError.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	for _, k := range []ErrorKind{KindEmbeddingUnavailable, KindCompressionFailed, KindInsufficientData, KindGenerationFailed, KindConfigurationInvalid} {
		if errors.Is(err, k.sentinel()) {
			return k
		}
	}
	return 0
}
