package caches

import (
	"errors"
	"fmt"
)

type ValidationError struct {
	Reason string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("creation of cache failed for reason : %s ", ve.Reason)
}

func (ve ValidationError) Is(target error) bool {
	return target == ErrValidation
}

var (
	ErrNoCacheItem = errors.New("no value found in cache")

	// ErrValidation matches every ValidationError through errors.Is.
	ErrValidation = errors.New("cache validation failed")

	// ErrEmptyGeneration is returned when a generation is opened with an empty name.
	ErrEmptyGeneration = errors.New("generation name is empty")

	// ErrGenerationDeleted is returned by Put when the generation was deleted
	// after it was opened.
	ErrGenerationDeleted = errors.New("generation deleted")
)
