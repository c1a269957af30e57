package service

import (
	"errors"
	"fmt"

	"bitwise74/attachment-api/internal/storage"
	"bitwise74/attachment-api/pkg/validators"

	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("not found")
	// Also returned when the caller may not learn whether the resource exists
	ErrUnauthorized       = errors.New("unauthorized")
	ErrValidationFailed   = errors.New("validation failed")
	ErrUnsupportedContext = errors.New("unsupported context type")
	ErrStorageFailure     = errors.New("storage failure")
)

func validationError(err error) error {
	return fmt.Errorf("%w: %w", ErrValidationFailed, err)
}

func storageError(msg string, err error) error {
	return fmt.Errorf("%w: %s, %w", ErrStorageFailure, msg, err)
}

// classify turns lower level errors into the service taxonomy
func classify(err error, msg string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrValidationFailed), errors.Is(err, ErrUnsupportedContext),
		errors.Is(err, ErrStorageFailure):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case errors.Is(err, storage.ErrUnsafePath),
		errors.Is(err, validators.ErrFileTooLarge),
		errors.Is(err, validators.ErrFileNameInvalid),
		errors.Is(err, validators.ErrFileNameTooLong),
		errors.Is(err, validators.ErrFileTypeBlocked),
		errors.Is(err, validators.ErrNoFile):
		return validationError(err)
	default:
		return storageError(msg, err)
	}
}
