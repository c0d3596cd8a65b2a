package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("record already exists")
	ErrAlreadyRegistered = errors.New("already registered")
	ErrNotRegistered     = errors.New("not registered")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrExceedsDue        = errors.New("deduction exceeds current due")
	ErrInactive          = errors.New("subscription is not active")
	ErrUnauthorized      = errors.New("not authorized")
	ErrInvalidAction     = errors.New("invalid action")
	ErrValidation        = errors.New("validation failed")
	ErrPersistence       = errors.New("persistence failed")
	ErrExternalService   = errors.New("external service failure")
)

// ValidationError ошибка пользовательского ввода, после неё ввод можно повторить.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// PersistenceError запись в хранилище не удалась, изменение не зафиксировано.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: persist: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// TransitionError недопустимый переход для текущего статуса.
func TransitionError(event string, from Status) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, event, from)
}
