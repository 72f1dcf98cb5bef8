package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict сигнализирует о нарушении уникальности: действие уже выполнено.
	ErrConflict = errors.New("уже выполнено")
	// ErrClassifierTimeout — классификатор не ответил за отведённое время.
	ErrClassifierTimeout = errors.New("классификатор не ответил")
	// ErrSessionTimeout — сессия истории прервана по неактивности.
	ErrSessionTimeout = errors.New("сессия истёкла")
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("не найдено")
)

// TransientStoreError означает недоступность хранилища. Вызывающий не должен считать операцию выполненной.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("хранилище недоступно (%s): %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// IsTransient проверяет, что в цепочке есть TransientStoreError.
func IsTransient(err error) bool {
	var te *TransientStoreError
	return errors.As(err, &te)
}

// ConfigError описывает некорректную конфигурацию, обнаруженную при старте.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "некорректная конфигурация: " + e.Reason
	}
	return fmt.Sprintf("некорректная конфигурация %s: %s", e.Field, e.Reason)
}

// NewConfigError создаёт ConfigError с форматированной причиной.
func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
