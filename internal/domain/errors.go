// Package domain defines core types, interfaces, and errors for the dispatch service.
package domain

import "fmt"

// ConnectivityError indicates a backend connection is absent or broken.
// Recovery is the health monitor's job, not the dispatcher's.
type ConnectivityError struct {
	Message string
}

func (e *ConnectivityError) Error() string { return e.Message }

// ExecutionError indicates an engine-reported failure for a specific query.
// Terminal for that query; surfaced to the caller.
type ExecutionError struct {
	Message string
}

func (e *ExecutionError) Error() string { return e.Message }

// TimeoutError indicates the caller gave up waiting for a result.
// The underlying query is not cancelled.
type TimeoutError struct {
	Message string
}

func (e *TimeoutError) Error() string { return e.Message }

// ConfigurationError indicates an unknown database or disabled feature.
// Rejected at submission, never enqueued.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return e.Message }

// MigrationError indicates a migration load or apply failure.
type MigrationError struct {
	Message string
}

func (e *MigrationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate pending query id).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ErrConnectivity creates a ConnectivityError with a formatted message.
func ErrConnectivity(format string, args ...interface{}) *ConnectivityError {
	return &ConnectivityError{Message: fmt.Sprintf(format, args...)}
}

// ErrExecution creates an ExecutionError with a formatted message.
func ErrExecution(format string, args ...interface{}) *ExecutionError {
	return &ExecutionError{Message: fmt.Sprintf(format, args...)}
}

// ErrTimeout creates a TimeoutError with a formatted message.
func ErrTimeout(format string, args ...interface{}) *TimeoutError {
	return &TimeoutError{Message: fmt.Sprintf(format, args...)}
}

// ErrConfiguration creates a ConfigurationError with a formatted message.
func ErrConfiguration(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// ErrMigration creates a MigrationError with a formatted message.
func ErrMigration(format string, args ...interface{}) *MigrationError {
	return &MigrationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}
