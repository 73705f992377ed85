package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sakashimaa/go-order-management/pkg/utils"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("concurrent modification")
	ErrPublish           = errors.New("event publish failed")
)

// ValidationError describes a malformed request. ProductIDs is set when the
// problem is tied to specific order lines, Fields when a struct failed tag
// validation.
type ValidationError struct {
	Field      string
	Reason     string
	ProductIDs []uuid.UUID
	Fields     map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = e.Fields[k]
		}

		return strings.Join(parts, "; ")
	}

	if len(e.ProductIDs) > 0 {
		return fmt.Sprintf("%s: %s: %s", e.Field, e.Reason, joinIDs(e.ProductIDs))
	}

	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type NotFoundError struct {
	Entity string
	IDs    []uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, joinIDs(e.IDs))
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InsufficientStockError lists every product whose stock could not cover the
// requested quantity.
type InsufficientStockError struct {
	ProductIDs []uuid.UUID
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for products: %s", joinIDs(e.ProductIDs))
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

type ConflictError struct {
	ProductID uuid.UUID
	Attempts  int
}

func (e *ConflictError) Error() string {
	if e.ProductID == uuid.Nil {
		return fmt.Sprintf("order commit conflicted after %d attempts", e.Attempts)
	}

	return fmt.Sprintf("stock of product %s changed concurrently after %d attempts", e.ProductID, e.Attempts)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// PublishError means the order was committed but its event did not reach the
// broker. The outbox row remains for the relay.
type PublishError struct {
	OrderID uuid.UUID
	Err     error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish event for order %s: %v", e.OrderID, e.Err)
}

func (e *PublishError) Is(target error) bool { return target == ErrPublish }

func (e *PublishError) Unwrap() error { return e.Err }

// invalidInput wraps a validator/v10 failure into a ValidationError.
func invalidInput(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Field: "_", Reason: err.Error()}
	}

	return &ValidationError{
		Field:  strings.ToLower(fieldErrs[0].Field()),
		Reason: fieldErrs[0].Tag(),
		Fields: utils.FormatValidationError(err),
	}
}

func joinIDs(ids []uuid.UUID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}

	return strings.Join(parts, ", ")
}
