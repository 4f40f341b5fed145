package shared

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrValidation indicates invalid input or a broken business precondition.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState indicates a transition not allowed from the current status.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrInsufficientStock indicates an outbound quantity above what is on hand.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrAlreadyPosted indicates a document whose postings already exist.
	ErrAlreadyPosted = errors.New("already posted")
	// ErrNoActiveBOM indicates a manufactured item without an active bill of materials.
	ErrNoActiveBOM = errors.New("no active bill of materials")
	// ErrUnbalanced indicates journal lines whose debits and credits differ.
	ErrUnbalanced = errors.New("journal lines must balance")
)

// ValidationError describes rejected input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// InvalidStateTransitionError reports a rejected status change.
type InvalidStateTransitionError struct {
	Entity  string
	From    string
	To      string
	Allowed []string
}

func (e *InvalidStateTransitionError) Error() string {
	msg := fmt.Sprintf("%s: invalid state transition %s -> %s", e.Entity, e.From, e.To)
	if len(e.Allowed) > 0 {
		msg += " (requires " + strings.Join(e.Allowed, " or ") + ")"
	}
	return msg
}

func (e *InvalidStateTransitionError) Is(target error) bool { return target == ErrInvalidState }

// InvalidTransition builds an InvalidStateTransitionError.
func InvalidTransition(entity, from, to string, allowed ...string) error {
	return &InvalidStateTransitionError{Entity: entity, From: from, To: to, Allowed: allowed}
}

// InsufficientStockError reports a shortfall for an item at a location.
type InsufficientStockError struct {
	ItemID     string
	LocationID string
	Requested  decimal.Decimal
	Available  decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %s at %s: requested %s, available %s",
		e.ItemID, e.LocationID, e.Requested.String(), e.Available.String())
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// AlreadyPostedError reports a second posting attempt.
type AlreadyPostedError struct {
	Entity string
	Number string
}

func (e *AlreadyPostedError) Error() string {
	return fmt.Sprintf("%s %s already posted", e.Entity, e.Number)
}

func (e *AlreadyPostedError) Is(target error) bool { return target == ErrAlreadyPosted }

// NoActiveBOMError reports a manufactured item without an active BOM.
type NoActiveBOMError struct {
	ItemID string
}

func (e *NoActiveBOMError) Error() string {
	return fmt.Sprintf("item %s has no active bill of materials", e.ItemID)
}

func (e *NoActiveBOMError) Is(target error) bool { return target == ErrNoActiveBOM }

// UnbalancedJournalError is a validation error carrying both totals.
type UnbalancedJournalError struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

func (e *UnbalancedJournalError) Error() string {
	return fmt.Sprintf("journal lines must balance: debit %s, credit %s",
		e.Debit.StringFixed(2), e.Credit.StringFixed(2))
}

func (e *UnbalancedJournalError) Is(target error) bool {
	return target == ErrUnbalanced || target == ErrValidation
}
