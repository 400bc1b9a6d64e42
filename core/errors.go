// Package core provides the error taxonomy, the value encoding and the
// system interface shared by the kernel, the system layer and blueprints.
package core

import (
	"errors"
	"fmt"
)

// Kernel level violations. Every one of them aborts the transaction.
var (
	ErrNodeNotOwnedByCaller   = errors.New("node not owned by caller")
	ErrNodeNotVisible         = errors.New("node not visible")
	ErrOrphanedNode           = errors.New("orphaned node")
	ErrCannotDropNonEmptyNode = errors.New("cannot drop non-empty node")
	ErrNodeAlreadyExists      = errors.New("node already exists")
	ErrNodeNotFound           = errors.New("node not found")
	ErrNotGlobalNode          = errors.New("node is not global")
	ErrNonGlobalReference     = errors.New("reference to non-global node")
	ErrDuplicateOwn           = errors.New("node owned twice")
	ErrCannotPersistTransient = errors.New("transient node cannot be persisted")
	ErrCannotRemoveStoredNode = errors.New("stored node cannot be removed from its parent")
	ErrInvalidPayload         = errors.New("invalid substate payload")

	ErrSubstateLocked    = errors.New("substate locked")
	ErrInvalidLockHandle = errors.New("invalid lock handle")
	ErrLockNotWritable   = errors.New("lock not writable")
	ErrLockNotReleased   = errors.New("lock not released")
	ErrTooManyLocks      = errors.New("too many open locks")
	ErrSubstateTooLarge  = errors.New("substate too large")

	ErrFrameNotActive     = errors.New("call frame not active")
	ErrCallDepthExceeded  = errors.New("call depth exceeded")
	ErrTransactionAborted = errors.New("transaction aborted")
)

// ErrSubstateNotFound is returned when an absent substate is opened. It is
// not fatal: callers decide what absence means.
var ErrSubstateNotFound = errors.New("substate not found")

// Schema errors.
var (
	ErrSchemaMismatch    = errors.New("payload does not match schema")
	ErrUnknownField      = errors.New("unknown field")
	ErrUnknownCollection = errors.New("unknown collection")
	ErrInvalidDefinition = errors.New("invalid blueprint definition")
)

// System errors.
var (
	ErrPackageNotFound      = errors.New("package not found")
	ErrBlueprintNotFound    = errors.New("blueprint not found")
	ErrFunctionNotFound     = errors.New("function not found")
	ErrFieldLocked          = errors.New("field locked")
	ErrEntryLocked          = errors.New("key value entry locked")
	ErrInvalidDropAccess    = errors.New("invalid drop access")
	ErrInvalidGlobalize     = errors.New("object cannot be globalized")
	ErrInvalidOuterObject   = errors.New("invalid outer object")
	ErrNoActorObject        = errors.New("actor has no object")
	ErrUnknownFeature       = errors.New("unknown feature")
	ErrModuleNotAttached    = errors.New("module not attached")
	ErrInvalidHostCall      = errors.New("invalid host call")
	ErrUnsupportedBlueprint = errors.New("unsupported blueprint kind")
)

// ErrFeeReserveExhausted is wrapped by CostingError.
var ErrFeeReserveExhausted = errors.New("fee reserve exhausted")

// ErrorClass is the category reported in a failure receipt.
type ErrorClass string

const (
	ClassNone        ErrorClass = ""
	ClassKernel      ErrorClass = "kernel"
	ClassSchema      ErrorClass = "schema"
	ClassSystem      ErrorClass = "system"
	ClassApplication ErrorClass = "application"
	ClassCosting     ErrorClass = "costing"
	ClassUnknown     ErrorClass = "unknown"
)

func wrap(sentinel error, format string, args ...any) error {
	if format == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// KernelError reports a violation of the ownership or locking protocol.
type KernelError struct {
	Err error
}

func (e *KernelError) Error() string { return "kernel error: " + e.Err.Error() }
func (e *KernelError) Unwrap() error { return e.Err }

// NewKernelError wraps sentinel as a fatal ownership or lock violation.
func NewKernelError(sentinel error, format string, args ...any) error {
	return &KernelError{Err: wrap(sentinel, format, args...)}
}

// SchemaError reports a payload that does not match its declared type.
type SchemaError struct {
	Err error
}

func (e *SchemaError) Error() string { return "schema error: " + e.Err.Error() }
func (e *SchemaError) Unwrap() error { return e.Err }

// NewSchemaError wraps sentinel as a payload or definition mismatch.
func NewSchemaError(sentinel error, format string, args ...any) error {
	return &SchemaError{Err: wrap(sentinel, format, args...)}
}

// SystemError reports a violation of the object layer rules.
type SystemError struct {
	Err error
}

func (e *SystemError) Error() string { return "system error: " + e.Err.Error() }
func (e *SystemError) Unwrap() error { return e.Err }

// NewSystemError wraps sentinel as an object layer violation.
func NewSystemError(sentinel error, format string, args ...any) error {
	return &SystemError{Err: wrap(sentinel, format, args...)}
}

// ApplicationError is a domain error raised by blueprint code.
type ApplicationError struct {
	Err error
}

func (e *ApplicationError) Error() string { return "application error: " + e.Err.Error() }
func (e *ApplicationError) Unwrap() error { return e.Err }

// NewApplicationError wraps sentinel as a blueprint domain error.
func NewApplicationError(sentinel error, format string, args ...any) error {
	return &ApplicationError{Err: wrap(sentinel, format, args...)}
}

// CostingError reports an exhausted fee reserve.
type CostingError struct {
	Err error
}

func (e *CostingError) Error() string { return "costing error: " + e.Err.Error() }
func (e *CostingError) Unwrap() error { return e.Err }

// NewCostingError reports an exhausted fee reserve.
func NewCostingError(format string, args ...any) error {
	return &CostingError{Err: wrap(ErrFeeReserveExhausted, format, args...)}
}

// ClassOf classifies err. A kernel error anywhere in the chain wins over the
// classes wrapped around it.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	var (
		kernelErr  *KernelError
		schemaErr  *SchemaError
		systemErr  *SystemError
		appErr     *ApplicationError
		costingErr *CostingError
	)
	switch {
	case errors.As(err, &kernelErr):
		return ClassKernel
	case errors.As(err, &costingErr):
		return ClassCosting
	case errors.As(err, &schemaErr):
		return ClassSchema
	case errors.As(err, &systemErr):
		return ClassSystem
	case errors.As(err, &appErr):
		return ClassApplication
	default:
		return ClassUnknown
	}
}

// IsFatal reports whether err must abort the transaction. Only the not-found
// marker is left to the caller.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrSubstateNotFound) || ClassOf(err) != ClassUnknown
}
