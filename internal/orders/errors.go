package orders

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the reference is absent from the expected area.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidTransition is an illegal state jump.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrAmountMismatch means the reported payment does not match the order total.
	ErrAmountMismatch = errors.New("amount mismatch")
	// ErrImmutableRecord is a mutation attempted outside the editable states.
	ErrImmutableRecord = errors.New("immutable record")
	// ErrStorage is the underlying persistence failure; see StorageError.
	ErrStorage = errors.New("storage error")
	// ErrDuplicateReference is a reference collision that survived regeneration.
	ErrDuplicateReference = errors.New("duplicate reference")
	// ErrSessionFinalized means the session already owns a finalized order.
	ErrSessionFinalized = errors.New("session already has a finalized order")
	// ErrEmptyOrder means finalization was attempted without items.
	ErrEmptyOrder = errors.New("order has no items")
	// ErrInvalidEmail means the contact email failed validation.
	ErrInvalidEmail = errors.New("invalid contact email")
	// ErrNoChange is returned by update callbacks to signal a no-op.
	ErrNoChange = errors.New("no change")
	// ErrConflict means another writer changed the record between read and write.
	ErrConflict = errors.New("concurrent modification")
)

// StorageError wraps a failure of the persistence medium.
type StorageError struct {
	Op  string
	Ref string
	Err error
}

func (e *StorageError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Ref, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStorage) match any StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// NewStorageError builds a StorageError; nil err yields nil.
func NewStorageError(op, ref string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Ref: ref, Err: err}
}

func fmtUnknownState(raw string) error {
	return fmt.Errorf("unknown state %q: %w", raw, ErrInvalidTransition)
}

func fmtAreaMismatch(r *Record) error {
	return fmt.Errorf("record %s in state %s cannot live in area %s", r.Reference, r.State, r.Area)
}
