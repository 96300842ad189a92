package service

import (
	"errors"
	"fmt"

	"github.com/toolboxhq/keygate/internal/config"
	"github.com/toolboxhq/keygate/internal/model"
)

// Verification and lifecycle outcomes. Callers distinguish them with
// errors.Is; every transport maps them to its own representation.
var (
	ErrNotFound      = errors.New("key not found")
	ErrInactive      = errors.New("key is inactive")
	ErrOwnerMismatch = errors.New("email does not match license owner")
	ErrExpired       = errors.New("license has expired")
	ErrTransport     = errors.New("license service unreachable")
	ErrInvalidInput  = errors.New("invalid input")
)

// storeErr translates store errors into service errors, leaving anything
// unexpected wrapped with op.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, config.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, config.ErrInactive):
		return ErrInactive
	case errors.Is(err, model.ErrInvalidRecord):
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Reason returns the machine-readable reason for a service error, or "" when
// err is not one of the sentinel outcomes.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return model.ReasonNotFound
	case errors.Is(err, ErrInactive):
		return model.ReasonInactive
	case errors.Is(err, ErrOwnerMismatch):
		return model.ReasonOwnerMismatch
	case errors.Is(err, ErrExpired):
		return model.ReasonExpired
	case errors.Is(err, ErrInvalidInput):
		return model.ReasonInvalidInput
	}
	return ""
}

// FromReason is the inverse of Reason.
func FromReason(reason string) error {
	switch reason {
	case model.ReasonNotFound:
		return ErrNotFound
	case model.ReasonInactive:
		return ErrInactive
	case model.ReasonOwnerMismatch:
		return ErrOwnerMismatch
	case model.ReasonExpired:
		return ErrExpired
	case model.ReasonInvalidInput:
		return ErrInvalidInput
	}
	return nil
}
