package engine

import (
	"errors"
	"fmt"

	"giftline/internal/engine/auth"
	"giftline/internal/repo"
)

// Kind classifies engine failures for callers.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindValidation   Kind = "validation"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindInternal     Kind = "internal"
)

// Error is a business failure with a stable code and optional details.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func notFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: "not_found", Message: fmt.Sprintf(format, args...)}
}

func conflict(code, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

func invalid(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) with(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// KindOf reports the kind of err, KindInternal for anything unclassified.
func KindOf(err error) Kind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return KindForbidden
	}
	var re auth.UnknownRoleError
	if errors.As(err, &re) {
		return KindForbidden
	}
	if errors.Is(err, auth.ErrUnknownStaff) {
		return KindUnauthorized
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return KindNotFound
	case errors.Is(err, repo.ErrConflict), errors.Is(err, repo.ErrBusy):
		return KindConflict
	case errors.Is(err, repo.ErrConstraint):
		return KindValidation
	}
	return KindInternal
}

// storeErr turns repo sentinels into engine errors. what names the entity
// for not-found messages.
func storeErr(err error, what string) error {
	if err == nil {
		return nil
	}
	err = repo.Classify(err)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return &Error{Kind: KindNotFound, Code: "not_found", Message: what + " not found", Err: err}
	case errors.Is(err, repo.ErrBusy):
		return &Error{Kind: KindConflict, Code: "store_busy", Message: "another update is in progress; retry", Err: err}
	case errors.Is(err, repo.ErrConflict):
		return &Error{Kind: KindConflict, Code: "conflict", Message: what + " conflicts with existing data", Err: err}
	case errors.Is(err, repo.ErrConstraint):
		return &Error{Kind: KindValidation, Code: "constraint_violated", Message: what + " violates a stock or range constraint", Err: err}
	}
	return err
}
