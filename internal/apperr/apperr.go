package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to react to it
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthorization
	KindNotFound
	KindInsufficientBalance
	KindSelfContact
	KindBackendUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindInsufficientBalance:
		return "insufficient_balance"
	case KindSelfContact:
		return "self_contact"
	case KindBackendUnavailable:
		return "backend_unavailable"
	default:
		return "internal"
	}
}

// Error is the error type returned by services and repositories.
// Detail is safe to show to an end user.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Detail
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels like ErrNotOwner work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Detail == "" {
		return t.Kind == e.Kind
	}
	return t.Kind == e.Kind && t.Detail == e.Detail
}

var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrAuthorization       = &Error{Kind: KindAuthorization}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrSelfContact         = &Error{Kind: KindSelfContact}
	ErrBackendUnavailable  = &Error{Kind: KindBackendUnavailable}

	ErrNotOwner       = &Error{Kind: KindAuthorization, Detail: "not the listing owner"}
	ErrNotParticipant = &Error{Kind: KindAuthorization, Detail: "not a participant"}
)

func Validation(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Detail: fmt.Sprintf(format, args...)}
}

func NotFound(op, what string) error {
	return &Error{Kind: KindNotFound, Op: op, Detail: what + " not found"}
}

func NotOwner(op string) error {
	return &Error{Kind: KindAuthorization, Op: op, Detail: ErrNotOwner.Detail}
}

func NotParticipant(op string) error {
	return &Error{Kind: KindAuthorization, Op: op, Detail: ErrNotParticipant.Detail}
}

func Unauthorized(op, detail string) error {
	return &Error{Kind: KindAuthorization, Op: op, Detail: detail}
}

func InsufficientBalance(op string, balance, cost int64) error {
	return &Error{
		Kind:   KindInsufficientBalance,
		Op:     op,
		Detail: fmt.Sprintf("insufficient balance: have %d, need %d", balance, cost),
	}
}

func SelfContact(op string) error {
	return &Error{Kind: KindSelfContact, Op: op, Detail: "cannot contact yourself"}
}

func Unavailable(op string, err error) error {
	return &Error{Kind: KindBackendUnavailable, Op: op, Detail: "backend unavailable", Err: err}
}

// KindOf reports the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// DetailOf returns the user facing part of err.
func DetailOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Detail != "" {
		return e.Detail
	}
	return "internal error"
}
