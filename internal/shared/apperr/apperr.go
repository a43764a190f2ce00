// Package apperr 业务错误分类
package apperr

import (
	"errors"
	"fmt"
)

// Kind 错误类型（机器可读）
type Kind string

const (
	KindValidation            Kind = "validation"
	KindNotFound              Kind = "not_found"
	KindInvalidTransition     Kind = "invalid_state_transition"
	KindInsufficientInventory Kind = "insufficient_inventory"
	KindPermissionDenied      Kind = "permission_denied"
	KindBusinessLogic         Kind = "business_logic"
	KindConflict              Kind = "conflict"
	KindInternal              Kind = "internal"
)

// Error 业务错误
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is 按Kind匹配，使 errors.Is(err, apperr.ErrNotFound) 成立
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrValidation            = &Error{Kind: KindValidation}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrInvalidTransition     = &Error{Kind: KindInvalidTransition}
	ErrInsufficientInventory = &Error{Kind: KindInsufficientInventory}
	ErrPermissionDenied      = &Error{Kind: KindPermissionDenied}
	ErrBusinessLogic         = &Error{Kind: KindBusinessLogic}
	ErrConflict              = &Error{Kind: KindConflict}
)

func newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error {
	return newf(KindValidation, format, args...)
}

func NotFound(format string, args ...any) error {
	return newf(KindNotFound, format, args...)
}

func PermissionDenied(format string, args ...any) error {
	return newf(KindPermissionDenied, format, args...)
}

func BusinessLogic(format string, args ...any) error {
	return newf(KindBusinessLogic, format, args...)
}

func Conflict(format string, args ...any) error {
	return newf(KindConflict, format, args...)
}

// InsufficientInventory 可用库存不足
func InsufficientInventory(requested, available int) error {
	return &Error{
		Kind:    KindInsufficientInventory,
		Message: fmt.Sprintf("insufficient inventory: requested %d, available %d", requested, available),
	}
}

// TransitionError 非法状态流转，包含尝试的事件与当前状态
type TransitionError struct {
	Entity  string
	Event   string
	Current string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s from status %q", e.Entity, e.Event, e.Current)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// InvalidTransition 构造非法状态流转错误
func InvalidTransition(entity, event, current string) error {
	return &TransitionError{Entity: entity, Event: event, Current: current}
}

// Wrap 保留Kind并附加上下文
func Wrap(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf 返回错误类型，非业务错误返回 KindInternal
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var te *TransitionError
	if errors.As(err, &te) {
		return KindInvalidTransition
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
