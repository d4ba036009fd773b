package pir

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := NewError("configure", ErrCodeCompileFailure, "build log follows")
	want := "pir: build log follows (op=configure)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	err = NewErrorWithErrno("shm attach", ErrCodeSegmentAttach, syscall.EINVAL)
	if got := err.Error(); got == "" || err.Errno != syscall.EINVAL {
		t.Errorf("errno error malformed: %q", got)
	}
}

func TestErrorCodeMatching(t *testing.T) {
	err := NewError("read", ErrCodePoisoned, "")
	if !IsCode(err, ErrCodePoisoned) {
		t.Error("IsCode failed on direct error")
	}
	wrapped := fmt.Errorf("context: %w", err)
	if !IsCode(wrapped, ErrCodePoisoned) {
		t.Error("IsCode failed through wrapping")
	}
	if IsCode(wrapped, ErrCodeProtocol) {
		t.Error("IsCode matched the wrong code")
	}
	if IsCode(errors.New("plain"), ErrCodePoisoned) {
		t.Error("IsCode matched a plain error")
	}
}

func TestErrorsIsByCategory(t *testing.T) {
	err := WrapError("write", ErrCodeDeviceFailure, errors.New("transfer aborted"))
	if !errors.Is(err, &Error{Code: ErrCodeDeviceFailure}) {
		t.Error("errors.Is should match on category")
	}
}

func TestWrapErrorPreservesInnerCode(t *testing.T) {
	inner := NewError("launch", ErrCodeDeviceFailure, "queue gone")
	outer := WrapError("read", ErrCodeProtocol, inner)
	if outer.Code != ErrCodeDeviceFailure {
		t.Errorf("wrapping replaced the inner code: %s", outer.Code)
	}
}

func TestWrapErrorMapsErrno(t *testing.T) {
	err := WrapError("shm attach", ErrCodeSegmentAttach, syscall.EACCES)
	if err.Errno != syscall.EACCES {
		t.Errorf("errno not preserved: %v", err.Errno)
	}
}

func TestWrapErrorNil(t *testing.T) {
	if WrapError("op", ErrCodeProtocol, nil) != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestIsFatal(t *testing.T) {
	fatal := []ErrorCode{
		ErrCodeDeviceNotFound,
		ErrCodeCompileFailure,
		ErrCodeInsufficientMemory,
		ErrCodeRuntimeUnavailable,
	}
	for _, code := range fatal {
		if !IsFatal(NewError("configure", code, "")) {
			t.Errorf("%s should be fatal", code)
		}
	}
	recoverable := []ErrorCode{
		ErrCodeProtocol,
		ErrCodeDeviceFailure,
		ErrCodeNotConfigured,
		ErrCodePoisoned,
		ErrCodeSegmentAttach,
		ErrCodeSegmentTooSmall,
		ErrCodeInvalidParameters,
	}
	for _, code := range recoverable {
		if IsFatal(NewError("read", code, "")) {
			t.Errorf("%s should not be fatal", code)
		}
	}
	if IsFatal(errors.New("plain")) {
		t.Error("plain errors are not fatal")
	}
}
