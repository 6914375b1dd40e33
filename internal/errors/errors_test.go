package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "error without cause",
			err: &AppError{
				Code:    ErrCodeNotFound,
				Message: "agent not found",
			},
			want: "agent not found",
		},
		{
			name: "error with cause",
			err: &AppError{
				Code:    ErrCodeStoreFailure,
				Message: "update schedule failed",
				Cause:   errors.New("connection reset"),
			},
			want: "update schedule failed: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("AppError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &AppError{
		Code:    ErrCodeInternal,
		Message: "wrapped error",
		Cause:   cause,
	}

	if unwrapped := err.Unwrap(); !errors.Is(unwrapped, cause) {
		t.Errorf("AppError.Unwrap() = %v, want %v", unwrapped, cause)
	}
}

func TestConstructors_Codes(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		code ErrorCode
	}{
		{"NotFound", NotFound("agent missing"), ErrCodeNotFound},
		{"NotFoundf", NotFoundf("agent %s missing", "a1"), ErrCodeNotFound},
		{"NotScheduled", NotScheduled("no task"), ErrCodeNotScheduled},
		{"NotScheduledf", NotScheduledf("agent %s has no task", "a1"), ErrCodeNotScheduled},
		{"InvalidCron", InvalidCron("bad expr", errors.New("parse")), ErrCodeInvalidCron},
		{"AlreadyRunning", AlreadyRunning("agent-1"), ErrCodeAlreadyRunning},
		{"NotPaused", NotPaused("agent-1"), ErrCodeNotPaused},
		{"Conflict", Conflict("duplicate"), ErrCodeConflict},
		{"Conflictf", Conflictf("duplicate %s", "id"), ErrCodeConflict},
		{"Validation", Validation("bad input"), ErrCodeValidation},
		{"Validationf", Validationf("bad %s", "input"), ErrCodeValidation},
		{"StoreFailure", StoreFailure("get", errors.New("boom")), ErrCodeStoreFailure},
		{"Internal", Internal("oops"), ErrCodeInternal},
		{"Internalf", Internalf("oops %d", 2), ErrCodeInternal},
		{"New", New(ErrCodeTimeout, "slow"), ErrCodeTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %v, want %v", tt.err.Code, tt.code)
			}
		})
	}
}

func TestInvalidCron_FieldAndMessage(t *testing.T) {
	err := InvalidCron("61 * * * *", errors.New("minute out of range"))
	if err.Field != "cron" {
		t.Errorf("Field = %q, want %q", err.Field, "cron")
	}
	want := `invalid cron expression "61 * * * *": minute out of range`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestAlreadyRunning_Message(t *testing.T) {
	err := AlreadyRunning("support-bot")
	want := "agent support-bot is already running"
	if err.Message != want {
		t.Errorf("Message = %q, want %q", err.Message, want)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, ErrCodeInternal, "ignored") != nil {
		t.Error("Wrap(nil) should return nil")
	}

	cause := errors.New("db down")
	err := Wrap(cause, ErrCodeStoreFailure, "list agents")
	if err.Code != ErrCodeStoreFailure {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeStoreFailure)
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped error should match cause via errors.Is")
	}
}

func TestWrapf(t *testing.T) {
	cause := errors.New("bad state")
	err := Wrapf(cause, ErrCodeInternal, "agent %s tick %d", "a1", 3)
	if err.Message != "agent a1 tick 3" {
		t.Errorf("Message = %q", err.Message)
	}
	if Wrapf(nil, ErrCodeInternal, "x") != nil {
		t.Error("Wrapf(nil) should return nil")
	}
}

func TestIsHelpers(t *testing.T) {
	tests := []struct {
		name  string
		check func(error) bool
		err   error
		want  bool
	}{
		{"IsNotFound match", IsNotFound, NotFound("x"), true},
		{"IsNotFound wrapped", IsNotFound, fmt.Errorf("outer: %w", NotFound("x")), true},
		{"IsNotFound mismatch", IsNotFound, Conflict("x"), false},
		{"IsNotScheduled match", IsNotScheduled, NotScheduled("x"), true},
		{"IsInvalidCron match", IsInvalidCron, InvalidCron("x", nil), true},
		{"IsAlreadyRunning match", IsAlreadyRunning, AlreadyRunning("a"), true},
		{"IsNotPaused match", IsNotPaused, NotPaused("a"), true},
		{"IsConflict match", IsConflict, Conflict("x"), true},
		{"IsValidation match", IsValidation, Validation("x"), true},
		{"IsStoreFailure match", IsStoreFailure, StoreFailure("op", errors.New("e")), true},
		{"IsInternal match", IsInternal, Internal("x"), true},
		{"IsTimeout match", IsTimeout, New(ErrCodeTimeout, "x"), true},
		{"IsCanceled match", IsCanceled, New(ErrCodeCanceled, "x"), true},
		{"IsValidation mismatch", IsValidation, errors.New("plain"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.check(tt.err); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(AlreadyRunning("a")); got != ErrCodeAlreadyRunning {
		t.Errorf("GetCode = %v, want %v", got, ErrCodeAlreadyRunning)
	}
	if got := GetCode(errors.New("plain")); got != "" {
		t.Errorf("GetCode(plain) = %v, want empty", got)
	}
}

func TestGetField(t *testing.T) {
	if got := GetField(ValidationField("priority", "unknown value")); got != "priority" {
		t.Errorf("GetField = %q, want %q", got, "priority")
	}
	if got := GetField(errors.New("plain")); got != "" {
		t.Errorf("GetField(plain) = %q, want empty", got)
	}
}
