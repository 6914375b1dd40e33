package errors

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapDBError_NilError(t *testing.T) {
	if err := MapDBError(nil); err != nil {
		t.Errorf("MapDBError(nil) = %v, want nil", err)
	}
}

func TestMapDBError_ContextErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode ErrorCode
	}{
		{"deadline exceeded", context.DeadlineExceeded, ErrCodeTimeout},
		{"canceled", context.Canceled, ErrCodeCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.err)
			if got := GetCode(err); got != tt.wantCode {
				t.Errorf("MapDBError() code = %v, want %v", got, tt.wantCode)
			}
			if !errors.Is(err, tt.err) {
				t.Error("mapped error should preserve the original cause")
			}
		})
	}
}

func TestMapDBError_NoRows(t *testing.T) {
	err := MapDBError(pgx.ErrNoRows)
	if !IsNotFound(err) {
		t.Errorf("MapDBError(pgx.ErrNoRows) should be NotFound, got %v", GetCode(err))
	}
}

func TestMapDBError_UniqueViolation(t *testing.T) {
	tests := []struct {
		name      string
		pgErr     *pgconn.PgError
		wantField string
	}{
		{
			name: "column name metadata",
			pgErr: &pgconn.PgError{
				Code:       pgerrcode.UniqueViolation,
				ColumnName: "id",
			},
			wantField: "id",
		},
		{
			name: "field from detail message",
			pgErr: &pgconn.PgError{
				Code:   pgerrcode.UniqueViolation,
				Detail: "Key (name)=(support-bot) already exists.",
			},
			wantField: "name",
		},
		{
			name: "no field information",
			pgErr: &pgconn.PgError{
				Code: pgerrcode.UniqueViolation,
			},
			wantField: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.pgErr)
			if !IsConflict(err) {
				t.Fatalf("unique violation should map to Conflict, got %v", GetCode(err))
			}
			if got := GetField(err); got != tt.wantField {
				t.Errorf("field = %q, want %q", got, tt.wantField)
			}
		})
	}
}

func TestMapDBError_NotNullViolation(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:       pgerrcode.NotNullViolation,
		ColumnName: "kind",
	}

	err := MapDBError(pgErr)
	if !IsValidation(err) {
		t.Fatalf("not-null violation should map to Validation, got %v", GetCode(err))
	}
	if got := GetField(err); got != "kind" {
		t.Errorf("field = %q, want %q", got, "kind")
	}
}

func TestMapDBError_CheckViolation(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:       pgerrcode.CheckViolation,
		ColumnName: "status",
	}

	err := MapDBError(pgErr)
	if !IsValidation(err) {
		t.Fatalf("check violation should map to Validation, got %v", GetCode(err))
	}
}

func TestMapDBError_UnhandledPgError(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code: pgerrcode.SerializationFailure,
	}

	err := MapDBError(pgErr)
	if !IsStoreFailure(err) {
		t.Fatalf("unhandled pg error should map to StoreFailure, got %v", GetCode(err))
	}
	var unwrapped *pgconn.PgError
	if !errors.As(err, &unwrapped) {
		t.Error("mapped error should preserve the PgError cause")
	}
}

func TestMapDBError_PassthroughNonDBError(t *testing.T) {
	plain := errors.New("not a database error")
	if err := MapDBError(plain); !errors.Is(err, plain) {
		t.Errorf("MapDBError should pass through non-database errors, got %v", err)
	}
}
