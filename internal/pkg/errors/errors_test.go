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
			name: "without wrapped error",
			err:  New(CodeValidation, "invalid input"),
			want: "VALIDATION_ERROR: invalid input",
		},
		{
			name: "with wrapped error",
			err:  Wrap(CodeInternal, "something failed", errors.New("underlying")),
			want: "INTERNAL_ERROR: something failed: underlying",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(CodeInternal, "wrapped", underlying)

	if unwrapped := err.Unwrap(); unwrapped != underlying {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, underlying)
	}
	if !errors.Is(err, underlying) {
		t.Error("errors.Is should find the wrapped error")
	}
}

func TestAppError_WithDetail(t *testing.T) {
	err := New(CodeValidation, "invalid").
		WithDetail("column", "clicked").
		WithDetail("reason", "negative")

	if err.Details["column"] != "clicked" {
		t.Errorf("Details[column] = %s, want clicked", err.Details["column"])
	}

	if err.Details["reason"] != "negative" {
		t.Errorf("Details[reason] = %s, want negative", err.Details["reason"])
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		code string
	}{
		{"ValidationError", ValidationError("bad input"), CodeValidation},
		{"NotFoundError", NotFoundError("dataset"), CodeNotFound},
		{"AlreadyExistsError", AlreadyExistsError("dataset"), CodeAlreadyExists},
		{"InternalError", InternalError("failed", errors.New("x")), CodeInternal},
		{"StorageError", StorageError("insert failed", errors.New("x")), CodeStorage},
		{"IngestError", IngestError("bad row", errors.New("x")), CodeIngest},
		{"ModelIntegrityError", ModelIntegrityError("violation", errors.New("x")), CodeModelIntegrity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %s, want %s", tt.err.Code, tt.code)
			}
		})
	}

	if msg := NotFoundError("dataset").Message; msg != "dataset not found" {
		t.Errorf("Message = %s, want 'dataset not found'", msg)
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(NotFoundError("test")) {
		t.Error("IsNotFound(NotFoundError) = false, want true")
	}
	if IsNotFound(ValidationError("test")) {
		t.Error("IsNotFound(ValidationError) = true, want false")
	}
	if IsNotFound(errors.New("standard error")) {
		t.Error("IsNotFound(standard error) = true, want false")
	}
	if IsNotFound(nil) {
		t.Error("IsNotFound(nil) = true, want false")
	}
}

func TestIsModelIntegrity_Wrapped(t *testing.T) {
	inner := ModelIntegrityError("attractiveness out of range", errors.New("row 3"))
	outer := fmt.Errorf("training: %w", inner)

	if !IsModelIntegrity(outer) {
		t.Error("IsModelIntegrity should see through fmt.Errorf wrapping")
	}
	if IsValidation(outer) {
		t.Error("IsValidation(model integrity) = true, want false")
	}
}

func TestHasCode_NestedAppErrors(t *testing.T) {
	err := StorageError("load failed", NotFoundError("dataset"))

	if !IsNotFound(err) {
		t.Error("IsNotFound should find a nested NOT_FOUND code")
	}
	if !HasCode(err, CodeStorage) {
		t.Error("HasCode should match the outer code")
	}
	if IsAlreadyExists(err) {
		t.Error("IsAlreadyExists = true, want false")
	}
}
