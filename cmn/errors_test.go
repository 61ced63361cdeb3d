package cmn

import (
	"errors"
	"testing"
)

func TestErrorKindAndCode(t *testing.T) {
	cases := []struct {
		err  *Error
		kind Kind
		code int
	}{
		{Unauthorized("x"), KindUnauthorized, 401},
		{NotFound("x"), KindNotFound, 404},
		{InvalidArgument("x"), KindInvalidArgument, 422},
		{Conflict("x"), KindConflict, 409},
		{ResourceExhausted("x"), KindResourceExhausted, 429},
		{Internal("x"), KindInternal, 500},
	}
	for _, tc := range cases {
		if tc.err.Kind != tc.kind {
			t.Errorf("%v: got kind %v, want %v", tc.err, tc.err.Kind, tc.kind)
		}
		if tc.err.Code() != tc.code {
			t.Errorf("%v: got code %d, want %d", tc.err, tc.err.Code(), tc.code)
		}
	}
}

func TestErrorMessageHygiene(t *testing.T) {
	cause := errors.New("raw substrate fault: disk full at sector 12")
	wrapped := WrapInternal(cause, "save capsule")
	if wrapped.Error() != "internal: save capsule" {
		t.Errorf("Error() leaked the wrapped cause: %q", wrapped.Error())
	}
	if wrapped.Cause() == nil {
		t.Error("Cause() should still expose the wrapped fault for internal logging")
	}
}

func TestIsKind(t *testing.T) {
	err := NotFound("capsule")
	if !IsKind(err, KindNotFound) {
		t.Error("IsKind should match the constructed Kind")
	}
	if IsKind(err, KindConflict) {
		t.Error("IsKind should not match a different Kind")
	}
	if IsKind(errors.New("plain"), KindNotFound) {
		t.Error("IsKind should reject non-*Error values")
	}
}
