package account

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKinds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind error
		msg  string
	}{
		{"op", OpError{Op: "account.Create", Kind: ErrInvalidInput, Msg: "invalid username"}, ErrInvalidInput, "account.Create: invalid_input: invalid username"},
		{"conflict", ConflictError{Op: "account.Create", Field: "username"}, ErrConflict, "account.Create: conflict: username"},
		{"not found", NotFoundError{Op: "account.Delete", Username: "x"}, ErrNotFound, "account.Delete: not_found: x"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tc.err)
			if !errors.Is(wrapped, tc.kind) {
				t.Fatalf("expected errors.Is(%v, %v)", wrapped, tc.kind)
			}
			if tc.err.Error() != tc.msg {
				t.Fatalf("message mismatch: %q", tc.err.Error())
			}
		})
	}

	if IsVersionConflict(ConflictError{Op: "x", Field: "username"}) {
		t.Fatalf("username conflict is not a version conflict")
	}
	if !IsVersionConflict(fmt.Errorf("w: %w", ConflictError{Op: "x", Field: "version"})) {
		t.Fatalf("expected version conflict")
	}
}

func TestValidUsername(t *testing.T) {
	good := []string{"alice", "a.b-c_d", "user@example.com", "x+1"}
	bad := []string{"", "has space", "semi;colon", string(make([]byte, MaxUsernameLen+1))}
	for _, s := range good {
		if !ValidUsername(s) {
			t.Fatalf("expected %q valid", s)
		}
	}
	for _, s := range bad {
		if ValidUsername(s) {
			t.Fatalf("expected %q invalid", s)
		}
	}
}
