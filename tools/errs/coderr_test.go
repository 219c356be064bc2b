package errs

import (
	"errors"
	"testing"
)

func TestCodeErrorIs(t *testing.T) {
	err := ErrConflict.WrapMsg("duplicate direct conversation", "pair", "p2p:a:b")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("wrapped conflict should match ErrConflict: %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("conflict must not match ErrNotFound")
	}
}

func TestCodeExtraction(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"invalid argument", ErrInvalidArgument.WrapMsg("empty text"), CodeInvalidArgument},
		{"permission", ErrPermissionDenied.WrapMsg("not a participant", "user", "u1"), CodePermissionDenied},
		{"plain error maps to unavailable", New("dial tcp refused"), CodeUnavailable},
		{"double wrapped", WrapMsg(ErrInvalidState.WrapMsg("already accepted"), "accept"), CodeInvalidState},
	}
	for _, c := range cases {
		if got := Code(c.err); got != c.want {
			t.Errorf("%s: Code=%d want %d", c.name, got, c.want)
		}
	}
}

func TestWrapMsgKeepsDetail(t *testing.T) {
	err := ErrConflict.WrapMsg("username taken", "username", "alice")
	var ce *CodeError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CodeError in chain")
	}
	if ce.Detail == "" {
		t.Fatalf("detail lost")
	}
	// 预定义值不能被污染
	if ErrConflict.Detail != "" {
		t.Fatalf("sentinel mutated: %q", ErrConflict.Detail)
	}
}

func TestErrPanic(t *testing.T) {
	if ErrPanicMsg(nil, CodeUnavailable, "x") != nil {
		t.Fatal("nil recover should produce nil error")
	}
	err := ErrPanic("boom")
	if Code(err) != CodeUnavailable {
		t.Fatalf("panic error code=%d", Code(err))
	}
}
