package errs

import (
	"fmt"

	pkgerr "github.com/pkg/errors"
)

func ErrPanic(r any) error {
	return ErrPanicMsg(r, CodeUnavailable, "panic error")
}

func ErrPanicMsg(r any, code int, msg string) error {
	if r == nil {
		return nil
	}
	err := &CodeError{
		Code:   code,
		Msg:    msg,
		Detail: fmt.Sprint(r),
	}
	return pkgerr.WithStack(err)
}
