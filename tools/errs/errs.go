package errs

import (
	"fmt"

	pkgerr "github.com/pkg/errors"
)

// New 构造一个带调用栈的普通错误（无错误码）。
func New(format string, args ...any) error {
	if len(args) == 0 {
		return pkgerr.New(format)
	}
	return pkgerr.New(fmt.Sprintf(format, args...))
}

// Wrap 仅补调用栈。
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return pkgerr.WithStack(err)
}

// WrapMsg 补调用栈并附加 msg 与 kv 细节。
func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return pkgerr.WithMessage(pkgerr.WithStack(err), toString(msg, kv))
}
