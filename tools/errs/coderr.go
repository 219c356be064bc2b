package errs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	pkgerr "github.com/pkg/errors"
)

// 错误码按域划分：1xxx=调用方问题，2xxx=状态/冲突，3xxx=基础设施。
const (
	CodeInvalidArgument  = 1001
	CodePermissionDenied = 1002
	CodeNotFound         = 1003
	CodeConflict         = 2001
	CodeInvalidState     = 2002
	CodeUnavailable      = 3001
)

// 预定义错误：各模块统一用这些值做 WrapMsg / Is 判定。
var (
	ErrInvalidArgument  = NewCodeError(CodeInvalidArgument, "invalid argument")
	ErrPermissionDenied = NewCodeError(CodePermissionDenied, "permission denied")
	ErrNotFound         = NewCodeError(CodeNotFound, "not found")
	ErrConflict         = NewCodeError(CodeConflict, "conflict")
	ErrInvalidState     = NewCodeError(CodeInvalidState, "invalid state")
	ErrUnavailable      = NewCodeError(CodeUnavailable, "unavailable")
)

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{
		Code: code,
		Msg:  msg,
	}
}

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e *CodeError) clone() *CodeError {
	return &CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: e.Detail,
	}
}

// WithDetail 追加细节，返回新副本，不改动预定义值。
func (e *CodeError) WithDetail(detail string) *CodeError {
	c := e.clone()
	if c.Detail == "" {
		c.Detail = detail
	} else {
		c.Detail = c.Detail + ", " + detail
	}
	return c
}

// WrapMsg 追加 msg 与 kv 细节并带上调用栈。
func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	c := e.clone()
	if msg != "" || len(kv) > 0 {
		detail := toString(msg, kv)
		if c.Detail == "" {
			c.Detail = detail
		} else {
			c.Detail += ", " + detail
		}
	}
	return pkgerr.WithStack(c)
}

// Is 按错误码匹配，供 errors.Is 使用。
func (e *CodeError) Is(err error) bool {
	var codeErr *CodeError
	if !errors.As(err, &codeErr) {
		return false
	}
	return e.Code == codeErr.Code
}

const initialCapacity = 3

func (e *CodeError) Error() string {
	v := make([]string, 0, initialCapacity)
	v = append(v, strconv.Itoa(e.Code), e.Msg)

	if e.Detail != "" {
		v = append(v, e.Detail)
	}

	return strings.Join(v, " ")
}

// Code 提取错误中的错误码；非 CodeError 视为 Unavailable（基础设施侧错误）。
func Code(err error) int {
	if err == nil {
		return 0
	}
	var codeErr *CodeError
	if errors.As(err, &codeErr) {
		return codeErr.Code
	}
	return CodeUnavailable
}

func IsCode(err error, code int) bool { return Code(err) == code }

func toString(msg string, kv []any) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if i+1 >= len(kv) {
			break
		}
		b.WriteString(" ")
		b.WriteString(fmt.Sprintf("%v", kv[i]))
		b.WriteString("=")
		b.WriteString(fmt.Sprintf("%v", kv[i+1]))
	}
	return b.String()
}
