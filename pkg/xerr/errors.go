package xerr

import (
	"errors"
	"fmt"
	"net/http"
)

// 常用错误码定义
const (
	OK                 = 200
	RequestParamsError = 400
	Unauthenticated    = 401
	InsufficientFunds  = 402
	Unauthorized       = 403
	RecordNotFound     = 404
	TimelockNotElapsed = 423
	TooManyRequests    = 429
	ServerCommonError  = 500
	DbError            = 501
	ServiceBusy        = 503
)

type CodeError struct {
	Code  int    `json:"code"`
	Msg   string `json:"msg"`
	cause error
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

// Unwrap 让 errors.Is / errors.As 可以沿着 cause 继续匹配
func (e *CodeError) Unwrap() error { return e.cause }

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// Wrap 给 cause 套一层业务码和对外文案，cause 仍可被 errors.Is 命中
func Wrap(cause error, code int, msg string) error {
	if cause == nil {
		return nil
	}
	return &CodeError{Code: code, Msg: msg, cause: cause}
}

// As 取出链路上最外层的 CodeError
func As(err error) (*CodeError, bool) {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// CodeOf 非 CodeError 一律按 500 处理
func CodeOf(err error) int {
	if err == nil {
		return OK
	}
	if ce, ok := As(err); ok {
		return ce.Code
	}
	return ServerCommonError
}

// MessageOf 返回可以直接给调用方看的文案
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	if ce, ok := As(err); ok {
		return ce.Msg
	}
	return MapErrMsg(ServerCommonError)
}

func MapErrMsg(code int) string {
	switch code {
	case ServerCommonError:
		return "internal error"
	case RequestParamsError:
		return "invalid request parameters"
	case Unauthenticated:
		return "authentication required"
	case InsufficientFunds:
		return "insufficient funds"
	case Unauthorized:
		return "unauthorized"
	case TimelockNotElapsed:
		return "timelock not elapsed"
	case TooManyRequests:
		return "too many requests"
	case DbError:
		return "database busy"
	case RecordNotFound:
		return "record not found"
	case ServiceBusy:
		return "service busy"
	default:
		return "unknown error"
	}
}

// HTTPStatus 业务码到 HTTP 状态码
func HTTPStatus(code int) int {
	switch code {
	case OK:
		return http.StatusOK
	case RequestParamsError:
		return http.StatusBadRequest
	case Unauthenticated:
		return http.StatusUnauthorized
	case InsufficientFunds:
		return http.StatusPaymentRequired
	case Unauthorized:
		return http.StatusForbidden
	case RecordNotFound:
		return http.StatusNotFound
	case TimelockNotElapsed:
		return http.StatusLocked
	case TooManyRequests:
		return http.StatusTooManyRequests
	case ServiceBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
