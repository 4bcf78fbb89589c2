package okx

import (
	"fmt"
	"net/http"
)

// APIError OKX HTTP/业务错误，Transient 标注是否可重试
type APIError struct {
	Status int
	Code   string
	Msg    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("okx api error %d (code %s): %s", e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("okx http %d: %s", e.Status, e.Msg)
}

// Transient 服务端错误与限频可重试，其余视为永久失败
func (e *APIError) Transient() bool {
	return e.Status >= http.StatusInternalServerError || e.Status == http.StatusTooManyRequests
}

// transportError 网络层失败（连接/超时），始终可重试
type transportError struct {
	err error
}

func (e *transportError) Error() string   { return "okx transport: " + e.err.Error() }
func (e *transportError) Unwrap() error   { return e.err }
func (e *transportError) Transient() bool { return true }
