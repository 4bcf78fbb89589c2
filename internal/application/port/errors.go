package port

import "errors"

// TransientError 可重试的瞬时性错误（网络/超时/5xx/限频）由交易所客户端标注
type TransientError interface {
	error
	Transient() bool
}

// IsTransient reports whether err is retry-eligible.
func IsTransient(err error) bool {
	var te TransientError
	if errors.As(err, &te) {
		return te.Transient()
	}
	return false
}
