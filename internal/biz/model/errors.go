package model

import (
	"errors"
	"fmt"
)

// Kind 是对后端失败的统一分类，Service 层据此映射 HTTP 状态码
type Kind int

const (
	// KindTransient 其余后端/传输故障，可退避重试
	KindTransient Kind = iota
	// KindRateLimited 后端要求冷却，附带建议等待秒数
	KindRateLimited
	// KindAccountBanned 账号被封禁，不可重试
	KindAccountBanned
	// KindAuthorizationLost 会话失效，需要重新登录
	KindAuthorizationLost
	// KindLoginExpired 临时登录标识不存在，需从头开始登录
	KindLoginExpired
	// KindPasswordRequired 需要两步验证密码，可携带密码重试
	KindPasswordRequired
	// KindInvalidCode 验证码被拒绝，可用新验证码重试
	KindInvalidCode
	// KindStoreUnavailable 会话目录不可写，属于部署故障
	KindStoreUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindAccountBanned:
		return "account_banned"
	case KindAuthorizationLost:
		return "authorization_lost"
	case KindLoginExpired:
		return "login_expired"
	case KindPasswordRequired:
		return "password_required"
	case KindInvalidCode:
		return "invalid_code"
	case KindStoreUnavailable:
		return "store_unavailable"
	default:
		return "transient"
	}
}

// AppError 携带分类的业务错误
type AppError struct {
	Kind        Kind
	WaitSeconds int
	Err         error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError 构造指定分类的错误
func NewAppError(kind Kind, err error) *AppError {
	return &AppError{Kind: kind, Err: err}
}

// NewRateLimited 构造带等待提示的限流错误
func NewRateLimited(seconds int, err error) *AppError {
	return &AppError{Kind: KindRateLimited, WaitSeconds: seconds, Err: err}
}

// KindOf 取出错误的分类，未分类的错误一律视为 KindTransient
func KindOf(err error) Kind {
	if appErr, ok := asAppError(err); ok {
		return appErr.Kind
	}
	return KindTransient
}

// WaitSecondsOf 取出限流错误的等待秒数，没有则为 0
func WaitSecondsOf(err error) int {
	if appErr, ok := asAppError(err); ok {
		return appErr.WaitSeconds
	}
	return 0
}

func asAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
