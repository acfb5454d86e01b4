package telegram

import (
	"errors"
	"fmt"
)

// 后端错误值，由上层统一归类
var (
	// ErrUnauthorized 会话凭据失效或未授权
	ErrUnauthorized = errors.New("telegram: not authorized")

	// ErrUserDeactivated 账号被封禁或注销
	ErrUserDeactivated = errors.New("telegram: user deactivated")

	// ErrPasswordNeeded 需要两步验证密码
	ErrPasswordNeeded = errors.New("telegram: two-step password needed")

	// ErrPasswordInvalid 两步验证密码错误
	ErrPasswordInvalid = errors.New("telegram: two-step password invalid")

	// ErrCodeInvalid 验证码错误或已过期
	ErrCodeInvalid = errors.New("telegram: phone code invalid")
)

// FloodWaitError 后端要求冷却，Seconds 为建议的等待秒数
type FloodWaitError struct {
	Seconds int
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("telegram: flood wait %d seconds", e.Seconds)
}
