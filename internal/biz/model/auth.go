package model

import "context"

// Profile 登录成功后返回的账号资料
type Profile struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// LoginStart 请求验证码的结果，TempUserID 用于完成后续登录
type LoginStart struct {
	TempUserID    string `json:"temp_user_id"`
	PhoneCodeHash string `json:"phone_code_hash"`
}

// AuthResult 登录完成后的访问令牌
type AuthResult struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	User        *Profile `json:"user"`
}

// AuthUseCase 认证用例接口
type AuthUseCase interface {
	RequestLoginCode(ctx context.Context, phone string) (*LoginStart, error)
	CompleteLogin(ctx context.Context, tempID, phone, code, codeHash, password string) (*AuthResult, error)
	// ParseToken 校验访问令牌并返回其中的稳定用户标识
	ParseToken(token string) (int64, error)
}
