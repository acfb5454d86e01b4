package biz

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"telegram-dialogs/internal/biz/model"
	"telegram-dialogs/internal/conf"
	"telegram-dialogs/internal/data"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type AuthUseCase struct {
	pool    data.Pool
	limiter data.Limiter
	cfg     *conf.Auth
	secret  []byte
	l       *zap.Logger
}

func NewAuthUseCase(pool data.Pool, limiter data.Limiter, cfg *conf.Bootstrap, logger *zap.Logger) (model.AuthUseCase, error) {
	var secret []byte
	if cfg.Auth != nil && cfg.Auth.JwtSecret != "" {
		secret = []byte(cfg.Auth.JwtSecret)
	} else {
		// 生成默认密钥
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate jwt secret failed: %v", err)
		}
		logger.Warn("WARNING: Using auto-generated JWT secret, set auth.jwt_secret in config for production")
	}

	authCfg := cfg.Auth
	if authCfg == nil {
		authCfg = &conf.Auth{}
	}

	return &AuthUseCase{
		pool:    pool,
		limiter: limiter,
		cfg:     authCfg,
		secret:  secret,
		l:       logger,
	}, nil
}

func (uc *AuthUseCase) RequestLoginCode(ctx context.Context, phone string) (*model.LoginStart, error) {
	// 同一手机号的重复请求也要排队
	if err := uc.limiter.Wait(ctx, "login:"+phone); err != nil {
		return nil, model.NewAppError(model.KindTransient, err)
	}

	start, err := uc.pool.RequestLogin(ctx, phone)
	if err != nil {
		return nil, err
	}
	return start, nil
}

func (uc *AuthUseCase) CompleteLogin(ctx context.Context, tempID, phone, code, codeHash, password string) (*model.AuthResult, error) {
	if err := uc.limiter.Wait(ctx, "login:"+phone); err != nil {
		return nil, model.NewAppError(model.KindTransient, err)
	}

	profile, err := uc.pool.CompleteLogin(ctx, tempID, phone, code, codeHash, password)
	if err != nil {
		return nil, err
	}

	token, err := uc.generateJWT(profile.ID)
	if err != nil {
		return nil, fmt.Errorf("generate token failed: %v", err)
	}

	return &model.AuthResult{
		AccessToken: token,
		TokenType:   "bearer",
		User:        profile,
	}, nil
}

// ParseToken 校验访问令牌并取出稳定用户标识
func (uc *AuthUseCase) ParseToken(tokenStr string) (int64, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return uc.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, errors.New("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, errors.New("invalid token claims")
	}
	sub, ok := claims["sub"].(float64)
	if !ok {
		return 0, errors.New("invalid token subject")
	}
	return int64(sub), nil
}

func (uc *AuthUseCase) generateJWT(userID int64) (string, error) {
	expireHours := uc.cfg.JwtExpireHours
	if expireHours == 0 {
		expireHours = 24 // 默认24小时
	}

	claims := jwt.MapClaims{
		"sub": userID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Duration(expireHours) * time.Hour).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(uc.secret)
}
