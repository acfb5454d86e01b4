package service

import (
	"net/http"
	"strings"

	"telegram-dialogs/internal/biz/model"

	"go.uber.org/zap"
)

// AuthService 提供登录相关接口
type AuthService struct {
	uc model.AuthUseCase
	l  *zap.Logger
}

func NewAuthService(uc model.AuthUseCase, logger *zap.Logger) *AuthService {
	return &AuthService{
		uc: uc,
		l:  logger,
	}
}

func (s *AuthService) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/auth/phone-auth", s.PhoneAuth)
	mux.HandleFunc("POST /api/v1/auth/code-auth", s.CodeAuth)
}

type phoneAuthRequest struct {
	PhoneNumber string `json:"phone_number"`
}

// PhoneAuth 请求向手机号发送验证码
func (s *AuthService) PhoneAuth(w http.ResponseWriter, r *http.Request) {
	var req phoneAuthRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	phone := strings.TrimSpace(req.PhoneNumber)
	if phone == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Code:    "bad_request",
			Message: "phone_number is required",
		})
		return
	}

	start, err := s.uc.RequestLoginCode(r.Context(), phone)
	if err != nil {
		writeError(w, s.l, err)
		return
	}
	writeJSON(w, http.StatusOK, start)
}

type codeAuthRequest struct {
	TempUserID    string `json:"temp_user_id"`
	PhoneNumber   string `json:"phone_number"`
	Code          string `json:"code"`
	PhoneCodeHash string `json:"phone_code_hash"`
	Password      string `json:"password"`
}

// CodeAuth 用验证码（和可选的两步验证密码）完成登录
func (s *AuthService) CodeAuth(w http.ResponseWriter, r *http.Request) {
	var req codeAuthRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TempUserID == "" || req.PhoneNumber == "" || req.Code == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Code:    "bad_request",
			Message: "temp_user_id, phone_number and code are required",
		})
		return
	}

	result, err := s.uc.CompleteLogin(r.Context(),
		req.TempUserID, req.PhoneNumber, req.Code, req.PhoneCodeHash, req.Password)
	if err != nil {
		writeError(w, s.l, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
