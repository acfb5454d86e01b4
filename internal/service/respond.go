package service

import (
	"encoding/json"
	"net/http"

	"telegram-dialogs/internal/biz/model"

	"go.uber.org/zap"
)

// errorBody 错误响应体，code 供前端做机器判断
type errorBody struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	WaitSeconds int    `json:"wait_seconds,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError 按错误分类映射 HTTP 状态码
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	kind := model.KindOf(err)

	var status int
	switch kind {
	case model.KindRateLimited:
		status = http.StatusTooManyRequests
	case model.KindAccountBanned:
		status = http.StatusForbidden
	case model.KindAuthorizationLost, model.KindLoginExpired, model.KindPasswordRequired:
		status = http.StatusUnauthorized
	case model.KindInvalidCode:
		status = http.StatusBadRequest
	case model.KindStoreUnavailable:
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusBadGateway
	}

	if status >= 500 {
		logger.Error("request failed", zap.String("code", kind.String()), zap.Error(err))
	}

	writeJSON(w, status, errorBody{
		Code:        kind.String(),
		Message:     err.Error(),
		WaitSeconds: model.WaitSecondsOf(err),
	})
}

// decodeJSON 解析请求体，失败时直接响应 400
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Code:    "bad_request",
			Message: "invalid request body",
		})
		return false
	}
	return true
}
