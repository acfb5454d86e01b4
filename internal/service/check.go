package service

import (
	"net/http"

	"telegram-dialogs/internal/biz/model"

	"go.uber.org/zap"
)

// CheckService 健康检查接口
type CheckService struct {
	uc model.CheckUseCase
	l  *zap.Logger
}

func NewCheckService(uc model.CheckUseCase, logger *zap.Logger) *CheckService {
	return &CheckService{
		uc: uc,
		l:  logger,
	}
}

func (s *CheckService) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.Ready)
	mux.HandleFunc("GET /{$}", s.Root)
}

func (s *CheckService) Ready(w http.ResponseWriter, r *http.Request) {
	reply, err := s.uc.Ready(r.Context(), model.HealthCheckReq{})
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, reply)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *CheckService) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "telegram-dialogs",
		"status":  "running",
	})
}
