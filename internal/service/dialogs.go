package service

import (
	"net/http"
	"strconv"
	"strings"

	"telegram-dialogs/internal/biz/model"

	"go.uber.org/zap"
)

// DialogService 提供会话与消息接口，全部要求 Bearer 令牌
type DialogService struct {
	auth model.AuthUseCase
	uc   model.DialogUseCase
	l    *zap.Logger
}

func NewDialogService(auth model.AuthUseCase, uc model.DialogUseCase, logger *zap.Logger) *DialogService {
	return &DialogService{
		auth: auth,
		uc:   uc,
		l:    logger,
	}
}

func (s *DialogService) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/dialogs", s.withUser(s.ListDialogs))
	mux.HandleFunc("GET /api/v1/dialogs/{id}/messages", s.withUser(s.ListMessages))
	mux.HandleFunc("POST /api/v1/dialogs/{id}/messages", s.withUser(s.SendMessage))
}

// withUser 校验 Authorization 头并把稳定用户标识传给处理函数
func (s *DialogService) withUser(next func(http.ResponseWriter, *http.Request, int64)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{
				Code:    "unauthorized",
				Message: "missing bearer token",
			})
			return
		}

		userID, err := s.auth.ParseToken(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{
				Code:    "unauthorized",
				Message: err.Error(),
			})
			return
		}
		next(w, r, userID)
	}
}

func (s *DialogService) ListDialogs(w http.ResponseWriter, r *http.Request, userID int64) {
	force := queryBool(r, "force_refresh")

	dialogs, err := s.uc.ListDialogs(r.Context(), userID, force)
	if err != nil {
		writeError(w, s.l, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dialogs": dialogs})
}

func (s *DialogService) ListMessages(w http.ResponseWriter, r *http.Request, userID int64) {
	dialogID, ok := pathID(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit")
	offsetID := queryInt(r, "offset_id")
	force := queryBool(r, "force_refresh")

	messages, err := s.uc.ListMessages(r.Context(), userID, dialogID, limit, offsetID, force)
	if err != nil {
		writeError(w, s.l, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

type sendMessageRequest struct {
	Text    string `json:"text"`
	ReplyTo int    `json:"reply_to"`
}

func (s *DialogService) SendMessage(w http.ResponseWriter, r *http.Request, userID int64) {
	dialogID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Code:    "bad_request",
			Message: "text is required",
		})
		return
	}

	sent, err := s.uc.SendMessage(r.Context(), userID, dialogID, req.Text, req.ReplyTo)
	if err != nil {
		writeError(w, s.l, err)
		return
	}
	writeJSON(w, http.StatusOK, sent)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Code:    "bad_request",
			Message: "invalid dialog id",
		})
		return 0, false
	}
	return id, true
}

func queryBool(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

func queryInt(r *http.Request, name string) int {
	v, _ := strconv.Atoi(r.URL.Query().Get(name))
	return v
}
