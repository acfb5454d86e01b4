package biz

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"telegram-dialogs/internal/biz/model"
	"telegram-dialogs/internal/conf"
	"telegram-dialogs/internal/data"
	"telegram-dialogs/internal/telegram"

	"go.uber.org/zap"
)

const (
	defaultDialogsTTL  = 60 * time.Second
	defaultMessagesTTL = 15 * time.Second
	defaultPageLimit   = 20
)

type DialogUseCase struct {
	pool        data.Pool
	cache       data.ResultCache
	limiter     data.Limiter
	dialogsTTL  time.Duration
	messagesTTL time.Duration
	listLimit   int
	l           *zap.Logger
}

func NewDialogUseCase(pool data.Pool, cache data.ResultCache, limiter data.Limiter,
	cfg *conf.Bootstrap, logger *zap.Logger,
) (model.DialogUseCase, error) {
	dialogsTTL := defaultDialogsTTL
	messagesTTL := defaultMessagesTTL
	if cfg.Cache != nil {
		if cfg.Cache.DialogsTtlSeconds > 0 {
			dialogsTTL = time.Duration(cfg.Cache.DialogsTtlSeconds) * time.Second
		}
		if cfg.Cache.MessagesTtlSeconds > 0 {
			messagesTTL = time.Duration(cfg.Cache.MessagesTtlSeconds) * time.Second
		}
	}

	return &DialogUseCase{
		pool:        pool,
		cache:       cache,
		limiter:     limiter,
		dialogsTTL:  dialogsTTL,
		messagesTTL: messagesTTL,
		listLimit:   cfg.Telegram.DialogsLimitOrDefault(),
		l:           logger,
	}, nil
}

func (uc *DialogUseCase) ListDialogs(ctx context.Context, userID int64, forceRefresh bool) ([]model.Dialog, error) {
	key := data.DialogsKey(userID)

	if !forceRefresh {
		if raw, ok := uc.cache.Get(ctx, key); ok {
			var dialogs []model.Dialog
			if err := json.Unmarshal(raw, &dialogs); err == nil {
				return dialogs, nil
			}
			// 反序列化失败按未命中处理，键会被新结果覆盖
			uc.l.Warn("dropping undecodable cache entry", zap.String("key", key))
		}
	}

	client, err := uc.acquire(ctx, userID)
	if err != nil {
		return nil, err
	}

	raw, err := client.ListDialogs(ctx, uc.listLimit)
	if err != nil {
		return nil, uc.pool.Classify(ctx, userID, err)
	}

	dialogs := make([]model.Dialog, 0, len(raw))
	for _, d := range raw {
		dialogs = append(dialogs, toModelDialog(d))
	}

	// 强制刷新同样回填缓存，后续读取从这份新结果算 TTL
	uc.putJSON(ctx, key, dialogs, uc.dialogsTTL)
	return dialogs, nil
}

func (uc *DialogUseCase) ListMessages(ctx context.Context, userID, dialogID int64, limit, offsetID int, forceRefresh bool) ([]model.Message, error) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	key := data.MessagesKey(userID, dialogID, limit, offsetID)

	if !forceRefresh {
		if raw, ok := uc.cache.Get(ctx, key); ok {
			var messages []model.Message
			if err := json.Unmarshal(raw, &messages); err == nil {
				return messages, nil
			}
			uc.l.Warn("dropping undecodable cache entry", zap.String("key", key))
		}
	}

	client, err := uc.acquire(ctx, userID)
	if err != nil {
		return nil, err
	}

	raw, err := client.ListMessages(ctx, dialogID, limit, offsetID)
	if err != nil {
		return nil, uc.pool.Classify(ctx, userID, err)
	}

	messages := make([]model.Message, 0, len(raw))
	for _, m := range raw {
		messages = append(messages, toModelMessage(m))
	}

	uc.putJSON(ctx, key, messages, uc.messagesTTL)
	return messages, nil
}

func (uc *DialogUseCase) SendMessage(ctx context.Context, userID, dialogID int64, text string, replyTo int) (*model.SentMessage, error) {
	client, err := uc.acquire(ctx, userID)
	if err != nil {
		return nil, err
	}

	sent, err := client.SendMessage(ctx, dialogID, text, replyTo)
	if err != nil {
		return nil, uc.pool.Classify(ctx, userID, err)
	}

	// 发送成功后该会话的所有消息页都过时了
	uc.cache.InvalidatePrefix(ctx, data.MessagesPrefix(userID, dialogID))

	return &model.SentMessage{
		ID:   sent.ID,
		Text: sent.Text,
		Date: sent.Date,
		Out:  sent.Out,
	}, nil
}

// acquire 先过限速再取连接，所有后端访问共用这条路径
func (uc *DialogUseCase) acquire(ctx context.Context, userID int64) (telegram.Client, error) {
	if err := uc.limiter.Wait(ctx, strconv.FormatInt(userID, 10)); err != nil {
		return nil, model.NewAppError(model.KindTransient, err)
	}
	return uc.pool.Acquire(ctx, userID)
}

func (uc *DialogUseCase) putJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		uc.l.Warn("failed to encode cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	uc.cache.Put(ctx, key, raw, ttl)
}

func toModelDialog(d telegram.Dialog) model.Dialog {
	out := model.Dialog{
		ID:          d.ID,
		Name:        d.Name,
		Type:        d.Type,
		UnreadCount: d.UnreadCount,
	}
	if d.LastMessage != nil {
		out.LastMessage = &model.LastMessage{
			Text: d.LastMessage.Text,
			Date: d.LastMessage.Date,
		}
	}
	return out
}

func toModelMessage(m telegram.Message) model.Message {
	return model.Message{
		ID:           m.ID,
		Text:         m.Text,
		Date:         m.Date,
		Out:          m.Out,
		ReplyToMsgID: m.ReplyToMsgID,
		FromID:       m.FromID,
	}
}
