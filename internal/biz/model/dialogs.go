package model

import (
	"context"
	"time"
)

// Dialog 会话列表项，结构与前端约定保持一致
type Dialog struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Type        string       `json:"type"`
	UnreadCount int          `json:"unread_count"`
	LastMessage *LastMessage `json:"last_message,omitempty"`
}

type LastMessage struct {
	Text string    `json:"text"`
	Date time.Time `json:"date"`
}

type Message struct {
	ID           int       `json:"id"`
	Text         string    `json:"text"`
	Date         time.Time `json:"date"`
	Out          bool      `json:"out"`
	ReplyToMsgID int       `json:"reply_to_msg_id,omitempty"`
	FromID       int64     `json:"from_id,omitempty"`
}

// SentMessage 发送成功后的回显
type SentMessage struct {
	ID   int       `json:"id"`
	Text string    `json:"text"`
	Date time.Time `json:"date"`
	Out  bool      `json:"out"`
}

// DialogUseCase 会话/消息用例接口
type DialogUseCase interface {
	ListDialogs(ctx context.Context, userID int64, forceRefresh bool) ([]Dialog, error)
	ListMessages(ctx context.Context, userID, dialogID int64, limit, offsetID int, forceRefresh bool) ([]Message, error)
	SendMessage(ctx context.Context, userID, dialogID int64, text string, replyTo int) (*SentMessage, error)
}
