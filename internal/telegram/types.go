package telegram

import (
	"context"
	"time"
)

// Profile 已登录账号的资料
type Profile struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
	Phone     string
}

// Dialog 会话元信息，Type 取 user/group/channel/supergroup
type Dialog struct {
	ID          int64
	Name        string
	Type        string
	UnreadCount int
	LastMessage *LastMessage
}

type LastMessage struct {
	Text string
	Date time.Time
}

type Message struct {
	ID           int
	Text         string
	Date         time.Time
	Out          bool
	ReplyToMsgID int
	FromID       int64
}

// Client 是对 Telegram 后端的抽象。连接是有状态的：每个实例
// 绑定一个会话文件路径，由实现负责读写该文件中的凭据。
type Client interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	IsAuthorized(ctx context.Context) (bool, error)

	// RequestLoginCode 请求发送验证码，返回后续登录所需的 code hash
	RequestLoginCode(ctx context.Context, phone string) (string, error)
	// SignIn 使用验证码登录；账号开启两步验证时返回 ErrPasswordNeeded
	SignIn(ctx context.Context, phone, code, codeHash string) (*Profile, error)
	SignInWithPassword(ctx context.Context, password string) (*Profile, error)
	GetProfile(ctx context.Context) (*Profile, error)

	ListDialogs(ctx context.Context, limit int) ([]Dialog, error)
	ListMessages(ctx context.Context, dialogID int64, limit, offsetID int) ([]Message, error)
	SendMessage(ctx context.Context, dialogID int64, text string, replyTo int) (*Message, error)
}

// Factory 根据会话文件路径创建客户端实例
type Factory func(sessionPath string) Client
