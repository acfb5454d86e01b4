package telegram

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"telegram-dialogs/internal/conf"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module 提供 Fx 模块
var Module = fx.Module("telegram",
	fx.Provide(NewBridgeFactory),
)

const (
	defaultBridgeURL     = "http://127.0.0.1:8081"
	bridgeRequestTimeout = 30 * time.Second
	sessionFileMode      = 0o600
)

// bridgeError 桥接服务返回的错误载荷
type bridgeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Seconds int    `json:"seconds"`
}

type bridgeUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	Phone     string `json:"phone"`
}

type bridgeLastMessage struct {
	Text string    `json:"text"`
	Date time.Time `json:"date"`
}

type bridgeDialog struct {
	ID          int64              `json:"id"`
	Name        string             `json:"name"`
	Type        string             `json:"type"`
	UnreadCount int                `json:"unread_count"`
	LastMessage *bridgeLastMessage `json:"last_message"`
}

type bridgeMessage struct {
	ID           int       `json:"id"`
	Text         string    `json:"text"`
	Date         time.Time `json:"date"`
	Out          bool      `json:"out"`
	ReplyToMsgID int       `json:"reply_to_msg_id"`
	FromID       int64     `json:"from_id"`
}

// NewBridgeFactory 创建基于 MTProto 桥接服务的客户端工厂。
// 桥接服务持有真正的协议实现；本进程只负责会话凭据文件与
// HTTP 调用。所有连接共享一个熔断器，保护桥接服务本身。
func NewBridgeFactory(c *conf.Bootstrap, logger *zap.Logger) Factory {
	baseURL := defaultBridgeURL
	var apiID int32
	var apiHash string
	if c != nil && c.Telegram != nil {
		if c.Telegram.BridgeUrl != "" {
			baseURL = strings.TrimRight(c.Telegram.BridgeUrl, "/")
		}
		apiID = c.Telegram.ApiId
		apiHash = c.Telegram.ApiHash
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(bridgeRequestTimeout)

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "telegram-bridge",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// 业务信号（验证码错误、需要密码等）不算桥接服务故障
		IsSuccessful: func(err error) bool {
			return err == nil || isBackendSignal(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("telegram bridge circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return func(sessionPath string) Client {
		return &bridgeClient{
			rc:          httpClient,
			cb:          cb,
			apiID:       apiID,
			apiHash:     apiHash,
			sessionPath: sessionPath,
			l:           logger,
		}
	}
}

// bridgeClient 通过 HTTP 桥接服务实现 Client
type bridgeClient struct {
	rc          *resty.Client
	cb          *gobreaker.CircuitBreaker
	apiID       int32
	apiHash     string
	sessionPath string
	l           *zap.Logger

	mu        sync.Mutex
	connID    string
	connected bool
}

var _ Client = (*bridgeClient)(nil)

func (c *bridgeClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	// 读取已有会话凭据，文件不存在视为全新连接
	session := ""
	if data, err := os.ReadFile(c.sessionPath); err == nil && len(data) > 0 {
		session = base64.StdEncoding.EncodeToString(data)
	}

	var out struct {
		ConnID  string `json:"conn_id"`
		Session string `json:"session"`
	}
	err := c.post(ctx, "/v1/connect", map[string]any{
		"api_id":   c.apiID,
		"api_hash": c.apiHash,
		"session":  session,
	}, &out)
	if err != nil {
		return err
	}

	c.connID = out.ConnID
	c.connected = true
	c.persistSession(out.Session)
	return nil
}

func (c *bridgeClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}

	err := c.post(context.Background(), "/v1/disconnect", map[string]any{
		"conn_id": c.connID,
	}, nil)
	c.connected = false
	c.connID = ""
	return err
}

func (c *bridgeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *bridgeClient) IsAuthorized(ctx context.Context) (bool, error) {
	var out struct {
		Authorized bool `json:"authorized"`
	}
	if err := c.post(ctx, "/v1/is-authorized", c.connBody(nil), &out); err != nil {
		return false, err
	}
	return out.Authorized, nil
}

func (c *bridgeClient) RequestLoginCode(ctx context.Context, phone string) (string, error) {
	var out struct {
		PhoneCodeHash string `json:"phone_code_hash"`
	}
	err := c.post(ctx, "/v1/send-code", c.connBody(map[string]any{
		"phone": phone,
	}), &out)
	if err != nil {
		return "", err
	}
	return out.PhoneCodeHash, nil
}

func (c *bridgeClient) SignIn(ctx context.Context, phone, code, codeHash string) (*Profile, error) {
	return c.signIn(ctx, "/v1/sign-in", map[string]any{
		"phone":           phone,
		"code":            code,
		"phone_code_hash": codeHash,
	})
}

func (c *bridgeClient) SignInWithPassword(ctx context.Context, password string) (*Profile, error) {
	return c.signIn(ctx, "/v1/sign-in-password", map[string]any{
		"password": password,
	})
}

func (c *bridgeClient) signIn(ctx context.Context, path string, body map[string]any) (*Profile, error) {
	var out struct {
		User    bridgeUser `json:"user"`
		Session string     `json:"session"`
	}
	if err := c.post(ctx, path, c.connBody(body), &out); err != nil {
		return nil, err
	}

	// 登录成功后桥接服务返回最新凭据，落盘供重连使用
	c.persistSession(out.Session)
	return toProfile(out.User), nil
}

func (c *bridgeClient) GetProfile(ctx context.Context) (*Profile, error) {
	var out struct {
		User bridgeUser `json:"user"`
	}
	if err := c.post(ctx, "/v1/get-me", c.connBody(nil), &out); err != nil {
		return nil, err
	}
	return toProfile(out.User), nil
}

func (c *bridgeClient) ListDialogs(ctx context.Context, limit int) ([]Dialog, error) {
	var out struct {
		Dialogs []bridgeDialog `json:"dialogs"`
	}
	err := c.post(ctx, "/v1/dialogs", c.connBody(map[string]any{
		"limit": limit,
	}), &out)
	if err != nil {
		return nil, err
	}

	dialogs := make([]Dialog, 0, len(out.Dialogs))
	for _, d := range out.Dialogs {
		dialog := Dialog{
			ID:          d.ID,
			Name:        d.Name,
			Type:        d.Type,
			UnreadCount: d.UnreadCount,
		}
		if d.LastMessage != nil {
			dialog.LastMessage = &LastMessage{
				Text: d.LastMessage.Text,
				Date: d.LastMessage.Date,
			}
		}
		dialogs = append(dialogs, dialog)
	}
	return dialogs, nil
}

func (c *bridgeClient) ListMessages(ctx context.Context, dialogID int64, limit, offsetID int) ([]Message, error) {
	var out struct {
		Messages []bridgeMessage `json:"messages"`
	}
	err := c.post(ctx, "/v1/messages", c.connBody(map[string]any{
		"dialog_id": dialogID,
		"limit":     limit,
		"offset_id": offsetID,
	}), &out)
	if err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, toMessage(m))
	}
	return messages, nil
}

func (c *bridgeClient) SendMessage(ctx context.Context, dialogID int64, text string, replyTo int) (*Message, error) {
	var out struct {
		Message bridgeMessage `json:"message"`
	}
	err := c.post(ctx, "/v1/send-message", c.connBody(map[string]any{
		"dialog_id": dialogID,
		"text":      text,
		"reply_to":  replyTo,
	}), &out)
	if err != nil {
		return nil, err
	}
	msg := toMessage(out.Message)
	return &msg, nil
}

// connBody 为请求体附加连接标识
func (c *bridgeClient) connBody(body map[string]any) map[string]any {
	if body == nil {
		body = map[string]any{}
	}
	c.mu.Lock()
	body["conn_id"] = c.connID
	c.mu.Unlock()
	return body
}

// post 通过熔断器执行一次桥接调用，并把错误载荷翻译成后端错误值
func (c *bridgeClient) post(ctx context.Context, path string, body, out any) error {
	_, err := c.cb.Execute(func() (any, error) {
		resp, err := c.rc.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			Post(path)
		if err != nil {
			return nil, fmt.Errorf("telegram bridge request %s: %w", path, err)
		}

		if resp.StatusCode() != 200 {
			return nil, mapBridgeError(resp.StatusCode(), resp.Body())
		}

		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return nil, fmt.Errorf("telegram bridge decode %s: %w", path, err)
			}
		}
		return nil, nil
	})
	return err
}

// persistSession 把桥接服务返回的凭据写回会话文件
func (c *bridgeClient) persistSession(session string) {
	if session == "" {
		return
	}
	data, err := base64.StdEncoding.DecodeString(session)
	if err != nil {
		c.l.Warn("failed to decode session blob from bridge", zap.Error(err))
		return
	}
	if err := os.WriteFile(c.sessionPath, data, sessionFileMode); err != nil {
		c.l.Warn("failed to persist session file",
			zap.String("path", c.sessionPath),
			zap.Error(err),
		)
	}
}

// mapBridgeError 把桥接服务的错误码翻译成后端错误值
func mapBridgeError(status int, body []byte) error {
	var be bridgeError
	if err := json.Unmarshal(body, &be); err != nil || be.Code == "" {
		return fmt.Errorf("telegram bridge error: status %d", status)
	}

	switch be.Code {
	case "flood_wait":
		return &FloodWaitError{Seconds: be.Seconds}
	case "user_deactivated", "phone_number_banned":
		return ErrUserDeactivated
	case "unauthorized", "auth_key_unregistered", "session_revoked":
		return ErrUnauthorized
	case "password_needed":
		return ErrPasswordNeeded
	case "password_invalid":
		return ErrPasswordInvalid
	case "code_invalid", "code_expired":
		return ErrCodeInvalid
	default:
		return fmt.Errorf("telegram bridge error: %s (%s)", be.Code, be.Message)
	}
}

// isBackendSignal 判断错误是否为业务信号而非桥接服务故障
func isBackendSignal(err error) bool {
	var flood *FloodWaitError
	if errors.As(err, &flood) {
		return true
	}
	return errors.Is(err, ErrUserDeactivated) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrPasswordNeeded) ||
		errors.Is(err, ErrPasswordInvalid) ||
		errors.Is(err, ErrCodeInvalid)
}

func toProfile(u bridgeUser) *Profile {
	return &Profile{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
		Phone:     u.Phone,
	}
}

func toMessage(m bridgeMessage) Message {
	return Message{
		ID:           m.ID,
		Text:         m.Text,
		Date:         m.Date,
		Out:          m.Out,
		ReplyToMsgID: m.ReplyToMsgID,
		FromID:       m.FromID,
	}
}
