package data

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"telegram-dialogs/internal/biz/model"
	"telegram-dialogs/internal/telegram"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Pool 客户端池接口，biz 层据此注入
type Pool interface {
	// Acquire 取出稳定标识对应的已授权连接，必要时从会话文件重建
	Acquire(ctx context.Context, userID int64) (telegram.Client, error)
	// RequestLogin 发起登录流程，分配临时标识并请求验证码
	RequestLogin(ctx context.Context, phone string) (*model.LoginStart, error)
	// CompleteLogin 用验证码（和可选的两步验证密码）完成登录
	CompleteLogin(ctx context.Context, tempID, phone, code, codeHash, password string) (*model.Profile, error)
	// Classify 归类一次后端调用错误并执行相应的驱逐副作用
	Classify(ctx context.Context, userID int64, err error) error
}

// 每个标识的连接状态机：
// Absent → Connecting → Authorizing → Authorized（从会话文件重建）
// Absent → Connecting → LoginPending → (PasswordRequired) → Authorized（登录流程）
// 任何非终态失败都回到 Absent，连接被丢弃。
type connState int

const (
	stateConnecting connState = iota
	stateAuthorizing
	stateLoginPending
	statePasswordRequired
	stateAuthorized
)

// poolEntry 注册表条目，entry 级互斥保证同一标识的操作串行，
// 不同标识完全并行。dead 标记条目已被摘除，等待者需重试。
type poolEntry struct {
	mu          sync.Mutex
	dead        bool
	state       connState
	client      telegram.Client
	sessionName string
	phone       string
	codeHash    string
}

// ClientPool 维护每个标识至多一条后端连接
type ClientPool struct {
	mu      sync.Mutex
	entries map[string]*poolEntry
	factory telegram.Factory
	store   *SessionStore
	l       *zap.Logger
}

var _ Pool = (*ClientPool)(nil)

func NewClientPool(factory telegram.Factory, store *SessionStore, logger *zap.Logger) *ClientPool {
	return &ClientPool{
		entries: make(map[string]*poolEntry),
		factory: factory,
		store:   store,
		l:       logger,
	}
}

func (p *ClientPool) Acquire(ctx context.Context, userID int64) (telegram.Client, error) {
	// 调用方放弃请求时让连接建完，避免注册表留下半更新状态
	ctx = context.WithoutCancel(ctx)
	key := StableName(userID)

	for {
		entry := p.getOrCreate(key)
		entry.mu.Lock()

		if entry.dead {
			// 条目刚被摘除，换新条目重试
			entry.mu.Unlock()
			continue
		}

		client, err := p.acquireLocked(ctx, key, entry)
		entry.mu.Unlock()
		return client, err
	}
}

// acquireLocked 在持有条目锁的前提下复用或重建连接
func (p *ClientPool) acquireLocked(ctx context.Context, key string, entry *poolEntry) (telegram.Client, error) {
	if entry.state == stateAuthorized && entry.client != nil {
		// 存活探测：传输断开则重连
		if !entry.client.IsConnected() {
			if err := entry.client.Connect(ctx); err != nil {
				return nil, classify(err)
			}
		}
		return entry.client, nil
	}

	// 重建前提：稳定标识的会话文件存在且非空
	size, err := p.store.Size(key)
	if err != nil {
		p.removeLocked(key, entry)
		if errors.Is(err, ErrSessionNotFound) {
			return nil, model.NewAppError(model.KindAuthorizationLost, err)
		}
		return nil, model.NewAppError(model.KindTransient, err)
	}
	if size == 0 {
		// 空文件即凭据损坏，删掉以免下次再撞上
		_ = p.store.Delete(key)
		p.removeLocked(key, entry)
		return nil, model.NewAppError(model.KindAuthorizationLost, ErrSessionCorrupt)
	}

	client := p.factory(p.store.Path(key))
	entry.state = stateConnecting
	if err := client.Connect(ctx); err != nil {
		p.removeLocked(key, entry)
		return nil, classify(err)
	}

	entry.state = stateAuthorizing
	authorized, err := client.IsAuthorized(ctx)
	if err != nil {
		_ = client.Disconnect()
		p.removeLocked(key, entry)
		return nil, classify(err)
	}
	if !authorized {
		// 会话已被后端判定失效，文件没有保留价值
		_ = client.Disconnect()
		_ = p.store.Delete(key)
		p.removeLocked(key, entry)
		p.l.Info("session rejected by backend, purged", zap.String("session", key))
		return nil, model.NewAppError(model.KindAuthorizationLost, telegram.ErrUnauthorized)
	}

	entry.client = client
	entry.sessionName = key
	entry.state = stateAuthorized
	return client, nil
}

func (p *ClientPool) RequestLogin(ctx context.Context, phone string) (*model.LoginStart, error) {
	ctx = context.WithoutCancel(ctx)

	tempID := uuid.NewString()
	name := TempName(tempID)

	client := p.factory(p.store.Path(name))
	if err := client.Connect(ctx); err != nil {
		return nil, classify(err)
	}

	codeHash, err := client.RequestLoginCode(ctx, phone)
	if err != nil {
		_ = client.Disconnect()
		_ = p.store.Delete(name)
		return nil, classify(err)
	}

	entry := &poolEntry{
		state:       stateLoginPending,
		client:      client,
		sessionName: name,
		phone:       phone,
		codeHash:    codeHash,
	}
	p.mu.Lock()
	p.entries[name] = entry
	p.mu.Unlock()

	p.l.Info("login code requested", zap.String("temp_id", tempID))
	return &model.LoginStart{TempUserID: tempID, PhoneCodeHash: codeHash}, nil
}

func (p *ClientPool) CompleteLogin(ctx context.Context, tempID, phone, code, codeHash, password string) (*model.Profile, error) {
	ctx = context.WithoutCancel(ctx)
	name := TempName(tempID)

	p.mu.Lock()
	entry, ok := p.entries[name]
	p.mu.Unlock()
	if !ok {
		// 进程重启或登录态已被消费，只能从头再来
		return nil, model.NewAppError(model.KindLoginExpired,
			fmt.Errorf("login attempt %q not found", tempID))
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.dead {
		return nil, model.NewAppError(model.KindLoginExpired,
			fmt.Errorf("login attempt %q already finished", tempID))
	}

	if !entry.client.IsConnected() {
		if err := entry.client.Connect(ctx); err != nil {
			return nil, classify(err)
		}
	}

	// 调用方没带的参数用发起登录时记录的值补齐
	if phone == "" {
		phone = entry.phone
	}
	if codeHash == "" {
		codeHash = entry.codeHash
	}

	profile, err := entry.client.SignIn(ctx, phone, code, codeHash)
	if errors.Is(err, telegram.ErrPasswordNeeded) {
		if password == "" {
			// 两步验证：挂起登录态，等调用方带密码重试
			entry.state = statePasswordRequired
			return nil, model.NewAppError(model.KindPasswordRequired, err)
		}
		profile, err = entry.client.SignInWithPassword(ctx, password)
	}
	if err != nil {
		return nil, p.loginFailureLocked(name, entry, err)
	}

	if profile == nil {
		if profile, err = entry.client.GetProfile(ctx); err != nil {
			return nil, p.loginFailureLocked(name, entry, err)
		}
	}

	stable := StableName(profile.ID)

	// 会话晋升为稳定命名，再用落盘文件重开一条连接做校验；
	// 校验不过就继续用手里这条连接，但要把差异记下来。
	if err := p.store.Rename(name, stable); err != nil {
		p.l.Error("failed to promote session file",
			zap.String("from", name),
			zap.String("to", stable),
			zap.Error(err),
		)
		p.register(stable, entry.client)
	} else if fresh, ok := p.revalidate(ctx, stable); ok {
		_ = entry.client.Disconnect()
		p.register(stable, fresh)
	} else {
		p.l.Warn("promoted session failed re-validation, keeping live connection",
			zap.String("session", stable),
		)
		p.register(stable, entry.client)
	}

	p.removeLocked(name, entry)
	p.l.Info("login completed", zap.Int64("user_id", profile.ID))
	return toModelProfile(profile), nil
}

// loginFailureLocked 处理登录失败：可重试的失败保留登录态，
// 终态失败摘除条目并清理临时会话文件。
func (p *ClientPool) loginFailureLocked(name string, entry *poolEntry, err error) error {
	classified := classify(err)

	switch classified.Kind {
	case model.KindAccountBanned, model.KindAuthorizationLost:
		_ = entry.client.Disconnect()
		_ = p.store.Delete(name)
		p.removeLocked(name, entry)
	case model.KindInvalidCode:
		entry.state = stateLoginPending
	case model.KindPasswordRequired:
		entry.state = statePasswordRequired
	}
	return classified
}

// revalidate 用刚落盘的稳定会话文件重开连接验证凭据可用
func (p *ClientPool) revalidate(ctx context.Context, name string) (telegram.Client, bool) {
	client := p.factory(p.store.Path(name))
	if err := client.Connect(ctx); err != nil {
		return nil, false
	}
	authorized, err := client.IsAuthorized(ctx)
	if err != nil || !authorized {
		_ = client.Disconnect()
		return nil, false
	}
	return client, true
}

func (p *ClientPool) Classify(_ context.Context, userID int64, err error) error {
	classified := classify(err)

	// 驱逐是归类的副作用，不留给调用方
	switch classified.Kind {
	case model.KindAuthorizationLost:
		p.evict(StableName(userID), true)
	case model.KindAccountBanned:
		p.evict(StableName(userID), false)
	}
	return classified
}

// evict 摘除注册表条目；purgeSession 为真时连会话文件一起删
func (p *ClientPool) evict(key string, purgeSession bool) {
	p.mu.Lock()
	entry, ok := p.entries[key]
	if ok {
		delete(p.entries, key)
	}
	p.mu.Unlock()

	if ok {
		entry.mu.Lock()
		entry.dead = true
		if entry.client != nil {
			_ = entry.client.Disconnect()
		}
		entry.mu.Unlock()
	}
	if purgeSession {
		_ = p.store.Delete(key)
	}
	p.l.Info("pool entry evicted",
		zap.String("session", key),
		zap.Bool("session_purged", purgeSession),
	)
}

// register 把已授权连接登记到稳定标识名下。
// 被顶掉的旧条目必须在其锁内标记 dead 再换出注册表，
// 否则挂在旧条目锁上的 Acquire 会复活一条已摘除的连接。
func (p *ClientPool) register(key string, client telegram.Client) {
	entry := &poolEntry{
		state:       stateAuthorized,
		client:      client,
		sessionName: key,
	}

	for {
		p.mu.Lock()
		old, hadOld := p.entries[key]
		if !hadOld {
			p.entries[key] = entry
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		// 锁序与 removeLocked 一致：entry.mu 在前，p.mu 在后
		old.mu.Lock()
		p.mu.Lock()
		if p.entries[key] != old {
			// 等锁期间条目已被换过，重读注册表
			p.mu.Unlock()
			old.mu.Unlock()
			continue
		}
		p.entries[key] = entry
		p.mu.Unlock()

		old.dead = true
		if old.client != nil && old.client != client {
			_ = old.client.Disconnect()
		}
		old.mu.Unlock()
		return
	}
}

// getOrCreate 取出或新建注册表条目
func (p *ClientPool) getOrCreate(key string) *poolEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[key]
	if !ok {
		entry = &poolEntry{}
		p.entries[key] = entry
	}
	return entry
}

// removeLocked 摘除条目并标记 dead，调用方必须持有 entry.mu
func (p *ClientPool) removeLocked(key string, entry *poolEntry) {
	entry.dead = true
	p.mu.Lock()
	if p.entries[key] == entry {
		delete(p.entries, key)
	}
	p.mu.Unlock()
}

// Close 断开池内全部连接
func (p *ClientPool) Close() {
	p.mu.Lock()
	entries := make([]*poolEntry, 0, len(p.entries))
	for _, entry := range p.entries {
		entries = append(entries, entry)
	}
	p.entries = make(map[string]*poolEntry)
	p.mu.Unlock()

	for _, entry := range entries {
		entry.mu.Lock()
		entry.dead = true
		if entry.client != nil {
			_ = entry.client.Disconnect()
		}
		entry.mu.Unlock()
	}
}

// classify 把后端/存储错误翻译为统一分类
func classify(err error) *model.AppError {
	var appErr *model.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var flood *telegram.FloodWaitError
	if errors.As(err, &flood) {
		return model.NewRateLimited(flood.Seconds, err)
	}

	switch {
	case errors.Is(err, telegram.ErrUserDeactivated):
		return model.NewAppError(model.KindAccountBanned, err)
	case errors.Is(err, telegram.ErrUnauthorized):
		return model.NewAppError(model.KindAuthorizationLost, err)
	case errors.Is(err, telegram.ErrPasswordNeeded), errors.Is(err, telegram.ErrPasswordInvalid):
		return model.NewAppError(model.KindPasswordRequired, err)
	case errors.Is(err, telegram.ErrCodeInvalid):
		return model.NewAppError(model.KindInvalidCode, err)
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionCorrupt):
		return model.NewAppError(model.KindAuthorizationLost, err)
	default:
		return model.NewAppError(model.KindTransient, err)
	}
}

func toModelProfile(p *telegram.Profile) *model.Profile {
	return &model.Profile{
		ID:        p.ID,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Username:  p.Username,
		Phone:     p.Phone,
	}
}
