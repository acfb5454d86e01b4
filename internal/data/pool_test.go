package data

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"telegram-dialogs/internal/biz/model"
	"telegram-dialogs/internal/conf"
	"telegram-dialogs/internal/telegram"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

// fakeBackend 可编程的后端替身，所有由它创建的客户端共享同一份脚本
type fakeBackend struct {
	mu                sync.Mutex
	clients           []*fakeClient
	connects          int
	connectDelay      time.Duration
	connectErr        error
	authorized        bool
	requestCodeErr    error
	signInErr         error
	passwordSignInErr error
	profile           telegram.Profile
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		profile: telegram.Profile{ID: 42, FirstName: "Test", Username: "tester"},
	}
}

func (b *fakeBackend) factory(path string) telegram.Client {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := &fakeClient{backend: b, path: path}
	b.clients = append(b.clients, c)
	return c
}

func (b *fakeBackend) connectCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects
}

func (b *fakeBackend) clientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *fakeBackend) liveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, c := range b.clients {
		if c.IsConnected() {
			n++
		}
	}
	return n
}

type fakeClient struct {
	backend   *fakeBackend
	path      string
	mu        sync.Mutex
	connected bool
}

func (c *fakeClient) Connect(_ context.Context) error {
	c.backend.mu.Lock()
	delay := c.backend.connectDelay
	err := c.backend.connectErr
	if err == nil {
		c.backend.connects++
	}
	c.backend.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) Disconnect() error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) IsAuthorized(_ context.Context) (bool, error) {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	return c.backend.authorized, nil
}

func (c *fakeClient) RequestLoginCode(_ context.Context, _ string) (string, error) {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	if c.backend.requestCodeErr != nil {
		return "", c.backend.requestCodeErr
	}
	return "hash123", nil
}

func (c *fakeClient) SignIn(_ context.Context, _, _, _ string) (*telegram.Profile, error) {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	if c.backend.signInErr != nil {
		return nil, c.backend.signInErr
	}
	return c.finishLoginLocked()
}

func (c *fakeClient) SignInWithPassword(_ context.Context, _ string) (*telegram.Profile, error) {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	if c.backend.passwordSignInErr != nil {
		return nil, c.backend.passwordSignInErr
	}
	return c.finishLoginLocked()
}

// finishLoginLocked 模拟真实客户端登录成功后落盘会话凭据
func (c *fakeClient) finishLoginLocked() (*telegram.Profile, error) {
	if err := os.WriteFile(c.path, []byte("session-blob"), 0o600); err != nil {
		return nil, err
	}
	c.backend.authorized = true
	p := c.backend.profile
	return &p, nil
}

func (c *fakeClient) GetProfile(_ context.Context) (*telegram.Profile, error) {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	p := c.backend.profile
	return &p, nil
}

func (c *fakeClient) ListDialogs(_ context.Context, _ int) ([]telegram.Dialog, error) {
	return nil, nil
}

func (c *fakeClient) ListMessages(_ context.Context, _ int64, _, _ int) ([]telegram.Message, error) {
	return nil, nil
}

func (c *fakeClient) SendMessage(_ context.Context, _ int64, text string, _ int) (*telegram.Message, error) {
	return &telegram.Message{ID: 1, Text: text, Out: true}, nil
}

// ClientPoolTestSuite 是 ClientPool 的测试套件
type ClientPoolTestSuite struct {
	suite.Suite
	backend *fakeBackend
	store   *SessionStore
	pool    *ClientPool
}

func (suite *ClientPoolTestSuite) SetupTest() {
	logger := zap.NewNop()
	cfg := &conf.Bootstrap{
		Telegram: &conf.Telegram{SessionsDir: suite.T().TempDir()},
	}

	store, err := NewSessionStore(cfg, logger)
	suite.Require().NoError(err)

	suite.backend = newFakeBackend()
	suite.store = store
	suite.pool = NewClientPool(suite.backend.factory, store, logger)
}

func (suite *ClientPoolTestSuite) TestAcquire_NoSessionFile() {
	_, err := suite.pool.Acquire(context.Background(), 42)

	assert.Error(suite.T(), err)
	assert.Equal(suite.T(), model.KindAuthorizationLost, model.KindOf(err))
	// 没有会话文件时不应创建任何客户端
	assert.Equal(suite.T(), 0, suite.backend.clientCount())
}

func (suite *ClientPoolTestSuite) TestAcquire_EmptySessionFilePurged() {
	name := StableName(42)
	suite.Require().NoError(suite.store.Save(name, []byte{}))
	suite.Require().NoError(os.Truncate(suite.store.Path(name), 0))

	_, err := suite.pool.Acquire(context.Background(), 42)

	assert.Equal(suite.T(), model.KindAuthorizationLost, model.KindOf(err))
	assert.False(suite.T(), suite.store.Exists(name))
}

func (suite *ClientPoolTestSuite) TestAcquire_ReusesConnection() {
	suite.backend.authorized = true
	suite.Require().NoError(suite.store.Save(StableName(42), []byte("session-blob")))

	first, err := suite.pool.Acquire(context.Background(), 42)
	suite.Require().NoError(err)

	second, err := suite.pool.Acquire(context.Background(), 42)
	suite.Require().NoError(err)

	assert.Same(suite.T(), first, second)
	assert.Equal(suite.T(), 1, suite.backend.connectCount())
}

func (suite *ClientPoolTestSuite) TestAcquire_ConcurrentSingleConnect() {
	suite.backend.authorized = true
	suite.backend.connectDelay = 20 * time.Millisecond
	suite.Require().NoError(suite.store.Save(StableName(42), []byte("session-blob")))

	var wg sync.WaitGroup
	clients := make([]telegram.Client, 10)
	for i := range clients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := suite.pool.Acquire(context.Background(), 42)
			assert.NoError(suite.T(), err)
			clients[i] = c
		}(i)
	}
	wg.Wait()

	assert.Equal(suite.T(), 1, suite.backend.connectCount())
	for _, c := range clients {
		assert.Same(suite.T(), clients[0], c)
	}
}

func (suite *ClientPoolTestSuite) TestAcquire_UnauthorizedSessionPurged() {
	suite.backend.authorized = false
	name := StableName(42)
	suite.Require().NoError(suite.store.Save(name, []byte("session-blob")))

	_, err := suite.pool.Acquire(context.Background(), 42)

	assert.Equal(suite.T(), model.KindAuthorizationLost, model.KindOf(err))
	assert.False(suite.T(), suite.store.Exists(name))
}

func (suite *ClientPoolTestSuite) TestRequestLogin_Success() {
	start, err := suite.pool.RequestLogin(context.Background(), "+10000000001")

	suite.Require().NoError(err)
	assert.NotEmpty(suite.T(), start.TempUserID)
	assert.Equal(suite.T(), "hash123", start.PhoneCodeHash)
}

func (suite *ClientPoolTestSuite) TestRequestLogin_FloodWait() {
	suite.backend.requestCodeErr = &telegram.FloodWaitError{Seconds: 30}

	_, err := suite.pool.RequestLogin(context.Background(), "+10000000001")

	assert.Equal(suite.T(), model.KindRateLimited, model.KindOf(err))
	assert.Equal(suite.T(), 30, model.WaitSecondsOf(err))
}

func (suite *ClientPoolTestSuite) TestCompleteLogin_UnknownTempID() {
	_, err := suite.pool.CompleteLogin(context.Background(), "missing", "+1", "12345", "hash", "")

	assert.Equal(suite.T(), model.KindLoginExpired, model.KindOf(err))
}

func (suite *ClientPoolTestSuite) TestCompleteLogin_Success() {
	ctx := context.Background()
	start, err := suite.pool.RequestLogin(ctx, "+10000000001")
	suite.Require().NoError(err)

	profile, err := suite.pool.CompleteLogin(ctx, start.TempUserID, "+10000000001", "12345", start.PhoneCodeHash, "")

	suite.Require().NoError(err)
	assert.Equal(suite.T(), int64(42), profile.ID)
	// 临时会话晋升为稳定命名
	assert.False(suite.T(), suite.store.Exists(TempName(start.TempUserID)))
	assert.True(suite.T(), suite.store.Exists(StableName(42)))

	// 临时标识一次性使用
	_, err = suite.pool.CompleteLogin(ctx, start.TempUserID, "+10000000001", "12345", start.PhoneCodeHash, "")
	assert.Equal(suite.T(), model.KindLoginExpired, model.KindOf(err))
}

func (suite *ClientPoolTestSuite) TestCompleteLogin_PasswordFlow() {
	ctx := context.Background()
	start, err := suite.pool.RequestLogin(ctx, "+10000000001")
	suite.Require().NoError(err)

	suite.backend.mu.Lock()
	suite.backend.signInErr = telegram.ErrPasswordNeeded
	suite.backend.mu.Unlock()

	// 未提供密码：登录态保留，等待携带密码重试
	_, err = suite.pool.CompleteLogin(ctx, start.TempUserID, "+10000000001", "12345", start.PhoneCodeHash, "")
	assert.Equal(suite.T(), model.KindPasswordRequired, model.KindOf(err))

	profile, err := suite.pool.CompleteLogin(ctx, start.TempUserID, "+10000000001", "12345", start.PhoneCodeHash, "hunter2")
	suite.Require().NoError(err)
	assert.Equal(suite.T(), int64(42), profile.ID)
	assert.True(suite.T(), suite.store.Exists(StableName(42)))
}

func (suite *ClientPoolTestSuite) TestCompleteLogin_InvalidCodeKeepsAttempt() {
	ctx := context.Background()
	start, err := suite.pool.RequestLogin(ctx, "+10000000001")
	suite.Require().NoError(err)

	suite.backend.mu.Lock()
	suite.backend.signInErr = telegram.ErrCodeInvalid
	suite.backend.mu.Unlock()

	_, err = suite.pool.CompleteLogin(ctx, start.TempUserID, "+10000000001", "00000", start.PhoneCodeHash, "")
	assert.Equal(suite.T(), model.KindInvalidCode, model.KindOf(err))

	// 换正确验证码后同一登录态可以继续
	suite.backend.mu.Lock()
	suite.backend.signInErr = nil
	suite.backend.mu.Unlock()

	profile, err := suite.pool.CompleteLogin(ctx, start.TempUserID, "+10000000001", "12345", start.PhoneCodeHash, "")
	suite.Require().NoError(err)
	assert.Equal(suite.T(), int64(42), profile.ID)
}

func (suite *ClientPoolTestSuite) TestCompleteLogin_BannedCleansUp() {
	ctx := context.Background()
	start, err := suite.pool.RequestLogin(ctx, "+10000000001")
	suite.Require().NoError(err)

	suite.backend.mu.Lock()
	suite.backend.signInErr = telegram.ErrUserDeactivated
	suite.backend.mu.Unlock()

	_, err = suite.pool.CompleteLogin(ctx, start.TempUserID, "+10000000001", "12345", start.PhoneCodeHash, "")
	assert.Equal(suite.T(), model.KindAccountBanned, model.KindOf(err))

	// 登录态和临时会话文件都被清掉
	assert.False(suite.T(), suite.store.Exists(TempName(start.TempUserID)))
	_, err = suite.pool.CompleteLogin(ctx, start.TempUserID, "+10000000001", "12345", start.PhoneCodeHash, "")
	assert.Equal(suite.T(), model.KindLoginExpired, model.KindOf(err))
}

func (suite *ClientPoolTestSuite) TestRegister_ReplacedEntryMarkedDead() {
	ctx := context.Background()
	suite.backend.authorized = true
	key := StableName(42)
	suite.Require().NoError(suite.store.Save(key, []byte("session-blob")))

	stale, err := suite.pool.Acquire(ctx, 42)
	suite.Require().NoError(err)

	suite.pool.mu.Lock()
	old := suite.pool.entries[key]
	suite.pool.mu.Unlock()

	fresh := suite.backend.factory(suite.store.Path(key))
	suite.Require().NoError(fresh.Connect(ctx))
	suite.pool.register(key, fresh)

	// 被顶掉的条目标记 dead 且连接被断开
	old.mu.Lock()
	assert.True(suite.T(), old.dead)
	old.mu.Unlock()
	assert.False(suite.T(), stale.IsConnected())

	got, err := suite.pool.Acquire(ctx, 42)
	suite.Require().NoError(err)
	assert.Same(suite.T(), fresh, got)
	assert.Equal(suite.T(), 1, suite.backend.liveCount())
}

func (suite *ClientPoolTestSuite) TestAcquire_ReplacementKeepsSingleConnection() {
	ctx := context.Background()
	suite.backend.authorized = true
	key := StableName(42)
	suite.Require().NoError(suite.store.Save(key, []byte("session-blob")))

	_, err := suite.pool.Acquire(ctx, 42)
	suite.Require().NoError(err)

	suite.pool.mu.Lock()
	old := suite.pool.entries[key]
	suite.pool.mu.Unlock()

	// 先持住旧条目锁，让并发的 Acquire 和换入都挂在上面
	old.mu.Lock()

	acquired := make(chan telegram.Client, 1)
	go func() {
		c, err := suite.pool.Acquire(ctx, 42)
		assert.NoError(suite.T(), err)
		acquired <- c
	}()

	fresh := suite.backend.factory(suite.store.Path(key))
	suite.Require().NoError(fresh.Connect(ctx))

	registered := make(chan struct{})
	go func() {
		suite.pool.register(key, fresh)
		close(registered)
	}()

	time.Sleep(20 * time.Millisecond)
	old.mu.Unlock()
	<-acquired
	<-registered

	// 不管哪个等待者先抢到锁，同一标识最终只能剩一条活连接
	assert.Equal(suite.T(), 1, suite.backend.liveCount())
	got, err := suite.pool.Acquire(ctx, 42)
	suite.Require().NoError(err)
	assert.Same(suite.T(), fresh, got)
}

func (suite *ClientPoolTestSuite) TestClassify_AuthorizationLostEvicts() {
	ctx := context.Background()
	suite.backend.authorized = true
	name := StableName(42)
	suite.Require().NoError(suite.store.Save(name, []byte("session-blob")))

	_, err := suite.pool.Acquire(ctx, 42)
	suite.Require().NoError(err)

	classified := suite.pool.Classify(ctx, 42, telegram.ErrUnauthorized)

	assert.Equal(suite.T(), model.KindAuthorizationLost, model.KindOf(classified))
	// 连接和会话文件一起被清掉
	assert.False(suite.T(), suite.store.Exists(name))
	_, err = suite.pool.Acquire(ctx, 42)
	assert.Equal(suite.T(), model.KindAuthorizationLost, model.KindOf(err))
}

func (suite *ClientPoolTestSuite) TestClassify_BannedKeepsSessionFile() {
	ctx := context.Background()
	suite.backend.authorized = true
	name := StableName(42)
	suite.Require().NoError(suite.store.Save(name, []byte("session-blob")))

	_, err := suite.pool.Acquire(ctx, 42)
	suite.Require().NoError(err)

	classified := suite.pool.Classify(ctx, 42, telegram.ErrUserDeactivated)

	assert.Equal(suite.T(), model.KindAccountBanned, model.KindOf(classified))
	// 封禁只驱逐连接，文件留作排查
	assert.True(suite.T(), suite.store.Exists(name))
}

func (suite *ClientPoolTestSuite) TestClassify_TransientKeepsEntry() {
	ctx := context.Background()
	suite.backend.authorized = true
	suite.Require().NoError(suite.store.Save(StableName(42), []byte("session-blob")))

	first, err := suite.pool.Acquire(ctx, 42)
	suite.Require().NoError(err)

	classified := suite.pool.Classify(ctx, 42, errors.New("connection reset"))
	assert.Equal(suite.T(), model.KindTransient, model.KindOf(classified))

	second, err := suite.pool.Acquire(ctx, 42)
	suite.Require().NoError(err)
	assert.Same(suite.T(), first, second)
}

func TestClientPoolTestSuite(t *testing.T) {
	suite.Run(t, new(ClientPoolTestSuite))
}
