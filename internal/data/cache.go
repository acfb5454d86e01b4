package data

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ResultCache 读穿透结果缓存。条目超过 TTL 视为不存在；
// 缓存故障只降级为未命中，绝不让读路径失败。
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration)
	// InvalidatePrefix 删除所有以 prefix 开头的键
	InvalidatePrefix(ctx context.Context, prefix string)
}

// DialogsKey 会话列表的缓存键
func DialogsKey(userID int64) string {
	return fmt.Sprintf("dialogs:%d", userID)
}

// MessagesKey 消息分页的缓存键，参数全部进键
func MessagesKey(userID, dialogID int64, limit, offsetID int) string {
	return fmt.Sprintf("%s%d:%d", MessagesPrefix(userID, dialogID), limit, offsetID)
}

// MessagesPrefix 某个会话全部消息页的键前缀，发送成功后按此失效
func MessagesPrefix(userID, dialogID int64) string {
	return fmt.Sprintf("messages:%d:%d:", userID, dialogID)
}

// MemoryCache 进程内缓存实现。sync.Map 保证按键原子，
// 不同键的读写互不阻塞；过期条目在下次 Get 时惰性清除。
type MemoryCache struct {
	entries sync.Map
	now     func() time.Time
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

var _ ResultCache = (*MemoryCache)(nil)

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	val, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}

	entry := val.(*cacheEntry)
	if c.now().After(entry.expiresAt) {
		// 只许删掉自己读到的过期条目，免得误删并发 Put 的新值
		c.entries.CompareAndDelete(key, val)
		return nil, false
	}
	return entry.value, true
}

func (c *MemoryCache) Put(_ context.Context, key string, value []byte, ttl time.Duration) {
	c.entries.Store(key, &cacheEntry{
		value:     value,
		expiresAt: c.now().Add(ttl),
	})
}

func (c *MemoryCache) InvalidatePrefix(_ context.Context, prefix string) {
	c.entries.Range(func(key, _ any) bool {
		if strings.HasPrefix(key.(string), prefix) {
			c.entries.Delete(key)
		}
		return true
	})
}
