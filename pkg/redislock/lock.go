package redislock

import (
	"context"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// luaReleaseIfMatch 仅当锁值与自己的 token 匹配时才删除，避免误删他人持有的锁。
const luaReleaseIfMatch = `
local lockKey = KEYS[1]
local token = ARGV[1]
if redis.call('GET', lockKey) == token then
  return redis.call('DEL', lockKey)
end
return 0
`

// Lock 是带持有者标识的非阻塞分布式互斥锁。
// TryLock 失败不排队，由调用方决定放弃或稍后重试。
type Lock struct {
	rdb   *rd.Client
	key   string
	token string
	ttl   time.Duration
}

// New 创建一把锁；token 每把锁独立生成，作为持有者凭证。
func New(rdb *rd.Client, key string, ttl time.Duration) *Lock {
	return &Lock{
		rdb:   rdb,
		key:   key,
		token: uuid.NewString(),
		ttl:   ttl,
	}
}

// TryLock 非阻塞抢锁。TTL 兜底，防止进程崩溃后锁永不释放。
func (l *Lock) TryLock(ctx context.Context) (bool, error) {
	return l.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
}

// Unlock 安全释放：只有持有者的 token 匹配才会删除键。
func (l *Lock) Unlock(ctx context.Context) error {
	return l.rdb.Eval(ctx, luaReleaseIfMatch, []string{l.key}, l.token).Err()
}
