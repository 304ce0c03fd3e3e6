package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"seckill/pkg/rediskey"
	"seckill/pkg/redislock"
)

const (
	// mutexRetryDelay 互斥重建策略抢锁失败后的等待间隔。
	mutexRetryDelay = 50 * time.Millisecond
	// mutexMaxRetries 抢锁重试的次数上限，防止持续争用下无界等待。
	mutexMaxRetries = 40
	// rebuildTimeout 异步重建任务的独立超时。
	rebuildTimeout = 10 * time.Second
)

// redisData 逻辑过期条目的封皮：负载 + 内嵌到期时间，键本身永不过期。
type redisData struct {
	Data     json.RawMessage `json:"data"`
	ExpireAt time.Time       `json:"expireAt"`
}

// Client 缓存旁路读取客户端。三种策略共用：
// 直读回源（低争用实体）、互斥重建（防击穿）、逻辑过期（预热热点，永不阻塞）。
// 异步重建跑在固定大小的工作池上，对调用方是 fire-and-forget。
type Client struct {
	rdb *rd.Client
	log zerolog.Logger

	tasks     chan func()
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewClient(rdb *rd.Client, workers int, log zerolog.Logger) *Client {
	if workers <= 0 {
		workers = 10
	}
	c := &Client{
		rdb:   rdb,
		log:   log.With().Str("component", "cache").Logger(),
		tasks: make(chan func(), 64),
	}
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for task := range c.tasks {
				task()
			}
		}()
	}
	return c
}

// Close 停止工作池并等待在途重建完成。
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.tasks) })
	c.wg.Wait()
}

// Set 序列化写入并带存储级 TTL。
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, b, ttl).Err()
}

// SetWithLogicalExpire 写入逻辑过期条目：键无存储级 TTL，到期时间内嵌在负载里。
func (c *Client) SetWithLogicalExpire(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	b, err := json.Marshal(redisData{Data: payload, ExpireAt: time.Now().Add(ttl)})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, b, 0).Err()
}

// Delete 删除缓存键。实体更新后必须删缓存（而非覆写），下次读回源重建。
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// setNull 写入空值标记（防穿透），短 TTL。
func (c *Client) setNull(ctx context.Context, key string) error {
	return c.rdb.Set(ctx, key, "", rediskey.CacheNullTTL).Err()
}

// submit 把重建任务丢进工作池；池满时放弃并返回 false，由调用方收尾。
func (c *Client) submit(task func()) bool {
	select {
	case c.tasks <- task:
		return true
	default:
		return false
	}
}

// getCached 读一次缓存。found 表示键存在；negative 表示命中空值标记。
func getCached[T any](ctx context.Context, c *Client, key string) (v *T, found, negative bool, err error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err == rd.Nil {
		return nil, false, false, nil
	}
	if err != nil {
		return nil, false, false, err
	}
	if val == "" {
		return nil, true, true, nil
	}
	out := new(T)
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return nil, false, false, fmt.Errorf("decode cache %s: %w", key, err)
	}
	return out, true, false, nil
}

// QueryWithPassThrough 直读回源策略：
// 命中即返；未命中查库回填（带 TTL），库里也没有则写短 TTL 空值标记防穿透。
// 无并发保护，适用于低争用实体。fetch 返回 (nil, nil) 表示确认不存在。
func QueryWithPassThrough[T any](ctx context.Context, c *Client, key string, ttl time.Duration, fetch func(ctx context.Context) (*T, error)) (*T, error) {
	v, found, negative, err := getCached[T](ctx, c, key)
	if err != nil {
		return nil, err
	}
	if found {
		if negative {
			return nil, nil
		}
		return v, nil
	}

	data, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if data == nil {
		if err := c.setNull(ctx, key); err != nil {
			c.log.Error().Err(err).Str("key", key).Msg("write null marker")
		}
		return nil, nil
	}
	if err := c.Set(ctx, key, data, ttl); err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("write cache")
	}
	return data, nil
}

// QueryWithMutex 互斥重建策略：未命中时抢键级重建锁，保证同一键至多一个
// 并发回源；抢不到锁就短睡后从头重试（有界循环，替代无界递归）。
// 拿到锁后先二次检查缓存，并发赢家可能已经回填。
func QueryWithMutex[T any](ctx context.Context, c *Client, key, lockKey string, ttl time.Duration, fetch func(ctx context.Context) (*T, error)) (*T, error) {
	for attempt := 0; attempt < mutexMaxRetries; attempt++ {
		v, found, negative, err := getCached[T](ctx, c, key)
		if err != nil {
			return nil, err
		}
		if found {
			if negative {
				return nil, nil
			}
			return v, nil
		}

		lock := redislock.New(c.rdb, lockKey, rediskey.LockShopTTL)
		ok, err := lock.TryLock(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			if err := sleepCtx(ctx, mutexRetryDelay); err != nil {
				return nil, err
			}
			continue
		}

		v, err = rebuildLocked(ctx, c, lock, key, ttl, fetch)
		return v, err
	}
	return nil, fmt.Errorf("cache rebuild contended for key %s", key)
}

// rebuildLocked 持锁回源；锁在 defer 中释放，任何退出路径都执行。
func rebuildLocked[T any](ctx context.Context, c *Client, lock *redislock.Lock, key string, ttl time.Duration, fetch func(ctx context.Context) (*T, error)) (*T, error) {
	defer func() {
		if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
			c.log.Error().Err(err).Str("key", key).Msg("release rebuild lock")
		}
	}()

	// 二次检查：等锁期间别人可能已重建完成。
	v, found, negative, err := getCached[T](ctx, c, key)
	if err != nil {
		return nil, err
	}
	if found {
		if negative {
			return nil, nil
		}
		return v, nil
	}

	data, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if data == nil {
		if err := c.setNull(ctx, key); err != nil {
			c.log.Error().Err(err).Str("key", key).Msg("write null marker")
		}
		return nil, nil
	}
	if err := c.Set(ctx, key, data, ttl); err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("write cache")
	}
	return data, nil
}

// QueryWithLogicalExpire 逻辑过期策略：永不阻塞调用方。
// 未到期直接返回；已到期则尝试抢锁并提交异步重建，本次仍立即返回旧值。
// 键缺失视为不存在——该策略只服务于预热过的热点键。
func QueryWithLogicalExpire[T any](ctx context.Context, c *Client, key, lockKey string, ttl time.Duration, fetch func(ctx context.Context) (*T, error)) (*T, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err == rd.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entry redisData
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, fmt.Errorf("decode cache %s: %w", key, err)
	}
	out := new(T)
	if err := json.Unmarshal(entry.Data, out); err != nil {
		return nil, fmt.Errorf("decode cache payload %s: %w", key, err)
	}

	if time.Now().Before(entry.ExpireAt) {
		return out, nil
	}

	// 已过期：只有抢到锁的请求触发一次异步重建，其余请求直接用旧值。
	lock := redislock.New(c.rdb, lockKey, rediskey.LockShopTTL)
	ok, err := lock.TryLock(ctx)
	if err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("try rebuild lock")
		return out, nil
	}
	if ok {
		submitted := c.submit(func() {
			rctx, cancel := context.WithTimeout(context.Background(), rebuildTimeout)
			defer cancel()
			defer func() {
				if err := lock.Unlock(rctx); err != nil {
					c.log.Error().Err(err).Str("key", key).Msg("release rebuild lock")
				}
			}()

			data, err := fetch(rctx)
			if err != nil {
				c.log.Error().Err(err).Str("key", key).Msg("async rebuild fetch")
				return
			}
			if data == nil {
				c.log.Warn().Str("key", key).Msg("hot key vanished from backing store, keeping stale entry")
				return
			}
			if err := c.SetWithLogicalExpire(rctx, key, data, ttl); err != nil {
				c.log.Error().Err(err).Str("key", key).Msg("async rebuild write")
			}
		})
		if !submitted {
			// 工作池已满：放弃本轮重建，立刻还锁让后来者再触发。
			if err := lock.Unlock(ctx); err != nil {
				c.log.Error().Err(err).Str("key", key).Msg("release rebuild lock")
			}
			c.log.Debug().Str("key", key).Msg("rebuild pool saturated, skipped")
		}
	}
	return out, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
