package rediskey

import (
	"fmt"
	"time"
)

// 统一约定 Redis 键名与 TTL，避免各处散落魔法字符串。

const (
	// CacheShopTTL 店铺缓存正向命中 TTL。
	CacheShopTTL = 30 * time.Minute
	// CacheNullTTL 空值标记（防穿透）短 TTL。
	CacheNullTTL = 2 * time.Minute
	// LockShopTTL 缓存重建互斥锁的兜底过期时间。
	LockShopTTL = 10 * time.Second
	// OrderLockTTL 落库阶段按用户互斥锁的兜底过期时间。
	OrderLockTTL = 10 * time.Second
)

// SeckillStockKey 秒杀库存快路径镜像键。
func SeckillStockKey(voucherID int64) string {
	return fmt.Sprintf("seckill:stock:%d", voucherID)
}

// SeckillOrderSetKey 某张券的已下单用户集合（一人一单判定）。
func SeckillOrderSetKey(voucherID int64) string {
	return fmt.Sprintf("seckill:order:%d", voucherID)
}

// CacheShopKey 店铺缓存键。
func CacheShopKey(shopID int64) string {
	return fmt.Sprintf("cache:shop:%d", shopID)
}

// LockShopKey 店铺缓存重建锁键。
func LockShopKey(shopID int64) string {
	return fmt.Sprintf("lock:shop:%d", shopID)
}

// OrderLockKey 落库阶段按用户互斥的锁键。
func OrderLockKey(userID int64) string {
	return fmt.Sprintf("lock:order:%d", userID)
}

// IDCounterKey ID 生成器按天滚动的序列计数键。
func IDCounterKey(namespace, day string) string {
	return fmt.Sprintf("icr:%s:%s", namespace, day)
}

// RateLimitUserKey 秒杀接口按用户限流键。
func RateLimitUserKey(userID int64) string {
	return fmt.Sprintf("rate_limit:seckill:user:%d", userID)
}

// RateLimitIPKey 解析不到用户时按 IP 降级限流键。
func RateLimitIPKey(ip string) string {
	return fmt.Sprintf("rate_limit:seckill:ip:%s", ip)
}
