package idgen

import (
	"context"
	"fmt"
	"time"

	rd "github.com/redis/go-redis/v9"

	"seckill/pkg/rediskey"
)

const (
	// idEpoch 固定纪元：2022-01-01T00:00:00Z。高位承载相对秒数。
	idEpoch int64 = 1640995200
	// sequenceBits 低位序列宽度；序列按 命名空间+天 维度在 Redis 中自增。
	sequenceBits = 32
)

// Worker 基于 Redis 的全局唯一 ID 生成器。
// 结构：高位 = 相对纪元的秒数，低位 = 当天命名空间内自增序列。
// Redis 重启不会与历史 ID 冲突（时间高位天然前移）；同一秒内
// 序列回绕的碰撞不在防护范围内。
type Worker struct {
	rdb *rd.Client
}

func NewWorker(rdb *rd.Client) *Worker {
	return &Worker{rdb: rdb}
}

// NextID 生成命名空间内单调递增的 int64 ID。
// 只有一次 INCR 往返，任意并发下安全。
func (w *Worker) NextID(ctx context.Context, namespace string) (int64, error) {
	now := time.Now().UTC()
	ts := now.Unix() - idEpoch

	// 按天分键：方便统计当日单量，也避免单键序列无限增长。
	day := now.Format("2006:01:02")
	seq, err := w.rdb.Incr(ctx, rediskey.IDCounterKey(namespace, day)).Result()
	if err != nil {
		return 0, fmt.Errorf("idgen incr: %w", err)
	}

	return ts<<sequenceBits | seq, nil
}
