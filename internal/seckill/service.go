package seckill

import (
	"context"
	"fmt"
	"time"

	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"seckill/internal/idgen"
	"seckill/internal/model"
	"seckill/pkg/rediskey"
)

// luaSeckill：准入脚本，四道闸门在 Redis 内一步完成，是防超卖与防重复下单的唯一主闸。
// KEYS[1]=库存键 KEYS[2]=已购用户集合 KEYS[3]=订单流
// ARGV[1]=userId ARGV[2]=orderId ARGV[3]=voucherId
// 返回：0 准入成功，1 库存不足/未预热，2 重复下单。
const luaSeckill = `
local stockKey = KEYS[1]
local orderKey = KEYS[2]
local streamKey = KEYS[3]
local userId = ARGV[1]
local orderId = ARGV[2]
local voucherId = ARGV[3]

local stock = redis.call('GET', stockKey)
if not stock then
  return 1
end
if tonumber(stock) <= 0 then
  return 1
end
if redis.call('SISMEMBER', orderKey, userId) == 1 then
  return 2
end

redis.call('DECRBY', stockKey, 1)
redis.call('SADD', orderKey, userId)
redis.call('XADD', streamKey, '*', 'id', orderId, 'userId', userId, 'voucherId', voucherId)
return 0
`

// Service 秒杀准入服务：快路径只打一次 Redis，落库交给流消费者异步完成。
type Service struct {
	db     *gorm.DB
	rdb    *rd.Client
	id     *idgen.Worker
	script *rd.Script
	stream string
	log    zerolog.Logger
}

func NewService(db *gorm.DB, rdb *rd.Client, id *idgen.Worker, stream string, log zerolog.Logger) *Service {
	return &Service{
		db:     db,
		rdb:    rdb,
		id:     id,
		script: rd.NewScript(luaSeckill),
		stream: stream,
		log:    log.With().Str("component", "seckill").Logger(),
	}
}

// SeckillVoucher 同步准入：预分配订单号 -> Lua 校验并入流 -> 立即返回。
// 返回的订单号仅代表已被准入，物化由后台消费者完成。
func (s *Service) SeckillVoucher(ctx context.Context, voucherID, userID int64) (int64, error) {
	orderID, err := s.id.NextID(ctx, "order")
	if err != nil {
		s.log.Error().Err(err).Int64("voucher_id", voucherID).Msg("allocate order id")
		return 0, ErrSystemBusy
	}

	keys := []string{
		rediskey.SeckillStockKey(voucherID),
		rediskey.SeckillOrderSetKey(voucherID),
		s.stream,
	}
	res, err := s.script.Run(ctx, s.rdb, keys, userID, orderID, voucherID).Int()
	if err != nil {
		s.log.Error().Err(err).Int64("voucher_id", voucherID).Int64("user_id", userID).Msg("seckill script")
		return 0, ErrSystemBusy
	}

	switch res {
	case 0:
		return orderID, nil
	case 1:
		return 0, ErrOutOfStock
	case 2:
		return 0, ErrDuplicateOrder
	default:
		s.log.Error().Int("code", res).Int64("voucher_id", voucherID).Msg("seckill script returned unknown code")
		return 0, ErrSystemBusy
	}
}

// AddVoucher 激活一张券：主表 + 秒杀扩展表在一个事务内写入，
// 秒杀券随后把库存镜像预热进 Redis。
func (s *Service) AddVoucher(ctx context.Context, v *model.Voucher, stock int64, begin, end time.Time) error {
	if !end.After(begin) {
		return fmt.Errorf("end time must be after begin time")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(v).Error; err != nil {
			return err
		}
		if v.Type != model.VoucherTypeSeckill {
			return nil
		}
		return tx.Create(&model.SeckillVoucher{
			VoucherID: v.ID,
			Stock:     stock,
			BeginTime: begin,
			EndTime:   end,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("save voucher: %w", err)
	}

	if v.Type == model.VoucherTypeSeckill {
		return s.PrewarmStock(ctx, v.ID)
	}
	return nil
}

// PrewarmStock 把权威库存镜像写入 Redis。
// 键的 TTL 对齐活动结束时间：键缺失同时覆盖“未开售”和“已结束”，
// 脚本侧无需单独校验时间窗。
func (s *Service) PrewarmStock(ctx context.Context, voucherID int64) error {
	var sv model.SeckillVoucher
	if err := s.db.WithContext(ctx).First(&sv, "voucher_id = ?", voucherID).Error; err != nil {
		return fmt.Errorf("load seckill voucher %d: %w", voucherID, err)
	}

	ttl := time.Until(sv.EndTime)
	if ttl <= 0 {
		return fmt.Errorf("voucher %d sale window already closed", voucherID)
	}

	key := rediskey.SeckillStockKey(voucherID)
	if err := s.rdb.Set(ctx, key, sv.Stock, ttl).Err(); err != nil {
		return fmt.Errorf("prewarm stock %d: %w", voucherID, err)
	}
	s.log.Info().Int64("voucher_id", voucherID).Int64("stock", sv.Stock).Dur("ttl", ttl).Msg("stock prewarmed")
	return nil
}

// MirrorStock 查询快路径镜像库存；键缺失视为 0（未在售）。
func (s *Service) MirrorStock(ctx context.Context, voucherID int64) (int64, error) {
	val, err := s.rdb.Get(ctx, rediskey.SeckillStockKey(voucherID)).Int64()
	if err == rd.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("mirror stock %d: %w", voucherID, err)
	}
	return val, nil
}
