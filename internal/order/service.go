package order

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"seckill/internal/model"
	"seckill/pkg/rediskey"
	"seckill/pkg/redislock"
)

// ErrUserLocked 表示按用户互斥锁被占用。调用方（流消费者）不应就地重试，
// 保持消息 pending，交给重投递。
var ErrUserLocked = errors.New("user commit lock busy")

// Service 落库路径：在准入脚本之外的兜底防线。
// 效果幂等：对已物化订单的二次提交是安全空操作。
type Service struct {
	db  *gorm.DB
	rdb *rd.Client
	log zerolog.Logger

	// stockRaces 记录“准入预留了但 DB 扣减失败”的一致性缺口次数，供告警用。
	stockRaces atomic.Int64
}

func NewService(db *gorm.DB, rdb *rd.Client, log zerolog.Logger) *Service {
	return &Service{
		db:  db,
		rdb: rdb,
		log: log.With().Str("component", "order").Logger(),
	}
}

// CreateVoucherOrder 把一条已准入的订单物化到数据库：
// 1) 按用户抢非阻塞分布式锁，抢不到直接放弃本次尝试
// 2) 锁内复查 (user, voucher) 是否已有订单（幂等短路）
// 3) 条件扣减权威库存（stock > 0）
// 4) 落订单行
// 锁的释放走 defer，任何退出路径都会执行。
func (s *Service) CreateVoucherOrder(ctx context.Context, o model.VoucherOrder) error {
	lock := redislock.New(s.rdb, rediskey.OrderLockKey(o.UserID), rediskey.OrderLockTTL)
	ok, err := lock.TryLock(ctx)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Warn().Int64("user_id", o.UserID).Msg("commit lock busy, leaving message pending")
		return ErrUserLocked
	}
	defer func() {
		// 用不带取消的 context 释放，保证关停路径上也能删锁。
		if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
			s.log.Error().Err(err).Int64("user_id", o.UserID).Msg("release commit lock")
		}
	}()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 幂等短路：重投递的消息已经物化过。
		var count int64
		if err := tx.Model(&model.VoucherOrder{}).
			Where("user_id = ? AND voucher_id = ?", o.UserID, o.VoucherID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			s.log.Debug().Int64("order_id", o.ID).Msg("order already materialized, skip")
			return nil
		}

		// 乐观条件扣减：0 行受影响说明权威库存兑现不了准入时的预留。
		res := tx.Model(&model.SeckillVoucher{}).
			Where("voucher_id = ? AND stock > 0", o.VoucherID).
			UpdateColumn("stock", gorm.Expr("stock - 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			n := s.stockRaces.Add(1)
			s.log.Warn().
				Int64("order_id", o.ID).
				Int64("voucher_id", o.VoucherID).
				Int64("stock_race_total", n).
				Msg("backing stock could not honor admitted order, dropping")
			return nil
		}

		if err := tx.Create(&o).Error; err != nil {
			// 跨进程并发穿过了锁与复查时由唯一索引兜底；
			// 返回错误回滚本事务的扣减，避免为同一单扣两次。
			if errorsLikeUnique(err) {
				return errAlreadyMaterialized
			}
			return err
		}
		return nil
	})
	if errors.Is(err, errAlreadyMaterialized) {
		s.log.Debug().Int64("order_id", o.ID).Msg("unique index hit, order exists")
		return nil
	}
	return err
}

// errAlreadyMaterialized 仅用于让事务回滚后对外表现为幂等成功。
var errAlreadyMaterialized = errors.New("order already materialized")

// StockRaceCount 返回累计的库存竞态次数，供监控面板/测试读取。
func (s *Service) StockRaceCount() int64 {
	return s.stockRaces.Load()
}

func errorsLikeUnique(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE") || strings.Contains(s, "unique")
}
