package seckill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"seckill/internal/idgen"
	"seckill/internal/model"
	"seckill/pkg/rediskey"
)

const testStream = "stream.orders"

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis, *rd.Client, *gorm.DB) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Voucher{}, &model.SeckillVoucher{}))

	svc := NewService(db, rdb, idgen.NewWorker(rdb), testStream, zerolog.Nop())
	return svc, mr, rdb, db
}

func prewarm(t *testing.T, rdb *rd.Client, voucherID, stock int64) {
	t.Helper()
	require.NoError(t, rdb.Set(context.Background(), rediskey.SeckillStockKey(voucherID), stock, time.Hour).Err())
}

func TestSeckillVoucherAccepted(t *testing.T) {
	svc, _, rdb, _ := newTestService(t)
	ctx := context.Background()
	prewarm(t, rdb, 1, 5)

	orderID, err := svc.SeckillVoucher(ctx, 1, 100)
	require.NoError(t, err)
	require.Greater(t, orderID, int64(0))

	stock, err := rdb.Get(ctx, rediskey.SeckillStockKey(1)).Int64()
	require.NoError(t, err)
	require.EqualValues(t, 4, stock)

	member, err := rdb.SIsMember(ctx, rediskey.SeckillOrderSetKey(1), "100").Result()
	require.NoError(t, err)
	require.True(t, member)

	n, err := rdb.XLen(ctx, testStream).Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestSeckillVoucherNotPrewarmed(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	// 镜像键缺失 = 未在售，按库存不足拒绝。
	_, err := svc.SeckillVoucher(context.Background(), 42, 100)
	require.ErrorIs(t, err, ErrOutOfStock)
}

func TestSeckillVoucherOutOfStock(t *testing.T) {
	svc, _, rdb, _ := newTestService(t)
	ctx := context.Background()
	prewarm(t, rdb, 1, 1)

	_, err := svc.SeckillVoucher(ctx, 1, 100)
	require.NoError(t, err)

	_, err = svc.SeckillVoucher(ctx, 1, 101)
	require.ErrorIs(t, err, ErrOutOfStock)
}

func TestSeckillVoucherDuplicateOrder(t *testing.T) {
	svc, _, rdb, _ := newTestService(t)
	ctx := context.Background()
	prewarm(t, rdb, 1, 5)

	_, err := svc.SeckillVoucher(ctx, 1, 100)
	require.NoError(t, err)

	_, err = svc.SeckillVoucher(ctx, 1, 100)
	require.ErrorIs(t, err, ErrDuplicateOrder)

	// 重复下单不得扣库存、不得追加消息。
	stock, err := rdb.Get(ctx, rediskey.SeckillStockKey(1)).Int64()
	require.NoError(t, err)
	require.EqualValues(t, 4, stock)

	n, err := rdb.XLen(ctx, testStream).Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestSeckillConcurrentDistinctUsers(t *testing.T) {
	svc, _, rdb, _ := newTestService(t)
	ctx := context.Background()

	const (
		stock = 5
		users = 20
	)
	prewarm(t, rdb, 1, stock)

	var accepted, rejected atomic.Int64
	var wg sync.WaitGroup
	wg.Add(users)
	for u := 1; u <= users; u++ {
		go func(userID int64) {
			defer wg.Done()
			_, err := svc.SeckillVoucher(ctx, 1, userID)
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, ErrOutOfStock):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(u))
	}
	wg.Wait()

	// S 份库存、N 个不同用户：恰好 S 个成功，其余库存不足。
	require.EqualValues(t, stock, accepted.Load())
	require.EqualValues(t, users-stock, rejected.Load())

	remaining, err := rdb.Get(ctx, rediskey.SeckillStockKey(1)).Int64()
	require.NoError(t, err)
	require.EqualValues(t, 0, remaining)

	n, err := rdb.XLen(ctx, testStream).Result()
	require.NoError(t, err)
	require.EqualValues(t, stock, n)
}

func TestSeckillConcurrentSameUser(t *testing.T) {
	svc, _, rdb, _ := newTestService(t)
	ctx := context.Background()
	prewarm(t, rdb, 1, 5)

	const attempts = 10
	var accepted, duplicated atomic.Int64
	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			_, err := svc.SeckillVoucher(ctx, 1, 100)
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, ErrDuplicateOrder):
				duplicated.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, accepted.Load())
	require.EqualValues(t, attempts-1, duplicated.Load())
}

func TestAddVoucherPrewarmsSeckillStock(t *testing.T) {
	svc, mr, rdb, db := newTestService(t)
	ctx := context.Background()

	v := &model.Voucher{ShopID: 1, Title: "100元代金券", Price: 8000, Type: model.VoucherTypeSeckill}
	begin := time.Now().Add(-time.Minute)
	end := time.Now().Add(time.Hour)
	require.NoError(t, svc.AddVoucher(ctx, v, 10, begin, end))
	require.Greater(t, v.ID, int64(0))

	var sv model.SeckillVoucher
	require.NoError(t, db.First(&sv, "voucher_id = ?", v.ID).Error)
	require.EqualValues(t, 10, sv.Stock)

	stock, err := rdb.Get(ctx, rediskey.SeckillStockKey(v.ID)).Int64()
	require.NoError(t, err)
	require.EqualValues(t, 10, stock)
	// 镜像键 TTL 对齐活动结束时间。
	require.Greater(t, mr.TTL(rediskey.SeckillStockKey(v.ID)), time.Duration(0))
}

func TestAddVoucherNormalTypeSkipsPrewarm(t *testing.T) {
	svc, mr, _, db := newTestService(t)
	ctx := context.Background()

	v := &model.Voucher{ShopID: 1, Title: "普通券", Price: 1000, Type: model.VoucherTypeNormal}
	require.NoError(t, svc.AddVoucher(ctx, v, 0, time.Now(), time.Now().Add(time.Hour)))

	var count int64
	require.NoError(t, db.Model(&model.SeckillVoucher{}).Count(&count).Error)
	require.EqualValues(t, 0, count)
	require.False(t, mr.Exists(rediskey.SeckillStockKey(v.ID)))
}
