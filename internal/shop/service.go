package shop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"seckill/internal/cache"
	"seckill/internal/model"
	"seckill/pkg/rediskey"
)

// Service 店铺读写服务：读走缓存旁路层，写先落库再删缓存。
type Service struct {
	db    *gorm.DB
	cache *cache.Client
	log   zerolog.Logger
}

func NewService(db *gorm.DB, c *cache.Client, log zerolog.Logger) *Service {
	return &Service{
		db:    db,
		cache: c,
		log:   log.With().Str("component", "shop").Logger(),
	}
}

// QueryByID 默认走互斥重建策略：热点键过期时至多一个请求回源。
// 返回 (nil, nil) 表示店铺确认不存在（含空值标记命中）。
func (s *Service) QueryByID(ctx context.Context, id int64) (*model.Shop, error) {
	return cache.QueryWithMutex(ctx, s.cache,
		rediskey.CacheShopKey(id), rediskey.LockShopKey(id), rediskey.CacheShopTTL,
		s.fetchByID(id))
}

// QueryByIDPassThrough 直读回源版本，留给低争用调用方。
func (s *Service) QueryByIDPassThrough(ctx context.Context, id int64) (*model.Shop, error) {
	return cache.QueryWithPassThrough(ctx, s.cache,
		rediskey.CacheShopKey(id), rediskey.CacheShopTTL,
		s.fetchByID(id))
}

// QueryByIDLogicalExpire 逻辑过期版本：只用于预热过的热点店铺，
// 读到过期数据也立即返回，由后台异步刷新。
func (s *Service) QueryByIDLogicalExpire(ctx context.Context, id int64) (*model.Shop, error) {
	return cache.QueryWithLogicalExpire(ctx, s.cache,
		rediskey.CacheShopKey(id), rediskey.LockShopKey(id), rediskey.CacheShopTTL,
		s.fetchByID(id))
}

// WarmCache 为逻辑过期策略预热一个热点店铺。
func (s *Service) WarmCache(ctx context.Context, id int64, ttl time.Duration) error {
	var shop model.Shop
	if err := s.db.WithContext(ctx).First(&shop, id).Error; err != nil {
		return fmt.Errorf("load shop %d: %w", id, err)
	}
	return s.cache.SetWithLogicalExpire(ctx, rediskey.CacheShopKey(id), &shop, ttl)
}

// Update 更新店铺：同一逻辑操作内先写库、再删缓存键（不覆写），
// 下一次读从权威数据源重建。
func (s *Service) Update(ctx context.Context, shop *model.Shop) error {
	if shop.ID == 0 {
		return fmt.Errorf("shop id is required")
	}
	if err := s.db.WithContext(ctx).Model(&model.Shop{ID: shop.ID}).Updates(shop).Error; err != nil {
		return fmt.Errorf("update shop %d: %w", shop.ID, err)
	}
	if err := s.cache.Delete(ctx, rediskey.CacheShopKey(shop.ID)); err != nil {
		return fmt.Errorf("invalidate shop cache %d: %w", shop.ID, err)
	}
	return nil
}

// fetchByID 回源函数：记录不存在返回 (nil, nil)，由缓存层写空值标记。
func (s *Service) fetchByID(id int64) func(ctx context.Context) (*model.Shop, error) {
	return func(ctx context.Context) (*model.Shop, error) {
		var shop model.Shop
		err := s.db.WithContext(ctx).First(&shop, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &shop, nil
	}
}
