package router

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"

	"seckill/internal/config"
	"seckill/internal/middleware"
	"seckill/internal/model"
	"seckill/internal/seckill"
	"seckill/internal/shop"
)

// 对外的拒绝原因枚举；用户可见的失败永远是短枚举，不是内部错误。
const (
	reasonOutOfStock     = "OUT_OF_STOCK"
	reasonDuplicateOrder = "DUPLICATE_ORDER"
	reasonSystemBusy     = "SYSTEM_BUSY"
)

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, rdb *rd.Client, sk *seckill.Service, shops *shop.Service, cfg config.AppConfig) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})

	// 秒杀准入（快路径）
	r.POST("/api/voucher/seckill/:voucher_id",
		middleware.RequireUser(),
		middleware.RedisRateLimit(rdb, cfg.BuyRateLimit, cfg.BuyRateWindow),
		seckillVoucher(sk))
	r.GET("/api/seckill/stock/:voucher_id", getMirrorStock(sk))

	// 激活与预热（管理员）
	r.POST("/api/voucher", addVoucher(sk, cfg.AdminToken))
	r.POST("/api/seckill/prewarm/:voucher_id", prewarmStock(sk, cfg.AdminToken))

	// 店铺读写（缓存旁路）
	r.GET("/api/shop/:id", getShop(shops))
	r.PUT("/api/shop", updateShop(shops))
}

// seckillVoucher 秒杀下单入口：准入即返回订单号，落库异步完成。
func seckillVoucher(sk *seckill.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		voucherID, err := strconv.ParseInt(c.Param("voucher_id"), 10, 64)
		if err != nil || voucherID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "invalid voucher id"})
			return
		}
		userID, ok := middleware.CurrentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "missing user identity"})
			return
		}

		orderID, err := sk.SeckillVoucher(c.Request.Context(), voucherID, userID)
		if err != nil {
			status, reason := http.StatusBadRequest, reasonSystemBusy
			switch {
			case errors.Is(err, seckill.ErrOutOfStock):
				reason = reasonOutOfStock
			case errors.Is(err, seckill.ErrDuplicateOrder):
				reason = reasonDuplicateOrder
			default:
				status = http.StatusInternalServerError
			}
			c.JSON(status, gin.H{"code": status, "data": gin.H{"accepted": false, "reason": reason}})
			return
		}

		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"accepted": true, "order_id": orderID}})
	}
}

// getMirrorStock 查询 Redis 中的实时镜像库存。
func getMirrorStock(sk *seckill.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		voucherID, err := strconv.ParseInt(c.Param("voucher_id"), 10, 64)
		if err != nil || voucherID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "invalid voucher id"})
			return
		}
		stock, err := sk.MirrorStock(c.Request.Context(), voucherID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": "query stock failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"stock": stock}})
	}
}

// addVoucher 激活一张券；秒杀券会同时预热 Redis 库存镜像。
func addVoucher(sk *seckill.Service, adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Admin-Token") != adminToken {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "invalid admin token"})
			return
		}

		var req struct {
			ShopID    int64  `json:"shop_id" binding:"required,min=1"`
			Title     string `json:"title" binding:"required"`
			Price     int64  `json:"price" binding:"required,min=1"`
			Type      int    `json:"type" binding:"omitempty,oneof=0 1"`
			Stock     int64  `json:"stock" binding:"omitempty,min=1"`
			BeginTime string `json:"begin_time"`
			EndTime   string `json:"end_time"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		var begin, end time.Time
		if req.Type == model.VoucherTypeSeckill {
			var err error
			begin, err = time.Parse(time.RFC3339, req.BeginTime)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "begin_time must be RFC3339"})
				return
			}
			end, err = time.Parse(time.RFC3339, req.EndTime)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "end_time must be RFC3339"})
				return
			}
			if req.Stock <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "seckill voucher requires stock"})
				return
			}
		}

		v := &model.Voucher{
			ShopID: req.ShopID,
			Title:  req.Title,
			Price:  req.Price,
			Type:   req.Type,
		}
		if err := sk.AddVoucher(c.Request.Context(), v, req.Stock, begin, end); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": v})
	}
}

// prewarmStock 重新把 DB 权威库存预热到 Redis（运维动作）。
func prewarmStock(sk *seckill.Service, adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Admin-Token") != adminToken {
			c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "invalid admin token"})
			return
		}
		voucherID, err := strconv.ParseInt(c.Param("voucher_id"), 10, 64)
		if err != nil || voucherID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "invalid voucher id"})
			return
		}
		if err := sk.PrewarmStock(c.Request.Context(), voucherID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "stock prewarmed"})
	}
}

// getShop 店铺详情，读走缓存旁路。
func getShop(shops *shop.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "invalid shop id"})
			return
		}
		s, err := shops.QueryByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": "query shop failed"})
			return
		}
		if s == nil {
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "shop not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": s})
	}
}

// updateShop 更新店铺并删除缓存键。
func updateShop(shops *shop.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var s model.Shop
		if err := c.ShouldBindJSON(&s); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		if err := shops.Update(c.Request.Context(), &s); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "ok"})
	}
}
