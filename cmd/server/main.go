package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"seckill/internal/cache"
	"seckill/internal/config"
	"seckill/internal/idgen"
	"seckill/internal/model"
	"seckill/internal/order"
	"seckill/internal/queue"
	"seckill/internal/router"
	"seckill/internal/seckill"
	"seckill/internal/shop"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	// 1. SQLite 作为权威后备存储，自动建表
	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{})
	if err != nil {
		logger.Fatal().Err(err).Msg("db open")
	}
	if err := db.AutoMigrate(
		&model.Shop{},
		&model.Voucher{},
		&model.SeckillVoucher{},
		&model.VoucherOrder{},
	); err != nil {
		logger.Fatal().Err(err).Msg("db migrate")
	}

	// 2. Redis 共享存储：准入脚本、订单流、缓存、锁、ID 生成全在这里
	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		logger.Fatal().Err(err).Msg("redis ping")
	}
	cancelPing()

	idWorker := idgen.NewWorker(rdb)
	orderSvc := order.NewService(db, rdb, logger)
	producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	cacheClient := cache.NewClient(rdb, cfg.CacheRebuildWorkers, logger)
	shopSvc := shop.NewService(db, cacheClient, logger)
	seckillSvc := seckill.NewService(db, rdb, idWorker, cfg.OrderStream, logger)

	// 3. 每进程一个订单物化消费者
	consumer := queue.NewConsumer(rdb, orderSvc, producer,
		cfg.OrderStream, cfg.OrderGroup, cfg.OrderConsumer, logger)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		consumer.Run(ctx)
	}()

	r := gin.Default()
	router.Setup(r, rdb, seckillSvc, shopSvc, cfg)

	// 4. 优雅关停：先停 HTTP，再停消费者，最后释放资源
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// 不能 Fatal：直接退出会跳过消费者停机与资源释放，走同一条关停路径。
			logger.Error().Err(err).Msg("http server")
			stop <- syscall.SIGTERM
		}
	}()

	<-stop
	logger.Info().Msg("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}

	cancel()
	wg.Wait()

	if err := producer.Close(); err != nil {
		logger.Error().Err(err).Msg("close kafka producer")
	}
	cacheClient.Close()
	if err := rdb.Close(); err != nil {
		logger.Error().Err(err).Msg("close redis")
	}
	logger.Info().Msg("bye")
}
