package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string
	DBPath   string

	RedisAddr string
	RedisDB   int

	// 订单流（Redis Stream）与消费者组；每个进程实例一个固定消费者名。
	OrderStream   string
	OrderGroup    string
	OrderConsumer string

	// Kafka 集群地址（逗号分隔）与订单事件 Topic（落库成功后对外广播）。
	KafkaBrokers []string
	KafkaTopic   string

	// 秒杀接口限流与缓存重建线程数
	BuyRateLimit        int
	BuyRateWindow       time.Duration
	CacheRebuildWorkers int

	// 预热/激活接口的简单管理员令牌（demo 级别保护）
	AdminToken string
}

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		DBPath:              getEnv("DB_PATH", "seckill.db"),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:             0,
		OrderStream:         getEnv("ORDER_STREAM", "stream.orders"),
		OrderGroup:          getEnv("ORDER_GROUP", "g1"),
		OrderConsumer:       getEnv("ORDER_CONSUMER", "c1"),
		KafkaBrokers:        splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:          getEnv("KAFKA_TOPIC", "seckill-order-created"),
		BuyRateLimit:        1000,
		BuyRateWindow:       time.Second,
		CacheRebuildWorkers: 10,
		AdminToken:          getEnv("ADMIN_TOKEN", "dev-admin-token"),
	}

	redisDB, err := getEnvInt("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = redisDB

	rateLimit, err := getEnvInt("BUY_RATE_LIMIT", cfg.BuyRateLimit)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid BUY_RATE_LIMIT: %w", err)
	}
	if rateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("BUY_RATE_LIMIT must be > 0")
	}
	cfg.BuyRateLimit = rateLimit

	rateWindowSec, err := getEnvInt("BUY_RATE_WINDOW_SEC", int(cfg.BuyRateWindow.Seconds()))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid BUY_RATE_WINDOW_SEC: %w", err)
	}
	if rateWindowSec <= 0 {
		return AppConfig{}, fmt.Errorf("BUY_RATE_WINDOW_SEC must be > 0")
	}
	cfg.BuyRateWindow = time.Duration(rateWindowSec) * time.Second

	workers, err := getEnvInt("CACHE_REBUILD_WORKERS", cfg.CacheRebuildWorkers)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid CACHE_REBUILD_WORKERS: %w", err)
	}
	if workers <= 0 {
		return AppConfig{}, fmt.Errorf("CACHE_REBUILD_WORKERS must be > 0")
	}
	cfg.CacheRebuildWorkers = workers

	if cfg.OrderStream == "" {
		return AppConfig{}, fmt.Errorf("ORDER_STREAM must not be empty")
	}
	if cfg.OrderGroup == "" {
		return AppConfig{}, fmt.Errorf("ORDER_GROUP must not be empty")
	}
	if cfg.OrderConsumer == "" {
		return AppConfig{}, fmt.Errorf("ORDER_CONSUMER must not be empty")
	}
	if len(cfg.KafkaBrokers) == 0 {
		return AppConfig{}, fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	if cfg.KafkaTopic == "" {
		return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty")
	}

	return cfg, nil
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
