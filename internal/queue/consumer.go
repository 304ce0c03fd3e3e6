package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"seckill/internal/model"
)

// Committer 是落库路径的最小接口（幂等提交一条已准入订单）。
type Committer interface {
	CreateVoucherOrder(ctx context.Context, o model.VoucherOrder) error
}

// Consumer 订单物化消费者：每进程一个，经消费者组读取订单流，
// 驱动落库后再 ACK；处理异常时转入 pending-list 恢复循环。
type Consumer struct {
	rdb       *rd.Client
	committer Committer
	producer  *Producer // 可为 nil：订单事件广播是可选旁路

	stream   string
	group    string
	consumer string

	// Block 主循环阻塞读的上限，零值时用默认 2s。
	Block time.Duration

	log zerolog.Logger
}

func NewConsumer(rdb *rd.Client, committer Committer, producer *Producer, stream, group, consumer string, log zerolog.Logger) *Consumer {
	return &Consumer{
		rdb:       rdb,
		committer: committer,
		producer:  producer,
		stream:    stream,
		group:     group,
		consumer:  consumer,
		log:       log.With().Str("component", "order-consumer").Str("consumer", consumer).Logger(),
	}
}

// Run 阻塞运行消费主循环，直到 ctx 取消。
// 关停路径上的连接中断按干净退出处理，不算错误。
func (c *Consumer) Run(ctx context.Context) {
	if err := c.ensureGroup(ctx); err != nil {
		c.log.Error().Err(err).Msg("ensure consumer group")
		return
	}

	// 启动先重放 pending：上次进程在 ACK 前崩溃的消息只存在于本消费者的
	// PEL 里，">" 永远读不到它，不主动从 "0" 清一遍就会永久悬挂。
	c.recoverPending(ctx)

	block := c.Block
	if block <= 0 {
		block = 2 * time.Second
	}

	for ctx.Err() == nil {
		msgs, err := c.readGroup(ctx, ">", block)
		if err != nil {
			if isShutdown(ctx, err) {
				return
			}
			c.log.Error().Err(err).Msg("read stream, falling back to pending list")
			c.recoverPending(ctx)
			sleepQuietly(ctx, 50*time.Millisecond)
			continue
		}

		for _, xm := range msgs {
			if err := c.processOne(ctx, xm); err != nil {
				if isShutdown(ctx, err) {
					return
				}
				c.log.Error().Err(err).Str("msg_id", xm.ID).Msg("process order, falling back to pending list")
				c.recoverPending(ctx)
				sleepQuietly(ctx, 50*time.Millisecond)
				break
			}
		}
	}
}

// recoverPending 从头重放本消费者未 ACK 的积压，直至清空。
// 重放与主循环共用同一套 脏消息检查 / 落库 / ACK 流程。
func (c *Consumer) recoverPending(ctx context.Context) {
	for ctx.Err() == nil {
		msgs, err := c.readGroup(ctx, "0", -1)
		if err != nil {
			if isShutdown(ctx, err) {
				return
			}
			c.log.Error().Err(err).Msg("read pending list")
			sleepQuietly(ctx, 50*time.Millisecond)
			continue
		}
		if len(msgs) == 0 {
			return
		}

		for _, xm := range msgs {
			if err := c.processOne(ctx, xm); err != nil {
				if isShutdown(ctx, err) {
					return
				}
				c.log.Error().Err(err).Str("msg_id", xm.ID).Msg("process pending order")
				sleepQuietly(ctx, 50*time.Millisecond)
				break
			}
		}
	}
}

// processOne 处理一条消息：脏消息 ACK 丢弃；正常消息先落库、成功后才 ACK；
// 落库失败不 ACK，消息保持 pending 等待重放。
func (c *Consumer) processOne(ctx context.Context, xm rd.XMessage) error {
	msg, err := parseOrderMessage(xm.Values)
	if err != nil {
		// 初始化哨兵或字段残缺的消息：记录并清理，绝不入库。
		c.log.Warn().Err(err).Str("msg_id", xm.ID).Msg("malformed stream message, ack and discard")
		return c.ack(ctx, xm.ID)
	}

	o := model.VoucherOrder{
		ID:        msg.ID,
		UserID:    msg.UserID,
		VoucherID: msg.VoucherID,
		Status:    model.OrderStatusUnpaid,
	}
	if err := c.committer.CreateVoucherOrder(ctx, o); err != nil {
		return err
	}
	if err := c.ack(ctx, xm.ID); err != nil {
		return err
	}

	// 订单事件广播是尽力而为：发布失败只记日志，不得影响已完成的 ACK。
	if c.producer != nil {
		pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := c.producer.Publish(pubCtx, msg); err != nil {
			c.log.Error().Err(err).Int64("order_id", msg.ID).Msg("publish order-created event")
		}
	}
	return nil
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (c *Consumer) readGroup(ctx context.Context, streamID string, block time.Duration) ([]rd.XMessage, error) {
	streams, err := c.rdb.XReadGroup(ctx, &rd.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, streamID},
		Count:    1,
		Block:    block,
		NoAck:    false,
	}).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]rd.XMessage, 0, 1)
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (c *Consumer) ack(ctx context.Context, id string) error {
	pipe := c.rdb.TxPipeline()
	pipe.XAck(ctx, c.stream, c.group, id)
	pipe.XDel(ctx, c.stream, id)
	_, err := pipe.Exec(ctx)
	return err
}

// isShutdown 判断错误是否由进程关停引起（ctx 取消或连接被关闭）。
func isShutdown(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, rd.ErrClosed)
}

func sleepQuietly(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
